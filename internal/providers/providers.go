package providers

import "context"

// ComputeType distinguishes the kinds of compute resources a backend exposes.
type ComputeType string

const (
	TypeNode  ComputeType = "NODE"
	TypeImage ComputeType = "IMAGE"
	TypeSize  ComputeType = "SIZE"
)

// NodeState is the lifecycle state of a node as reported by its backend.
type NodeState string

const (
	StatePending    NodeState = "PENDING"
	StateRunning    NodeState = "RUNNING"
	StateSuspended  NodeState = "SUSPENDED"
	StateTerminated NodeState = "TERMINATED"
	StateError      NodeState = "ERROR"
	StateUnknown    NodeState = "UNKNOWN"
)

// Resource is the identity shared by every compute object.
type Resource struct {
	ID       string            `json:"id" yaml:"id"`
	Type     ComputeType       `json:"type" yaml:"type"`
	Name     string            `json:"name" yaml:"name"`
	Location string            `json:"location" yaml:"location"`
	Extra    map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Identity returns r itself so that Resource satisfies ComputeMetadata.
func (r Resource) Identity() Resource { return r }

// ComputeMetadata is anything a backend lists: a bare Resource that still
// needs hydration, or a fully populated *NodeMetadata.
type ComputeMetadata interface {
	Identity() Resource
}

// Credentials is the login identity of a node. Secrets are only present on
// freshly created nodes.
type Credentials struct {
	User          string `json:"user"`
	Password      string `json:"password,omitempty"`
	PrivateKey    string `json:"private_key,omitempty"`
	AuthorizedKey string `json:"authorized_key,omitempty"`
}

// NodeMetadata is the full view of one node. It is never mutated after a
// strategy returns it; callers re-fetch to observe new state.
type NodeMetadata struct {
	Resource
	Tag              string       `json:"tag"`
	State            NodeState    `json:"state"`
	PublicAddresses  []string     `json:"public_addresses"`
	PrivateAddresses []string     `json:"private_addresses"`
	Credentials      *Credentials `json:"credentials,omitempty"`
}

type Image struct {
	Resource
	OSFamily     string `json:"os_family"`
	Version      string `json:"version"`
	Description  string `json:"description"`
	Architecture string `json:"architecture"`
}

type Size struct {
	Resource
	Cores         float64  `json:"cores"`
	RAM           int      `json:"ram_mb"`
	Disk          int      `json:"disk_gb"`
	Architectures []string `json:"architectures"`
}

type Location struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Scope       string `json:"scope"`
	Parent      string `json:"parent,omitempty"`
}

// TemplateOptions carries run options that are not part of image/size/location.
type TemplateOptions struct {
	DestroyOnError     bool
	AuthorizePublicKey string
	Labels             map[string]string
}

// Template is the immutable recipe for new nodes.
type Template struct {
	Image    Image
	Size     Size
	Location *Location
	Options  TemplateOptions
}

// CreateFunc creates one node. A nil error means the node is running.
type CreateFunc func(ctx context.Context) (*NodeMetadata, error)

type ListNodesStrategy interface {
	ListNodes(ctx context.Context) ([]ComputeMetadata, error)
}

// GetNodeMetadataStrategy returns nil, nil when the backend no longer knows the node.
type GetNodeMetadataStrategy interface {
	GetNodeMetadata(ctx context.Context, node ComputeMetadata) (*NodeMetadata, error)
}

// RunNodesStrategy returns one deferred creation unit per requested node,
// keyed by slot. It must not block on the creations themselves.
type RunNodesStrategy interface {
	RunNodesWithTag(ctx context.Context, tag string, count int, template Template) (map[string]CreateFunc, error)
}

// AddNodeWithTagStrategy creates a single named node and waits until it runs.
type AddNodeWithTagStrategy interface {
	AddNodeWithTag(ctx context.Context, tag, name string, template Template) (*NodeMetadata, error)
}

type RebootNodeStrategy interface {
	RebootNode(ctx context.Context, node ComputeMetadata) (bool, error)
}

// DestroyNodeStrategy returns false when the node was already gone.
type DestroyNodeStrategy interface {
	DestroyNode(ctx context.Context, node ComputeMetadata) (bool, error)
}

// StrategySet is the full set of backend operations one orchestrator drives.
// Each field can come from a different implementation.
type StrategySet struct {
	List    ListNodesStrategy
	Get     GetNodeMetadataStrategy
	Run     RunNodesStrategy
	Reboot  RebootNodeStrategy
	Destroy DestroyNodeStrategy
}

// Catalog lists what a backend offers to build templates from.
type Catalog interface {
	Images(ctx context.Context) (map[string]Image, error)
	Sizes(ctx context.Context) (map[string]Size, error)
	Locations(ctx context.Context) (map[string]Location, error)
}

// Provider is a named backend: its strategies and its catalog.
type Provider struct {
	Name       string
	Strategies StrategySet
	Catalog    Catalog
	// Close releases backend resources, may be nil.
	Close func() error
}
