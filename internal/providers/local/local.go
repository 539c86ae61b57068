// Package local simulates a compute backend on a SQLite file. It needs no
// account and is what the CLI falls back to when no cloud is configured.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
	gssh "github.com/3cpo-dev/flotilla/internal/ssh"
)

// Name is the registry key of this backend.
const Name = "local"

const defaultLocation = "local1"

// Backend keeps simulated nodes in a Store.
type Backend struct {
	store    *Store
	log      zerolog.Logger
	naming   prov.Naming
	user     string
	location string
	latency  time.Duration
}

// New opens the store at path. Use ":memory:" for a throwaway backend.
func New(path string, cfg prov.Config, log zerolog.Logger) (*Backend, error) {
	store, err := NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	b := &Backend{
		store:    store,
		log:      log,
		naming:   prov.NewNaming(cfg.Defaults.NamingPrefix),
		user:     cfg.Defaults.User,
		location: cfg.Providers.Local.Location,
		latency:  time.Duration(cfg.Providers.Local.LatencyMS) * time.Millisecond,
	}
	if b.user == "" {
		b.user = "fl"
	}
	if b.location == "" {
		b.location = defaultLocation
	}
	return b, nil
}

// DefaultPath is the store used when the config names none.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "flotilla", "local.db")
}

// Factory registers the backend with a providers.Registry.
func Factory(cfg prov.Config, log zerolog.Logger) (*prov.Provider, error) {
	path := cfg.Providers.Local.Path
	if path == "" {
		path = DefaultPath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create local store dir: %w", err)
		}
	}
	b, err := New(path, cfg, log.With().Str("provider", Name).Logger())
	if err != nil {
		return nil, err
	}
	return b.Provider(), nil
}

// Provider exposes the backend as a strategy set plus catalog.
func (b *Backend) Provider() *prov.Provider {
	return &prov.Provider{
		Name: Name,
		Strategies: prov.StrategySet{
			List:    b,
			Get:     b,
			Run:     prov.NewRunNodesStrategy(b, b, b.naming),
			Reboot:  b,
			Destroy: b,
		},
		Catalog: b,
		Close:   b.store.Close,
	}
}

// ListNodes returns bare identities; callers hydrate them through GetNodeMetadata.
func (b *Backend) ListNodes(ctx context.Context) ([]prov.ComputeMetadata, error) {
	rows, err := b.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]prov.ComputeMetadata, 0, len(rows))
	for _, r := range rows {
		out = append(out, prov.Resource{ID: r.ID, Type: prov.TypeNode, Name: r.Name, Location: r.Location})
	}
	return out, nil
}

func (b *Backend) GetNodeMetadata(ctx context.Context, node prov.ComputeMetadata) (*prov.NodeMetadata, error) {
	r, err := b.store.Get(ctx, node.Identity().ID)
	if err != nil || r == nil {
		return nil, err
	}
	return toNode(r, nil), nil
}

// AddNodeWithTag records a pending node, waits out the simulated boot and
// marks it running.
func (b *Backend) AddNodeWithTag(ctx context.Context, tag, name string, tpl prov.Template) (*prov.NodeMetadata, error) {
	if tpl.Location == nil {
		return nil, prov.Invalid("template.location", "", "location is required")
	}
	creds, err := gssh.CredentialsFor(b.user, tpl.Options.AuthorizePublicKey)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	r := nodeRow{
		ID:            id.String(),
		Name:          name,
		Tag:           tag,
		State:         string(prov.StatePending),
		Location:      tpl.Location.ID,
		Image:         tpl.Image.ID,
		Size:          tpl.Size.ID,
		PublicIP:      fmt.Sprintf("192.0.2.%d", int(id[15])%254+1),
		PrivateIP:     fmt.Sprintf("10.%d.%d.%d", id[13], id[14], int(id[15])%254+1),
		User:          creds.User,
		AuthorizedKey: creds.AuthorizedKey,
		CreatedAt:     time.Now(),
	}
	if err := b.store.Insert(ctx, r); err != nil {
		return nil, err
	}

	b.log.Debug().Str("node", r.ID).Str("name", name).Msg("Booting simulated node")
	if err := b.boot(ctx); err != nil {
		return nil, &prov.OrphanError{NodeID: r.ID, Err: err}
	}
	if _, err := b.store.SetState(ctx, r.ID, string(prov.StateRunning)); err != nil {
		return nil, &prov.OrphanError{NodeID: r.ID, Err: err}
	}
	r.State = string(prov.StateRunning)
	return toNode(&r, creds), nil
}

// RebootNode reports false for nodes that are gone or terminated.
func (b *Backend) RebootNode(ctx context.Context, node prov.ComputeMetadata) (bool, error) {
	r, err := b.store.Get(ctx, node.Identity().ID)
	if err != nil || r == nil {
		return false, err
	}
	if prov.NodeState(r.State) == prov.StateTerminated {
		return false, nil
	}
	if _, err := b.store.SetState(ctx, r.ID, string(prov.StatePending)); err != nil {
		return false, err
	}
	if err := b.boot(ctx); err != nil {
		return false, err
	}
	return b.store.SetState(ctx, r.ID, string(prov.StateRunning))
}

// DestroyNode reports false when the node was already gone.
func (b *Backend) DestroyNode(ctx context.Context, node prov.ComputeMetadata) (bool, error) {
	return b.store.Delete(ctx, node.Identity().ID)
}

func (b *Backend) boot(ctx context.Context) error {
	if b.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("simulated boot interrupted: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func toNode(r *nodeRow, creds *prov.Credentials) *prov.NodeMetadata {
	n := &prov.NodeMetadata{
		Resource: prov.Resource{
			ID:       r.ID,
			Type:     prov.TypeNode,
			Name:     r.Name,
			Location: r.Location,
			Extra: map[string]string{
				"image":      r.Image,
				"size":       r.Size,
				"created_at": r.CreatedAt.UTC().Format(time.RFC3339),
			},
		},
		Tag:              r.Tag,
		State:            prov.NodeState(r.State),
		PublicAddresses:  []string{r.PublicIP},
		PrivateAddresses: []string{r.PrivateIP},
		Credentials:      creds,
	}
	if n.Credentials == nil && r.User != "" {
		n.Credentials = &prov.Credentials{User: r.User, AuthorizedKey: r.AuthorizedKey}
	}
	return n
}

// Images is the fixed set of simulated images.
func (b *Backend) Images(ctx context.Context) (map[string]prov.Image, error) {
	out := map[string]prov.Image{}
	for _, img := range []prov.Image{
		{OSFamily: "ubuntu", Version: "24.04", Description: "Ubuntu 24.04", Architecture: "x86"},
		{OSFamily: "ubuntu", Version: "22.04", Description: "Ubuntu 22.04", Architecture: "x86"},
		{OSFamily: "debian", Version: "12", Description: "Debian 12", Architecture: "x86"},
	} {
		id := img.OSFamily + "-" + img.Version
		img.Resource = prov.Resource{ID: id, Type: prov.TypeImage, Name: id}
		out[id] = img
	}
	return out, nil
}

// Sizes is the fixed set of simulated sizes.
func (b *Backend) Sizes(ctx context.Context) (map[string]prov.Size, error) {
	out := map[string]prov.Size{}
	for _, s := range []prov.Size{
		{Resource: prov.Resource{ID: "small"}, Cores: 1, RAM: 1024, Disk: 10},
		{Resource: prov.Resource{ID: "medium"}, Cores: 2, RAM: 4096, Disk: 40},
		{Resource: prov.Resource{ID: "large"}, Cores: 8, RAM: 16384, Disk: 160},
	} {
		s.Type = prov.TypeSize
		s.Name = s.ID
		s.Architectures = []string{"x86"}
		out[s.ID] = s
	}
	return out, nil
}

// Locations offers the single configured location.
func (b *Backend) Locations(ctx context.Context) (map[string]prov.Location, error) {
	return map[string]prov.Location{
		b.location: {ID: b.location, Description: "Local simulation", Scope: "ZONE"},
	}, nil
}
