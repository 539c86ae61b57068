package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
	"github.com/3cpo-dev/flotilla/internal/telemetry"
)

// ComputeService runs bulk lifecycle operations against one backend.
type ComputeService struct {
	strategies prov.StrategySet
	exec       *Executor
	log        zerolog.Logger
	metrics    *telemetry.Collector

	images    *Memoized[map[string]prov.Image]
	sizes     *Memoized[map[string]prov.Size]
	locations *Memoized[map[string]prov.Location]
}

type options struct {
	log         zerolog.Logger
	concurrency int
	unitTimeout time.Duration
	catalogTTL  time.Duration
	metrics     *telemetry.Collector
}

// Option configures a ComputeService.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// WithConcurrency bounds how many units run at once.
func WithConcurrency(n int) Option { return func(o *options) { o.concurrency = n } }

// WithUnitTimeout bounds each asynchronous unit. Zero means no bound.
func WithUnitTimeout(d time.Duration) Option { return func(o *options) { o.unitTimeout = d } }

// WithCatalogTTL makes catalogs reload once they are older than d. Zero
// keeps them for the lifetime of the service.
func WithCatalogTTL(d time.Duration) Option { return func(o *options) { o.catalogTTL = d } }

// WithMetrics records operations on c.
func WithMetrics(c *telemetry.Collector) Option { return func(o *options) { o.metrics = c } }

// New builds a ComputeService over a provider's strategies and catalog.
func New(p *prov.Provider, opts ...Option) (*ComputeService, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	s := p.Strategies
	if s.List == nil || s.Get == nil || s.Run == nil || s.Reboot == nil || s.Destroy == nil {
		return nil, fmt.Errorf("provider %s: incomplete strategy set", p.Name)
	}

	o := options{log: zerolog.Nop(), concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}

	svc := &ComputeService{
		strategies: s,
		exec:       NewExecutor(o.concurrency, o.unitTimeout),
		log:        o.log.With().Str("provider", p.Name).Logger(),
		metrics:    o.metrics,
	}
	cat := p.Catalog
	if cat == nil {
		cat = emptyCatalog{}
	}
	svc.images = NewMemoized(cat.Images, o.catalogTTL)
	svc.sizes = NewMemoized(cat.Sizes, o.catalogTTL)
	svc.locations = NewMemoized(cat.Locations, o.catalogTTL)
	return svc, nil
}

// RunNodesWithTag creates count nodes under tag. It returns the nodes that
// came up, indexed by id. When some units fail the error is an
// *AggregateFailure and, if the template asks for it, nodes already
// allocated for the failed slots are destroyed.
func (s *ComputeService) RunNodesWithTag(ctx context.Context, tag string, count int, tpl prov.Template) (result map[string]*prov.NodeMetadata, err error) {
	if err := prov.ValidateTag(tag); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, prov.Invalid("count", fmt.Sprint(count), "must be at least 1")
	}
	if tpl.Location == nil || tpl.Location.ID == "" {
		return nil, prov.Invalid("template.location", "", "location is required")
	}
	defer s.observe("run_nodes", time.Now(), &err)

	s.log.Debug().
		Int("count", count).
		Str("tag", tag).
		Str("location", tpl.Location.ID).
		Str("image", tpl.Image.ID).
		Str("size", tpl.Size.ID).
		Bool("destroy_on_error", tpl.Options.DestroyOnError).
		Msg(">> running nodes")

	units, err := s.strategies.Run.RunNodesWithTag(ctx, tag, count, tpl)
	if err != nil {
		return nil, &prov.BackendError{Op: "run nodes", Key: tag, Err: err}
	}

	handles := make([]*Handle[*prov.NodeMetadata], 0, len(units))
	for key, create := range units {
		handles = append(handles, Submit(s.exec, ctx, key, func(ctx context.Context) (*prov.NodeMetadata, error) {
			n, err := create(ctx)
			if err == nil && (n == nil || n.ID == "") {
				err = errors.New("backend returned no node")
			}
			return n, err
		}))
	}
	created, failures := await(s, "starting nodes", handles)

	result = make(map[string]*prov.NodeMetadata, len(created))
	for _, n := range created {
		result[n.ID] = n
	}
	s.log.Debug().Str("tag", tag).Int("running", len(result)).Int("failed", len(failures)).Msg("<< running nodes")

	if len(failures) == 0 {
		return result, nil
	}
	if tpl.Options.DestroyOnError {
		s.compensate(context.WithoutCancel(ctx), failures)
	}
	return result, &AggregateFailure{Label: "starting nodes", Total: len(handles), Failures: failures}
}

// compensate destroys the backend nodes behind failed creation slots. A slot
// is matched by the id its unit reported, else by its key, which is either a
// backend id or the name the slot's node was created under. Slots that never
// got a backend node cannot be compensated and are only logged.
func (s *ComputeService) compensate(ctx context.Context, failures FailureMap) {
	listed, err := s.strategies.List.ListNodes(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("<< cannot list nodes for compensation")
		return
	}
	byID := make(map[string]prov.ComputeMetadata, len(listed))
	byName := make(map[string]prov.ComputeMetadata, len(listed))
	for _, m := range listed {
		byID[m.Identity().ID] = m
		if name := m.Identity().Name; name != "" {
			byName[name] = m
		}
	}
	lookup := func(key string, ferr error) (prov.ComputeMetadata, bool) {
		if id, ok := prov.OrphanID(ferr); ok {
			n, found := byID[id]
			return n, found
		}
		if n, found := byID[key]; found {
			return n, true
		}
		n, found := byName[key]
		return n, found
	}

	var handles []*Handle[bool]
	for _, key := range failures.Keys() {
		ferr := failures[key]
		node, found := lookup(key, ferr)
		if !found {
			s.metrics.ObserveCompensation("skipped")
			s.log.Warn().Err(ferr).Str("slot", key).Msg("<< no backend node for failed slot, nothing to destroy")
			continue
		}
		id := node.Identity().ID
		s.log.Error().Err(ferr).Str("slot", key).Str("node", id).Msg("<< error applying node, destroying")
		handles = append(handles, Submit(s.exec, ctx, id, func(ctx context.Context) (bool, error) {
			return s.DestroyNode(ctx, node)
		}))
	}

	done, failed := await(s, "destroying orphaned nodes", handles)
	for _, destroyed := range done {
		if destroyed {
			s.metrics.ObserveCompensation("destroyed")
		} else {
			s.metrics.ObserveCompensation("skipped")
		}
	}
	for range failed {
		s.metrics.ObserveCompensation("failed")
	}
}

// DestroyNode deletes one node. It reports false when the node was already gone.
func (s *ComputeService) DestroyNode(ctx context.Context, node prov.ComputeMetadata) (ok bool, err error) {
	id, err := checkNode(node)
	if err != nil {
		return false, err
	}
	defer s.observe("destroy_node", time.Now(), &err)

	s.log.Debug().Str("node", id).Msg(">> destroying node")
	ok, err = s.strategies.Destroy.DestroyNode(ctx, node)
	if err != nil {
		return false, &prov.BackendError{Op: "destroy node", Key: id, Err: err}
	}
	s.log.Debug().Str("node", id).Bool("success", ok).Msg("<< destroyed node")
	return ok, nil
}

// RebootNode reboots one node and reports whether it is running afterwards.
func (s *ComputeService) RebootNode(ctx context.Context, node prov.ComputeMetadata) (ok bool, err error) {
	id, err := checkNode(node)
	if err != nil {
		return false, err
	}
	defer s.observe("reboot_node", time.Now(), &err)

	s.log.Debug().Str("node", id).Msg(">> rebooting node")
	ok, err = s.strategies.Reboot.RebootNode(ctx, node)
	if err != nil {
		return false, &prov.BackendError{Op: "reboot node", Key: id, Err: err}
	}
	s.log.Debug().Str("node", id).Bool("success", ok).Msg("<< rebooted node")
	return ok, nil
}

// DestroyNodesWithTag destroys every non-terminated node of tag. Individual
// failures are logged and dropped; only tag resolution can fail the call.
func (s *ComputeService) DestroyNodesWithTag(ctx context.Context, tag string) error {
	return s.eachNodeWithTag(ctx, tag, "destroying nodes", s.DestroyNode)
}

// RebootNodesWithTag reboots every non-terminated node of tag, best effort.
func (s *ComputeService) RebootNodesWithTag(ctx context.Context, tag string) error {
	return s.eachNodeWithTag(ctx, tag, "rebooting nodes", s.RebootNode)
}

func (s *ComputeService) eachNodeWithTag(ctx context.Context, tag, label string, op func(context.Context, prov.ComputeMetadata) (bool, error)) (err error) {
	if err := prov.ValidateTag(tag); err != nil {
		return err
	}
	defer s.observe(label, time.Now(), &err)

	s.log.Debug().Str("tag", tag).Msgf(">> %s by tag", label)
	nodes, err := s.resolveTag(ctx, tag)
	if err != nil {
		return err
	}
	targets := FilterActive(nodes)
	handles := make([]*Handle[bool], 0, len(targets))
	for _, n := range targets {
		handles = append(handles, Submit(s.exec, ctx, n.ID, func(ctx context.Context) (bool, error) {
			return op(ctx, n)
		}))
	}
	_, failures := await(s, label, handles)
	s.log.Debug().Str("tag", tag).Int("nodes", len(handles)).Int("failed", len(failures)).Msgf("<< %s done", label)
	return nil
}

// GetNodes lists every node of the account, indexed by id.
func (s *ComputeService) GetNodes(ctx context.Context) (nodes map[string]prov.ComputeMetadata, err error) {
	defer s.observe("list_nodes", time.Now(), &err)
	s.log.Debug().Msg(">> listing nodes")
	listed, err := s.strategies.List.ListNodes(ctx)
	if err != nil {
		return nil, &prov.BackendError{Op: "list nodes", Err: err}
	}
	nodes, err = IndexByID(listed)
	if err != nil {
		return nil, &prov.BackendError{Op: "list nodes", Err: err}
	}
	s.log.Debug().Int("count", len(nodes)).Msg("<< listed nodes")
	return nodes, nil
}

// GetNodesWithTag returns the nodes whose tag is exactly tag, hydrated and
// indexed by id. Nodes that vanish between listing and fetch are left out.
func (s *ComputeService) GetNodesWithTag(ctx context.Context, tag string) (map[string]*prov.NodeMetadata, error) {
	if err := prov.ValidateTag(tag); err != nil {
		return nil, err
	}
	s.log.Debug().Str("tag", tag).Msg(">> listing nodes by tag")
	nodes, err := s.resolveTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	out, err := IndexByID(nodes)
	if err != nil {
		return nil, &prov.BackendError{Op: "list nodes", Key: tag, Err: err}
	}
	s.log.Debug().Str("tag", tag).Int("count", len(out)).Msg("<< listed nodes by tag")
	return out, nil
}

// resolveTag lists, hydrates bare entries in parallel and keeps the nodes of tag.
func (s *ComputeService) resolveTag(ctx context.Context, tag string) ([]*prov.NodeMetadata, error) {
	listed, err := s.strategies.List.ListNodes(ctx)
	if err != nil {
		return nil, &prov.BackendError{Op: "list nodes", Key: tag, Err: err}
	}
	if _, err := IndexByID(listed); err != nil {
		return nil, &prov.BackendError{Op: "list nodes", Key: tag, Err: err}
	}

	var nodes []*prov.NodeMetadata
	var handles []*Handle[*prov.NodeMetadata]
	for _, m := range listed {
		if n, ok := m.(*prov.NodeMetadata); ok {
			nodes = append(nodes, n)
			continue
		}
		if m.Identity().Type != prov.TypeNode {
			continue
		}
		handles = append(handles, Submit(s.exec, ctx, m.Identity().ID, func(ctx context.Context) (*prov.NodeMetadata, error) {
			return s.strategies.Get.GetNodeMetadata(ctx, m)
		}))
	}
	hydrated, failures := await(s, "hydrating nodes", handles)
	if len(failures) > 0 {
		return nil, &AggregateFailure{Label: "hydrating nodes", Total: len(handles), Failures: failures}
	}
	for _, id := range SortedIDs(hydrated) {
		if n := hydrated[id]; n != nil {
			nodes = append(nodes, n)
		}
	}
	return FilterByTag(nodes, tag), nil
}

// GetNodeMetadata fetches the current state of one node, nil if it is gone.
func (s *ComputeService) GetNodeMetadata(ctx context.Context, node prov.ComputeMetadata) (*prov.NodeMetadata, error) {
	id, err := checkNode(node)
	if err != nil {
		return nil, err
	}
	n, err := s.strategies.Get.GetNodeMetadata(ctx, node)
	if err != nil {
		return nil, &prov.BackendError{Op: "get node", Key: id, Err: err}
	}
	return n, nil
}

func (s *ComputeService) Images(ctx context.Context) (map[string]prov.Image, error) {
	return s.images.GetOrLoad(ctx)
}

func (s *ComputeService) Sizes(ctx context.Context) (map[string]prov.Size, error) {
	return s.sizes.GetOrLoad(ctx)
}

func (s *ComputeService) Locations(ctx context.Context) (map[string]prov.Location, error) {
	return s.locations.GetOrLoad(ctx)
}

// RefreshCatalogs reloads images, sizes and locations.
func (s *ComputeService) RefreshCatalogs(ctx context.Context) error {
	if _, err := s.images.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh images: %w", err)
	}
	if _, err := s.sizes.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh sizes: %w", err)
	}
	if _, err := s.locations.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh locations: %w", err)
	}
	return nil
}

// TemplateBuilder returns a builder over the current catalogs.
func (s *ComputeService) TemplateBuilder(ctx context.Context) (*TemplateBuilder, error) {
	images, err := s.Images(ctx)
	if err != nil {
		return nil, fmt.Errorf("load images: %w", err)
	}
	sizes, err := s.Sizes(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sizes: %w", err)
	}
	locations, err := s.Locations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load locations: %w", err)
	}
	return NewTemplateBuilder(images, sizes, locations), nil
}

// await joins handles and feeds the unit counters.
func await[T any](s *ComputeService, label string, handles []*Handle[T]) (map[string]T, FailureMap) {
	values, failures := AwaitCompletion(s.log, label, handles)
	s.metrics.ObserveUnits(label, len(handles), len(failures))
	return values, failures
}

func (s *ComputeService) observe(op string, started time.Time, err *error) {
	s.metrics.ObserveOperation(op, started, *err)
}

func checkNode(node prov.ComputeMetadata) (string, error) {
	if node == nil {
		return "", prov.Invalid("node", "", "node is required")
	}
	r := node.Identity()
	if r.Type != prov.TypeNode {
		return "", prov.Invalid("node", r.ID, "expected a %s, got %s", prov.TypeNode, r.Type)
	}
	if r.ID == "" {
		return "", prov.Invalid("node.id", "", "id is required")
	}
	return r.ID, nil
}

// emptyCatalog serves backends that publish no catalog.
type emptyCatalog struct{}

func (emptyCatalog) Images(context.Context) (map[string]prov.Image, error) {
	return map[string]prov.Image{}, nil
}

func (emptyCatalog) Sizes(context.Context) (map[string]prov.Size, error) {
	return map[string]prov.Size{}, nil
}

func (emptyCatalog) Locations(context.Context) (map[string]prov.Location, error) {
	return map[string]prov.Location{}, nil
}
