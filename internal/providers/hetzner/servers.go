package hetzner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
	gssh "github.com/3cpo-dev/flotilla/internal/ssh"
)

// ListNodes returns every server of the project. Hetzner listings are
// complete, so no entry needs hydration.
func (b *Backend) ListNodes(ctx context.Context) ([]prov.ComputeMetadata, error) {
	var servers []*hcloud.Server
	err := prov.Retry(ctx, b.log, b.retry, "list servers", retryable(func() error {
		var err error
		servers, err = b.client.Server.All(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	out := make([]prov.ComputeMetadata, 0, len(servers))
	for _, s := range servers {
		out = append(out, toNode(s, nil))
	}
	return out, nil
}

// GetNodeMetadata returns nil when the server no longer exists.
func (b *Backend) GetNodeMetadata(ctx context.Context, node prov.ComputeMetadata) (*prov.NodeMetadata, error) {
	srv, err := b.server(ctx, node)
	if err != nil || srv == nil {
		return nil, err
	}
	return toNode(srv, nil), nil
}

// AddNodeWithTag creates one server and waits until it is running. Once the
// API has accepted the server every failure is an OrphanError carrying its id.
func (b *Backend) AddNodeWithTag(ctx context.Context, tag, name string, tpl prov.Template) (*prov.NodeMetadata, error) {
	if tpl.Location == nil {
		return nil, prov.Invalid("template.location", "", "location is required")
	}
	creds, err := gssh.CredentialsFor(b.user, tpl.Options.AuthorizePublicKey)
	if err != nil {
		return nil, err
	}
	labels := map[string]string{}
	for k, v := range b.labels {
		labels[k] = v
	}
	for k, v := range tpl.Options.Labels {
		labels[k] = v
	}
	labels[LabelTag] = tag

	opts := hcloud.ServerCreateOpts{
		Name:             name,
		ServerType:       &hcloud.ServerType{Name: tpl.Size.ID},
		Image:            imageRef(tpl.Image.ID),
		Location:         &hcloud.Location{Name: tpl.Location.ID},
		UserData:         prov.CloudInitUserData(creds.User, creds.AuthorizedKey, tag, labels),
		Labels:           labels,
		StartAfterCreate: hcloud.Ptr(true),
	}

	b.log.Debug().Str("name", name).Str("type", tpl.Size.ID).Str("location", tpl.Location.ID).Msg("Creating server")
	var result hcloud.ServerCreateResult
	err = prov.Retry(ctx, b.log, b.retry, "create server", retryable(func() error {
		var err error
		result, _, err = b.client.Server.Create(ctx, opts)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create server %s: %w", name, err)
	}
	id := strconv.FormatInt(result.Server.ID, 10)

	if err := b.wait(ctx, append([]*hcloud.Action{result.Action}, result.NextActions...)...); err != nil {
		return nil, &prov.OrphanError{NodeID: id, Err: fmt.Errorf("failed to wait for server creation: %w", err)}
	}
	srv, err := b.waitRunning(ctx, result.Server)
	if err != nil {
		return nil, &prov.OrphanError{NodeID: id, Err: err}
	}

	creds.Password = result.RootPassword
	return toNode(srv, creds), nil
}

// RebootNode reboots the server and reports whether it is running afterwards.
func (b *Backend) RebootNode(ctx context.Context, node prov.ComputeMetadata) (bool, error) {
	srv, err := b.server(ctx, node)
	if err != nil || srv == nil {
		return false, err
	}
	action, _, err := b.client.Server.Reboot(ctx, srv)
	if err != nil {
		return false, fmt.Errorf("failed to reboot server: %w", err)
	}
	if err := b.wait(ctx, action); err != nil {
		return false, fmt.Errorf("failed to wait for reboot: %w", err)
	}
	srv, err = b.server(ctx, node)
	if err != nil || srv == nil {
		return false, err
	}
	return srv.Status == hcloud.ServerStatusRunning, nil
}

// DestroyNode deletes the server. It reports false when it was already gone.
func (b *Backend) DestroyNode(ctx context.Context, node prov.ComputeMetadata) (bool, error) {
	srv, err := b.server(ctx, node)
	if err != nil || srv == nil {
		return false, err
	}
	result, _, err := b.client.Server.DeleteWithResult(ctx, srv)
	if err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete server: %w", err)
	}
	if result != nil {
		if err := b.wait(ctx, result.Action); err != nil {
			return false, fmt.Errorf("failed to wait for server deletion: %w", err)
		}
	}
	return true, nil
}

func (b *Backend) server(ctx context.Context, node prov.ComputeMetadata) (*hcloud.Server, error) {
	id, err := serverID(node)
	if err != nil {
		return nil, err
	}
	var srv *hcloud.Server
	err = prov.Retry(ctx, b.log, b.retry, "get server", retryable(func() error {
		var err error
		srv, _, err = b.client.Server.GetByID(ctx, id)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get server %d: %w", id, err)
	}
	return srv, nil
}

func (b *Backend) wait(ctx context.Context, actions ...*hcloud.Action) error {
	pending := make([]*hcloud.Action, 0, len(actions))
	for _, a := range actions {
		if a != nil {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	return b.client.Action.WaitFor(ctx, pending...)
}

// waitRunning polls the server until the API reports it running.
func (b *Backend) waitRunning(ctx context.Context, srv *hcloud.Server) (*hcloud.Server, error) {
	if srv.Status == hcloud.ServerStatusRunning {
		return srv, nil
	}
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for server %d to run: %w", srv.ID, ctx.Err())
		case <-ticker.C:
			cur, _, err := b.client.Server.GetByID(ctx, srv.ID)
			if err != nil {
				if isFatal(err) {
					return nil, fmt.Errorf("failed to get server status: %w", err)
				}
				b.log.Debug().Err(err).Int64("server", srv.ID).Msg("Polling server failed, retrying")
				continue
			}
			if cur == nil {
				return nil, fmt.Errorf("server %d vanished while starting", srv.ID)
			}
			if cur.Status == hcloud.ServerStatusRunning {
				return cur, nil
			}
			b.log.Debug().Int64("server", srv.ID).Str("status", string(cur.Status)).Msg("Still waiting for server")
		}
	}
}

func imageRef(id string) *hcloud.Image {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return &hcloud.Image{ID: n}
	}
	return &hcloud.Image{Name: id}
}

func toNode(s *hcloud.Server, creds *prov.Credentials) *prov.NodeMetadata {
	n := &prov.NodeMetadata{
		Resource: prov.Resource{
			ID:    strconv.FormatInt(s.ID, 10),
			Type:  prov.TypeNode,
			Name:  s.Name,
			Extra: map[string]string{"status": string(s.Status)},
		},
		Tag:         s.Labels[LabelTag],
		State:       nodeState(s.Status),
		Credentials: creds,
	}
	if n.Tag == "" {
		n.Tag, _, _ = prov.ParseTag(s.Name)
	}
	if s.Location != nil {
		n.Location = s.Location.Name
	}
	if s.ServerType != nil {
		n.Extra["server_type"] = s.ServerType.Name
	}
	if s.Image != nil {
		n.Extra["image"] = s.Image.Name
	}
	if ip := s.PublicNet.IPv4.IP; ip != nil && !ip.IsUnspecified() {
		n.PublicAddresses = append(n.PublicAddresses, ip.String())
	}
	if ip := s.PublicNet.IPv6.IP; ip != nil && !ip.IsUnspecified() {
		n.PublicAddresses = append(n.PublicAddresses, ip.String())
	}
	for _, pn := range s.PrivateNet {
		if pn.IP != nil {
			n.PrivateAddresses = append(n.PrivateAddresses, pn.IP.String())
		}
	}
	return n
}

func nodeState(s hcloud.ServerStatus) prov.NodeState {
	switch s {
	case hcloud.ServerStatusRunning:
		return prov.StateRunning
	case hcloud.ServerStatusInitializing, hcloud.ServerStatusStarting,
		hcloud.ServerStatusRebuilding, hcloud.ServerStatusMigrating:
		return prov.StatePending
	case hcloud.ServerStatusOff, hcloud.ServerStatusStopping:
		return prov.StateSuspended
	case hcloud.ServerStatusDeleting:
		return prov.StateTerminated
	default:
		return prov.StateUnknown
	}
}
