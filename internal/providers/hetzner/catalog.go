package hetzner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

// Images lists the available system images, keyed by name.
func (b *Backend) Images(ctx context.Context) (map[string]prov.Image, error) {
	var images []*hcloud.Image
	err := prov.Retry(ctx, b.log, b.retry, "list images", retryable(func() error {
		var err error
		images, err = b.client.Image.AllWithOpts(ctx, hcloud.ImageListOpts{
			Type:   []hcloud.ImageType{hcloud.ImageTypeSystem},
			Status: []hcloud.ImageStatus{hcloud.ImageStatusAvailable},
		})
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	out := make(map[string]prov.Image, len(images))
	for _, img := range images {
		id := img.Name
		if id == "" {
			id = strconv.FormatInt(img.ID, 10)
		}
		out[id] = prov.Image{
			Resource:     prov.Resource{ID: id, Type: prov.TypeImage, Name: img.Name},
			OSFamily:     strings.ToLower(img.OSFlavor),
			Version:      img.OSVersion,
			Description:  img.Description,
			Architecture: string(img.Architecture),
		}
	}
	return out, nil
}

// Sizes lists the server types, keyed by name. RAM is reported in MB.
func (b *Backend) Sizes(ctx context.Context) (map[string]prov.Size, error) {
	var types []*hcloud.ServerType
	err := prov.Retry(ctx, b.log, b.retry, "list server types", retryable(func() error {
		var err error
		types, err = b.client.ServerType.All(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list server types: %w", err)
	}
	out := make(map[string]prov.Size, len(types))
	for _, st := range types {
		out[st.Name] = prov.Size{
			Resource:      prov.Resource{ID: st.Name, Type: prov.TypeSize, Name: st.Description},
			Cores:         float64(st.Cores),
			RAM:           int(st.Memory * 1024),
			Disk:          st.Disk,
			Architectures: []string{string(st.Architecture)},
		}
	}
	return out, nil
}

// Locations lists the locations, keyed by name, scoped to their network zone.
func (b *Backend) Locations(ctx context.Context) (map[string]prov.Location, error) {
	var locations []*hcloud.Location
	err := prov.Retry(ctx, b.log, b.retry, "list locations", retryable(func() error {
		var err error
		locations, err = b.client.Location.All(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	out := make(map[string]prov.Location, len(locations))
	for _, l := range locations {
		out[l.Name] = prov.Location{
			ID:          l.Name,
			Description: l.Description,
			Scope:       "ZONE",
			Parent:      string(l.NetworkZone),
		}
	}
	return out, nil
}
