package core

import (
	"sort"
	"strings"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
)

// TemplateBuilder picks an image, size and location out of the catalogs.
type TemplateBuilder struct {
	images    map[string]prov.Image
	sizes     map[string]prov.Size
	locations map[string]prov.Location

	imageID    string
	sizeID     string
	locationID string
	osFamily   string
	minCores   float64
	minRAM     int
	fastest    bool
	options    prov.TemplateOptions
}

func NewTemplateBuilder(images map[string]prov.Image, sizes map[string]prov.Size, locations map[string]prov.Location) *TemplateBuilder {
	return &TemplateBuilder{images: images, sizes: sizes, locations: locations}
}

func (b *TemplateBuilder) ImageID(id string) *TemplateBuilder    { b.imageID = id; return b }
func (b *TemplateBuilder) SizeID(id string) *TemplateBuilder     { b.sizeID = id; return b }
func (b *TemplateBuilder) LocationID(id string) *TemplateBuilder { b.locationID = id; return b }
func (b *TemplateBuilder) OSFamily(f string) *TemplateBuilder    { b.osFamily = strings.ToLower(f); return b }
func (b *TemplateBuilder) MinCores(c float64) *TemplateBuilder   { b.minCores = c; return b }
func (b *TemplateBuilder) MinRAM(mb int) *TemplateBuilder        { b.minRAM = mb; return b }

// Smallest prefers the cheapest matching size. This is the default.
func (b *TemplateBuilder) Smallest() *TemplateBuilder { b.fastest = false; return b }

// Fastest prefers the biggest matching size.
func (b *TemplateBuilder) Fastest() *TemplateBuilder { b.fastest = true; return b }

func (b *TemplateBuilder) Options(o prov.TemplateOptions) *TemplateBuilder { b.options = o; return b }

// DestroyOnError asks the orchestrator to clean up after partial failures.
func (b *TemplateBuilder) DestroyOnError(v bool) *TemplateBuilder {
	b.options.DestroyOnError = v
	return b
}

// Build resolves the template or fails with an InvalidArgument error.
func (b *TemplateBuilder) Build() (prov.Template, error) {
	loc, err := b.resolveLocation()
	if err != nil {
		return prov.Template{}, err
	}
	img, err := b.resolveImage()
	if err != nil {
		return prov.Template{}, err
	}
	size, err := b.resolveSize(img.Architecture)
	if err != nil {
		return prov.Template{}, err
	}
	return prov.Template{Image: img, Size: size, Location: &loc, Options: b.options}, nil
}

func (b *TemplateBuilder) resolveLocation() (prov.Location, error) {
	if b.locationID != "" {
		loc, ok := b.locations[b.locationID]
		if !ok {
			return prov.Location{}, prov.Invalid("location", b.locationID, "not offered by provider")
		}
		return loc, nil
	}
	ids := SortedIDs(b.locations)
	if len(ids) == 0 {
		return prov.Location{}, prov.Invalid("location", "", "provider offers no locations")
	}
	return b.locations[ids[0]], nil
}

func (b *TemplateBuilder) resolveImage() (prov.Image, error) {
	if b.imageID != "" {
		img, ok := b.images[b.imageID]
		if !ok {
			return prov.Image{}, prov.Invalid("image", b.imageID, "not offered by provider")
		}
		return img, nil
	}
	var candidates []prov.Image
	for _, img := range b.images {
		if b.osFamily == "" || strings.ToLower(img.OSFamily) == b.osFamily {
			candidates = append(candidates, img)
		}
	}
	if len(candidates) == 0 {
		return prov.Image{}, prov.Invalid("image", b.osFamily, "no image matches")
	}
	// newest version first, then id for a stable pick
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Version != candidates[j].Version {
			return candidates[i].Version > candidates[j].Version
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

func (b *TemplateBuilder) resolveSize(arch string) (prov.Size, error) {
	if b.sizeID != "" {
		s, ok := b.sizes[b.sizeID]
		if !ok {
			return prov.Size{}, prov.Invalid("size", b.sizeID, "not offered by provider")
		}
		return s, nil
	}
	var candidates []prov.Size
	for _, s := range b.sizes {
		if s.Cores < b.minCores || s.RAM < b.minRAM || !supports(s, arch) {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return prov.Size{}, prov.Invalid("size", "", "no size has %.0f cores and %d MB RAM for %q", b.minCores, b.minRAM, arch)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if b.fastest {
			return smaller(candidates[j], candidates[i])
		}
		return smaller(candidates[i], candidates[j])
	})
	return candidates[0], nil
}

func smaller(a, b prov.Size) bool {
	if a.Cores != b.Cores {
		return a.Cores < b.Cores
	}
	if a.RAM != b.RAM {
		return a.RAM < b.RAM
	}
	if a.Disk != b.Disk {
		return a.Disk < b.Disk
	}
	return a.ID < b.ID
}

func supports(s prov.Size, arch string) bool {
	if arch == "" || len(s.Architectures) == 0 {
		return true
	}
	for _, a := range s.Architectures {
		if a == arch {
			return true
		}
	}
	return false
}
