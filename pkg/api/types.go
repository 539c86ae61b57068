// Package api holds the public file formats of flotilla.
package api

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FleetSpec describes a fleet to spawn. Empty catalog fields are resolved by
// the template builder.
type FleetSpec struct {
	Tag            string            `json:"tag" yaml:"tag"`
	Provider       string            `json:"provider" yaml:"provider"`
	Count          int               `json:"count" yaml:"count"`
	Image          string            `json:"image" yaml:"image"`
	Size           string            `json:"size" yaml:"size"`
	Location       string            `json:"location" yaml:"location"`
	OSFamily       string            `json:"os_family" yaml:"os_family"`
	MinCores       float64           `json:"min_cores" yaml:"min_cores"`
	MinRAM         int               `json:"min_ram_mb" yaml:"min_ram_mb"`
	Fastest        bool              `json:"fastest" yaml:"fastest"`
	DestroyOnError *bool             `json:"destroy_on_error" yaml:"destroy_on_error"`
	AuthorizedKey  string            `json:"authorized_key" yaml:"authorized_key"`
	Labels         map[string]string `json:"labels" yaml:"labels"`
}

// CleanupOnError reports whether failed creations should be destroyed. It
// defaults to true.
func (s FleetSpec) CleanupOnError() bool {
	return s.DestroyOnError == nil || *s.DestroyOnError
}

// LoadFleetFile reads a FleetSpec from YAML.
func LoadFleetFile(path string) (FleetSpec, error) {
	var spec FleetSpec
	content, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read fleet file: %w", err)
	}
	if err := yaml.Unmarshal(content, &spec); err != nil {
		return spec, fmt.Errorf("parse fleet file: %w", err)
	}
	if spec.Count == 0 {
		spec.Count = 1
	}
	return spec, nil
}

// Node is the printable view of a node.
type Node struct {
	ID               string   `json:"id" yaml:"id"`
	Name             string   `json:"name" yaml:"name"`
	Tag              string   `json:"tag" yaml:"tag"`
	State            string   `json:"state" yaml:"state"`
	Location         string   `json:"location" yaml:"location"`
	PublicAddresses  []string `json:"public_addresses,omitempty" yaml:"public_addresses,omitempty"`
	PrivateAddresses []string `json:"private_addresses,omitempty" yaml:"private_addresses,omitempty"`
}
