// Package core runs bulk lifecycle operations over a fleet of compute nodes.
// Backends plug in through the strategy set in package providers; core adds
// the concurrency, failure isolation and compensation on top.
package core

import (
	"time"

	"github.com/rs/zerolog"

	prov "github.com/3cpo-dev/flotilla/internal/providers"
	"github.com/3cpo-dev/flotilla/internal/telemetry"
)

// OptionsFromConfig maps the defaults and catalog sections of cfg to service
// options.
func OptionsFromConfig(cfg prov.Config, log zerolog.Logger, metrics *telemetry.Collector) []Option {
	opts := []Option{WithLogger(log), WithMetrics(metrics)}
	if cfg.Defaults.Concurrency > 0 {
		opts = append(opts, WithConcurrency(cfg.Defaults.Concurrency))
	}
	if cfg.Defaults.UnitTimeoutSeconds > 0 {
		opts = append(opts, WithUnitTimeout(time.Duration(cfg.Defaults.UnitTimeoutSeconds)*time.Second))
	}
	if cfg.Catalog.TTLSeconds > 0 {
		opts = append(opts, WithCatalogTTL(time.Duration(cfg.Catalog.TTLSeconds)*time.Second))
	}
	return opts
}
