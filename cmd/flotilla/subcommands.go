package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	core "github.com/3cpo-dev/flotilla/internal/core"
	prov "github.com/3cpo-dev/flotilla/internal/providers"
	"github.com/3cpo-dev/flotilla/internal/providers/hetzner"
	"github.com/3cpo-dev/flotilla/internal/providers/local"
	gssh "github.com/3cpo-dev/flotilla/internal/ssh"
	"github.com/3cpo-dev/flotilla/internal/telemetry"
	"github.com/3cpo-dev/flotilla/pkg/api"
)

const keyFile = "id_ed25519"

func newRegistry() *prov.Registry {
	reg := prov.NewRegistry()
	reg.Register(hetzner.Name, hetzner.Factory)
	reg.Register(local.Name, local.Factory)
	return reg
}

func loadConfig(cmd *cobra.Command) (prov.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(cfgPath)
}

// Pick the backend: flag, then config, then the local simulation
func providerName(cmd *cobra.Command, cfg prov.Config) string {
	if name, _ := cmd.Flags().GetString("provider"); name != "" {
		return name
	}
	if cfg.Providers.Default != "" {
		return cfg.Providers.Default
	}
	return local.Name
}

type session struct {
	cfg      prov.Config
	provider string
	svc      *core.ComputeService
}

// Open the configured backend, run fn against it and flush metrics
func withService(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	name := providerName(cmd, cfg)
	p, err := newRegistry().Open(name, cfg, log.Logger)
	if err != nil {
		return err
	}
	if p.Close != nil {
		defer func() {
			if err := p.Close(); err != nil {
				log.Warn().Err(err).Str("provider", name).Msg("Failed to close provider")
			}
		}()
	}

	var metrics *telemetry.Collector
	if cfg.Telemetry.Enabled {
		metrics = telemetry.NewCollector()
	}
	svc, err := core.New(p, core.OptionsFromConfig(cfg, log.Logger, metrics)...)
	if err != nil {
		return err
	}

	runErr := fn(cmd.Context(), &session{cfg: cfg, provider: name, svc: svc})
	if err := metrics.Push(context.WithoutCancel(cmd.Context()), cfg.Telemetry.Pushgateway, cfg.Telemetry.Job); err != nil {
		log.Warn().Err(err).Msg("Failed to push metrics")
	}
	return runErr
}

// Initialize configuration and the default SSH key
func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config directory, a default config and an SSH key",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			dir := core.ConfigDir()
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}

			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				cfgPath = filepath.Join(dir, "config.yaml")
			}
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				var cfg prov.Config
				cfg.Providers.Default = local.Name
				cfg.Providers.Local.Path = local.DefaultPath()
				cfg.Defaults.Concurrency = 10
				cfg.Defaults.UnitTimeoutSeconds = 600
				cfg.Catalog.TTLSeconds = 3600
				content, err := yaml.Marshal(&cfg)
				if err != nil {
					return fmt.Errorf("render config: %w", err)
				}
				if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Fprintf(out, "wrote %s\n", cfgPath)
			}

			keyPath := filepath.Join(dir, keyFile)
			if _, err := os.Stat(keyPath); errors.Is(err, os.ErrNotExist) {
				pub, err := gssh.GenerateEd25519Keypair(keyPath)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "generated %s\n%s\n", keyPath, pub)
			}
			return nil
		},
	}
}

// Create the providers command
func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List available backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "default: %s\n", providerName(cmd, cfg))
			for _, name := range newRegistry().Names() {
				fmt.Fprintf(out, "registered: %s\n", name)
			}
			return nil
		},
	}
}

// Spawn a tagged fleet
func newSpawnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spawn [tag]",
		Short: "Start nodes sharing a tag",
		Long:  "Start nodes sharing a tag. Failed creations are destroyed unless --no-cleanup is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := fleetFromFlags(cmd, args)
			if err != nil {
				return err
			}
			if spec.Provider != "" && !cmd.Flags().Changed("provider") {
				_ = cmd.Flags().Set("provider", spec.Provider)
			}
			asJSON, _ := cmd.Flags().GetBool("json")

			return withService(cmd, func(ctx context.Context, s *session) error {
				applyProviderDefaults(&spec, s.provider, s.cfg)
				b, err := s.svc.TemplateBuilder(ctx)
				if err != nil {
					return err
				}
				b.ImageID(spec.Image).
					SizeID(spec.Size).
					LocationID(spec.Location).
					OSFamily(spec.OSFamily).
					MinCores(spec.MinCores).
					MinRAM(spec.MinRAM).
					Options(prov.TemplateOptions{AuthorizePublicKey: spec.AuthorizedKey, Labels: spec.Labels}).
					DestroyOnError(spec.CleanupOnError())
				if spec.Fastest {
					b.Fastest()
				}
				tpl, err := b.Build()
				if err != nil {
					return err
				}

				log.Info().Str("tag", spec.Tag).Int("count", spec.Count).Str("provider", s.provider).
					Str("image", tpl.Image.ID).Str("size", tpl.Size.ID).Str("location", tpl.Location.ID).
					Msg("Spawning fleet")
				nodes, runErr := s.svc.RunNodesWithTag(ctx, spec.Tag, spec.Count, tpl)
				if agg, ok := core.AsAggregate(runErr); ok {
					for _, key := range agg.Failures.Keys() {
						log.Error().Err(agg.Failures[key]).Str("slot", key).Msg("Node failed to start")
					}
					runErr = fmt.Errorf("%d of %d nodes failed to start", len(agg.Failures), agg.Total)
				}
				if len(nodes) > 0 {
					if asJSON {
						if err := writeJSON(cmd, nodes); err != nil {
							return err
						}
					} else {
						fmt.Fprint(cmd.OutOrStdout(), renderNodes(nodeViews(nodes)))
					}
				}
				return runErr
			})
		},
	}
	cmd.Flags().String("file", "", "fleet file (YAML)")
	cmd.Flags().IntP("count", "n", 1, "number of nodes")
	cmd.Flags().String("image", "", "image id")
	cmd.Flags().String("size", "", "size id")
	cmd.Flags().String("location", "", "location id")
	cmd.Flags().String("os", "", "OS family used to pick an image")
	cmd.Flags().Float64("min-cores", 0, "minimum cores when picking a size")
	cmd.Flags().Int("min-ram", 0, "minimum RAM in MB when picking a size")
	cmd.Flags().Bool("fastest", false, "pick the biggest matching size instead of the smallest")
	cmd.Flags().Bool("no-cleanup", false, "keep nodes of a partially failed spawn")
	cmd.Flags().String("authorize-key", "", "public key file installed on the nodes")
	cmd.Flags().StringToString("label", nil, "extra labels (key=value)")
	cmd.Flags().Bool("json", false, "print nodes, including generated credentials, as JSON")
	return cmd
}

func fleetFromFlags(cmd *cobra.Command, args []string) (api.FleetSpec, error) {
	var spec api.FleetSpec
	flags := cmd.Flags()
	if file, _ := flags.GetString("file"); file != "" {
		var err error
		if spec, err = api.LoadFleetFile(file); err != nil {
			return spec, err
		}
	}
	if len(args) == 1 {
		spec.Tag = args[0]
	}
	if spec.Tag == "" {
		return spec, errors.New("a tag is required, as argument or in the fleet file")
	}
	if flags.Changed("count") || spec.Count == 0 {
		spec.Count, _ = flags.GetInt("count")
	}
	for flag, field := range map[string]*string{
		"image":    &spec.Image,
		"size":     &spec.Size,
		"location": &spec.Location,
		"os":       &spec.OSFamily,
	} {
		if flags.Changed(flag) {
			*field, _ = flags.GetString(flag)
		}
	}
	if flags.Changed("min-cores") {
		spec.MinCores, _ = flags.GetFloat64("min-cores")
	}
	if flags.Changed("min-ram") {
		spec.MinRAM, _ = flags.GetInt("min-ram")
	}
	if flags.Changed("fastest") {
		spec.Fastest, _ = flags.GetBool("fastest")
	}
	if flags.Changed("no-cleanup") {
		noCleanup, _ := flags.GetBool("no-cleanup")
		cleanup := !noCleanup
		spec.DestroyOnError = &cleanup
	}
	labels, _ := flags.GetStringToString("label")
	if len(labels) > 0 && spec.Labels == nil {
		spec.Labels = map[string]string{}
	}
	for k, v := range labels {
		spec.Labels[k] = v
	}

	keyPath, _ := flags.GetString("authorize-key")
	switch {
	case keyPath != "":
		content, err := os.ReadFile(keyPath)
		if err != nil {
			return spec, fmt.Errorf("read public key: %w", err)
		}
		spec.AuthorizedKey = strings.TrimSpace(string(content))
	case spec.AuthorizedKey == "":
		spec.AuthorizedKey = defaultAuthorizedKey()
	}
	return spec, nil
}

// The key written by init, if any. Without it every node gets a fresh keypair.
func defaultAuthorizedKey() string {
	signer, err := gssh.LoadPrivateKeySigner(filepath.Join(core.ConfigDir(), keyFile))
	if err != nil {
		log.Debug().Err(err).Msg("No default SSH key, nodes get generated credentials")
		return ""
	}
	return gssh.MarshalAuthorized(signer)
}

// Fill unset catalog choices from the backend's config section
func applyProviderDefaults(spec *api.FleetSpec, provider string, cfg prov.Config) {
	var image, size, location string
	switch provider {
	case hetzner.Name:
		hc := cfg.Providers.Hetzner
		image, size, location = hc.Image, hc.ServerType, hc.Location
	case local.Name:
		location = cfg.Providers.Local.Location
	}
	if spec.Image == "" && spec.OSFamily == "" {
		spec.Image = image
	}
	if spec.Size == "" && spec.MinCores == 0 && spec.MinRAM == 0 {
		spec.Size = size
	}
	if spec.Location == "" {
		spec.Location = location
	}
}

// List nodes
func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [tag]",
		Short: "List nodes, all or those with a tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withService(cmd, func(ctx context.Context, s *session) error {
				views := []api.Node{}
				if len(args) == 1 {
					nodes, err := s.svc.GetNodesWithTag(ctx, args[0])
					if err != nil {
						return err
					}
					views = nodeViews(nodes)
				} else {
					all, err := s.svc.GetNodes(ctx)
					if err != nil {
						return err
					}
					groups := core.GroupByTag(all)
					tags := make([]string, 0, len(groups))
					for tag := range groups {
						tags = append(tags, tag)
					}
					sort.Strings(tags)
					for _, tag := range tags {
						for _, m := range groups[tag] {
							views = append(views, nodeView(hydrate(ctx, s.svc, m)))
						}
					}
				}
				if asJSON {
					return writeJSON(cmd, views)
				}
				if len(views) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no nodes")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderNodes(views))
				return nil
			})
		},
	}
	cmd.Flags().Bool("json", false, "print as JSON")
	return cmd
}

// Reboot by tag or id
func newRebootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reboot [tag]",
		Short: "Reboot every node with a tag, or one node by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			if err := tagOrID(args, id); err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, s *session) error {
				if id != "" {
					ok, err := s.svc.RebootNode(ctx, prov.Resource{ID: id, Type: prov.TypeNode})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reboot %s: %s\n", id, outcome(ok, "running", "not running"))
					return nil
				}
				if err := s.svc.RebootNodesWithTag(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rebooted nodes with tag %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().String("id", "", "node id")
	return cmd
}

// Destroy by tag or id
func newDestroyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "destroy [tag]",
		Aliases: []string{"delete", "rm"},
		Short:   "Destroy every node with a tag, or one node by id",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			if err := tagOrID(args, id); err != nil {
				return err
			}
			return withService(cmd, func(ctx context.Context, s *session) error {
				if id != "" {
					ok, err := s.svc.DestroyNode(ctx, prov.Resource{ID: id, Type: prov.TypeNode})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "destroy %s: %s\n", id, outcome(ok, "destroyed", "already gone"))
					return nil
				}
				if err := s.svc.DestroyNodesWithTag(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "destroyed nodes with tag %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().String("id", "", "node id")
	return cmd
}

// Listings may carry bare identities; fetch their state for display.
func hydrate(ctx context.Context, svc *core.ComputeService, m prov.ComputeMetadata) prov.ComputeMetadata {
	if _, ok := m.(*prov.NodeMetadata); ok {
		return m
	}
	n, err := svc.GetNodeMetadata(ctx, m)
	if err != nil || n == nil {
		log.Debug().Err(err).Str("node", m.Identity().ID).Msg("Could not hydrate node")
		return m
	}
	return n
}

func tagOrID(args []string, id string) error {
	if (len(args) == 1) == (id != "") {
		return errors.New("give either a tag or --id")
	}
	return nil
}

func outcome(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// Show image options
func newImagesCmd() *cobra.Command {
	return newCatalogCmd("images", "Show image options", func(ctx context.Context, svc *core.ComputeService) ([]string, [][]string, error) {
		images, err := svc.Images(ctx)
		if err != nil {
			return nil, nil, err
		}
		rows := make([][]string, 0, len(images))
		for _, id := range core.SortedIDs(images) {
			img := images[id]
			rows = append(rows, []string{id, img.OSFamily, img.Version, img.Architecture, img.Description})
		}
		return []string{"ID", "OS", "VERSION", "ARCH", "DESCRIPTION"}, rows, nil
	})
}

// Show size options
func newSizesCmd() *cobra.Command {
	return newCatalogCmd("sizes", "Show size options", func(ctx context.Context, svc *core.ComputeService) ([]string, [][]string, error) {
		sizes, err := svc.Sizes(ctx)
		if err != nil {
			return nil, nil, err
		}
		rows := make([][]string, 0, len(sizes))
		for _, id := range core.SortedIDs(sizes) {
			sz := sizes[id]
			rows = append(rows, []string{
				id,
				fmt.Sprintf("%g", sz.Cores),
				fmt.Sprintf("%d", sz.RAM),
				fmt.Sprintf("%d", sz.Disk),
				strings.Join(sz.Architectures, ","),
			})
		}
		return []string{"ID", "CORES", "RAM MB", "DISK GB", "ARCH"}, rows, nil
	})
}

// Show location options
func newLocationsCmd() *cobra.Command {
	return newCatalogCmd("locations", "Show location options", func(ctx context.Context, svc *core.ComputeService) ([]string, [][]string, error) {
		locations, err := svc.Locations(ctx)
		if err != nil {
			return nil, nil, err
		}
		rows := make([][]string, 0, len(locations))
		for _, id := range core.SortedIDs(locations) {
			loc := locations[id]
			rows = append(rows, []string{id, loc.Scope, loc.Parent, loc.Description})
		}
		return []string{"ID", "SCOPE", "PARENT", "DESCRIPTION"}, rows, nil
	})
}

func newCatalogCmd(use, short string, list func(context.Context, *core.ComputeService) ([]string, [][]string, error)) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, s *session) error {
				if refresh {
					if err := s.svc.RefreshCatalogs(ctx); err != nil {
						return err
					}
				}
				headers, rows, err := list(ctx, s.svc)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(headers, rows))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "reload the backend catalogs before listing")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
