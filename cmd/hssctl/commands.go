package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/hsslink/internal/admin"
	"github.com/danmuck/hsslink/internal/auth"
	"github.com/danmuck/hsslink/internal/config"
	"github.com/danmuck/hsslink/internal/node"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath  string
	fixturePath string
	output      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "hssctl",
		Short:         "Discover and talk to link-protocol peers on a bus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "hssctl config file (defaults apply when empty)")
	root.PersistentFlags().StringVar(&opts.fixturePath, "fixture", "", "simulated bus fixture, overrides the config's fixture")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table, json, yaml")

	root.AddCommand(
		newServeCmd(opts),
		newPeersCmd(opts),
		newInitCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) load() (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if o.configPath != "" {
		loaded, err := loadRuntimeConfig(o.configPath)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg = loaded
	}
	if o.fixturePath != "" {
		cfg.FixturePath = o.fixturePath
	}
	return cfg, nil
}

// startNode builds the fixture bus and a started node on it.
func startNode(cfg runtimeConfig) (*node.Node, error) {
	fixture, err := config.LoadBusFixture(cfg.FixturePath)
	if err != nil {
		return nil, err
	}
	n, err := node.New(fixture.BuildBus(), node.Config{Session: cfg.Session})
	if err != nil {
		return nil, err
	}
	n.InstallTopologyListener(func(r node.Report) {
		for _, c := range r.Changes {
			log.Info().
				Str("kind", c.Kind.String()).
				Int("index", c.Index).
				Str("peer", c.Identity.String()).
				Str("from", c.From.String()).
				Str("to", c.To.String()).
				Msg("hssctl.topology")
		}
	})
	if err := n.Start(); err != nil {
		return nil, err
	}
	log.Info().Str("fixture", fixture.Name).Int("peers", n.PeerCount()).Msg("hssctl.node.ready")
	return n, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node on the fixture bus and serve the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.AdminAddr = addr
			}
			n, err := startNode(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := n.Stop(); err != nil {
					log.Warn().Err(err).Msg("hssctl.node.stop")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			var adminOpts []admin.Option
			if cfg.AdminToken != "" {
				adminOpts = append(adminOpts, admin.WithValidator(auth.StaticToken{Token: cfg.AdminToken}))
			}
			return admin.New("hssctl", cfg.AdminAddr, n, cfg.CorsOrigins, adminOpts...).Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "admin listen address, overrides the config's admin_addr")
	return cmd
}

func newPeersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "Reconcile the fixture bus once and list its peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			n, err := startNode(cfg)
			if err != nil {
				return err
			}
			defer n.Stop()

			out, err := formatPeers(opts.output, n.Peers())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <bus|hssctl> <path>",
		Short: "Write a config template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[1], args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bus|hssctl> <path>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bus":
				if _, err := config.LoadBusFixture(args[1]); err != nil {
					return err
				}
			case "hssctl":
				if _, err := loadRuntimeConfig(args[1]); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown config kind: %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated %s config at %s\n", args[0], args[1])
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hssctl version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "hssctl version %s\n", admin.Version)
			return nil
		},
	}
}

func execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
