package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"hue-go-bridge/internal/adapter"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/store"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "hue-bridge",
		Short:         "Emulated Philips Hue bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bridge (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	})
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newClearConfigCommand(opts))
	cmd.AddCommand(newLightsCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return cmd
}

// setup loads and validates the configuration and builds the logger. Config
// errors go to a boot logger on stderr.
func setup(opts *rootOptions) (*Config, *slog.Logger, error) {
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		return nil, nil, err
	}
	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		return nil, nil, err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// offline opens the datastore for a one-shot command. The store is locked
// while the bridge runs, so these commands are meant for a stopped bridge.
type offline struct {
	db  *store.BoltStore
	bus *events.Bus
	ds  *datastore.Datastore
	reg *adapter.Registry
}

func openOffline(opts *rootOptions) (*offline, error) {
	cfg, logger, err := setup(opts)
	if err != nil {
		return nil, err
	}
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		return nil, err
	}
	bus := events.NewBus(logger)
	ds, err := datastore.New(db, datastore.WithLogger(logger), datastore.WithPublisher(bus), datastore.WithName(cfg.Bridge.Name))
	if err != nil {
		bus.Close()
		db.Close()
		logger.Error("load datastore", "err", err)
		return nil, err
	}
	return &offline{db: db, bus: bus, ds: ds, reg: adapter.NewRegistry(ds, bus, logger)}, nil
}

func (o *offline) Close() {
	o.bus.Close()
	o.db.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newExportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the whole bridge configuration as JSON to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOffline(opts)
			if err != nil {
				return err
			}
			defer o.Close()
			return writeJSON(cmd.OutOrStdout(), o.reg.GetConfig())
		},
	}
}

func newImportCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the bridge configuration with an exported document (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}
			o, err := openOffline(opts)
			if err != nil {
				return err
			}
			defer o.Close()
			if err := o.reg.SetConfig(data); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration imported")
			return nil
		},
	}
}

func newClearConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-config",
		Short: "Reset everything except lights to factory state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOffline(opts)
			if err != nil {
				return err
			}
			defer o.Close()
			if err := o.reg.ClearConfig(); err != nil {
				return fmt.Errorf("clear config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration cleared")
			return nil
		},
	}
}

func newLightsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lights",
		Short: "List lights with their owning client and type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOffline(opts)
			if err != nil {
				return err
			}
			defer o.Close()
			return writeJSON(cmd.OutOrStdout(), o.reg.LightIDs())
		},
	}
}
