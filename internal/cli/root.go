package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/isb2026/bomrel/internal/config"
	"github.com/isb2026/bomrel/internal/engine"
	"github.com/isb2026/bomrel/internal/logging"
	"github.com/isb2026/bomrel/internal/store"
	"github.com/isb2026/bomrel/internal/store/kv"
	"github.com/isb2026/bomrel/internal/store/sqlite"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	ConfigFile string

	// Config is the merged configuration, set before any subcommand runs.
	Config *config.Config

	viper *viper.Viper
}

// NewRootCommand creates the root command for the bomrel CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{viper: config.New()}

	cmd := &cobra.Command{
		Use:   "bomrel",
		Short: "bomrel - hierarchical relation engine for BOM trees",
		Long: `Store bills of materials as nested-set trees, validate every new
parent/child edge, and bind leaf slots to concrete instances.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.viper, opts.ConfigFile)
			if err != nil {
				out := &OutputFormatter{Format: "text", Writer: cmd.ErrOrStderr()}
				return out.Fail(WrapExitError(ExitCommandError, "invalid configuration", err))
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (yaml, json or toml)")
	flags.String("format", "text", "output format (json|text)")
	flags.String("db", "bomrel.db", "database path (SQLite file or Badger directory)")
	flags.String("backend", config.BackendSQLite, "storage backend (sqlite|badger)")
	flags.Int("max-subtree-nodes", engine.DefaultMaxSubtreeNodes, "largest subtree one insert may carry (0 disables)")

	for key, flag := range map[string]string{
		config.KeyFormat:          "format",
		config.KeyDatabase:        "db",
		config.KeyBackend:         "backend",
		config.KeyMaxSubtreeNodes: "max-subtree-nodes",
	} {
		// Lookup cannot fail for flags defined above.
		_ = opts.viper.BindPFlag(key, flags.Lookup(flag))
	}

	// Add subcommands
	cmd.AddCommand(NewTreeCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewDetachCommand(opts))
	cmd.AddCommand(NewAssignCommand(opts))
	cmd.AddCommand(NewUnassignCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewSlotsCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewFinalizeCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Config.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger builds the engine logger. -v lowers the level to debug.
func (o *RootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	level := o.Config.LogLevel
	if o.Verbose {
		level = "debug"
	}
	return logging.New(logging.Config{
		Level:  level,
		Pretty: o.Config.LogPretty,
		Output: cmd.ErrOrStderr(),
	})
}

// openBackend opens the configured storage backend.
func (o *RootOptions) openBackend(log zerolog.Logger) (store.Backend, error) {
	switch o.Config.Backend {
	case config.BackendBadger:
		cfg := kv.DefaultConfig(o.Config.Database)
		kvLog := logging.Component(log, "badger")
		cfg.Logger = &kvLog
		return kv.Open(cfg)
	default:
		return sqlite.Open(o.Config.Database)
	}
}

// withEngine opens storage, runs fn against a fresh engine and closes
// storage again. Errors from fn are reported through the formatter.
func (o *RootOptions) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine, out *OutputFormatter) error) error {
	out := o.formatter(cmd)
	log := o.logger(cmd)

	backend, err := o.openBackend(log)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, fmt.Sprintf("cannot open %s database %s", o.Config.Backend, o.Config.Database), err))
	}
	defer backend.Close()

	opts := []engine.Option{
		engine.WithLogger(logging.Component(log, "engine")),
		engine.WithMaxSubtreeNodes(o.Config.MaxSubtreeNodes),
	}
	if o.Config.IDStyle == config.IDStyleSequence {
		opts = append(opts, engine.WithIDGenerator(engine.NewSequenceGenerator("n")))
	}
	e := engine.New(backend, opts...)

	if err := fn(cmd.Context(), e, out); err != nil {
		return out.Fail(err)
	}
	return nil
}
