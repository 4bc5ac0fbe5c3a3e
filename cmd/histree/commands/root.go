// Package commands implements the histree CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histree/pkg/config"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/observability"
	"github.com/Sumatoshi-tech/histree/pkg/statestore"
	"github.com/Sumatoshi-tech/histree/pkg/traceio"
	"github.com/Sumatoshi-tech/histree/pkg/version"
)

// Shared flag names.
const (
	flagOutput      = "output"
	flagOutputShort = "o"
	anyAttributeArg = "*"
)

// Sentinel errors.
var (
	ErrNoOutput         = errors.New("output path is required (use --output)")
	ErrUnknownAttribute = errors.New("unknown attribute")
	ErrInvalidTime      = errors.New("invalid timestamp")
)

// app carries the state shared by every command of one invocation.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	configPath string
	verbose    bool
	quiet      bool
}

// NewRootCommand builds the histree command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "histree",
		Short: "histree - persistent interval history trees",
		Long: `histree builds and queries history trees: append-only, disk-backed
indexes of attribute states over time.

Commands:
  build     Build a store from JSON lines intervals
  query     Print the state of an attribute at given times
  range     Print the intervals intersecting a time range
  info      Describe a store
  export    Write a compressed dump of a store
  import    Rebuild a store from a dump
  plot      Render an attribute's history as an HTML chart
  serve     Serve queries and metrics over HTTP`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./histree.yaml or $HOME/.config/histree/histree.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "suppress status output")

	rootCmd.AddCommand(
		newBuildCommand(a),
		newQueryCommand(a),
		newRangeCommand(a),
		newInfoCommand(a),
		newExportCommand(a),
		newImportCommand(a),
		newPlotCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)

	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	if a.verbose {
		cfg.Logging.Level = slog.LevelDebug.String()
	}

	a.cfg = cfg
	a.logger = observability.NewLogger(cfg.ObservabilityConfig(observability.ModeCLI, version.Version), cmd.ErrOrStderr())

	return nil
}

// storeOptions returns the store tuning from configuration plus extra.
func (a *app) storeOptions(extra ...statestore.Option) ([]statestore.Option, error) {
	cacheBytes, err := a.cfg.Store.CacheBytesValue()
	if err != nil {
		return nil, err
	}

	opts := []statestore.Option{
		statestore.WithLogger(a.logger),
		statestore.WithCacheNodes(a.cfg.Store.CacheNodes),
		statestore.WithCacheBytes(cacheBytes),
	}

	return append(opts, extra...), nil
}

// openStore opens path for queries together with its attribute registry.
// A missing registry yields an empty one: attributes are then addressed by quark.
func (a *app) openStore(path string, extra ...statestore.Option) (*statestore.Store, *traceio.Registry, error) {
	opts, err := a.storeOptions(extra...)
	if err != nil {
		return nil, nil, err
	}

	store, err := statestore.OpenExisting(path, a.cfg.Store.ProviderVersion, opts...)
	if err != nil {
		return nil, nil, err
	}

	reg, storeID, err := traceio.LoadRegistry(traceio.SidecarPath(path))

	switch {
	case errors.Is(err, fs.ErrNotExist):
		a.logger.Debug("no attribute registry, using quarks", "path", path)

		return store, traceio.NewRegistry(), nil
	case err != nil:
		return nil, nil, errors.Join(err, store.Dispose())
	}

	info, err := store.Info()
	if err != nil {
		return nil, nil, errors.Join(err, store.Dispose())
	}

	if storeID != info.StoreID {
		a.logger.Warn("attribute registry belongs to another store", "registry_store_id", storeID, "store_id", info.StoreID)
	}

	return store, reg, nil
}

// status prints a green progress line to stderr unless --quiet is set.
func (a *app) status(cmd *cobra.Command, format string, args ...any) {
	if a.quiet {
		return
	}

	color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

// resolveAttribute maps an attribute name, or a quark written as "#N" or
// "N", to its quark.
func resolveAttribute(reg *traceio.Registry, arg string) (interval.Quark, error) {
	if q, ok := reg.Lookup(arg); ok {
		return q, nil
	}

	raw := arg
	if len(raw) > 1 && raw[0] == '#' {
		raw = raw[1:]
	}

	q, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || q < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownAttribute, arg)
	}

	return interval.Quark(q), nil
}

func parseTime(arg string) (int64, error) {
	ts, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, arg)
	}

	return ts, nil
}

// closeStore disposes store, logging a failure instead of masking err.
func closeStore(logger *slog.Logger, store *statestore.Store) {
	err := store.Dispose()
	if err != nil {
		logger.Warn("dispose store", "path", store.Path(), "error", err)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}

// writeLine writes one line, ignoring errors of the terminal writer.
func writeLine(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
