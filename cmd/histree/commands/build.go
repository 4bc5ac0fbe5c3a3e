package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histree/pkg/htree"
	"github.com/Sumatoshi-tech/histree/pkg/statestore"
	"github.com/Sumatoshi-tech/histree/pkg/traceio"
	"github.com/Sumatoshi-tech/histree/pkg/units"
)

// stdinArg selects standard input as the interval source.
const stdinArg = "-"

type buildFlags struct {
	output             string
	blockSize          string
	branchPolicy       string
	treeStart          int64
	maxChildren        int
	checkpointInterval int
}

func newBuildCommand(a *app) *cobra.Command {
	var flags buildFlags

	cmd := &cobra.Command{
		Use:   "build <input.jsonl|->",
		Short: "Build a store from JSON lines intervals",
		Long: `Build reads one interval per line, for example

  {"attribute":"cpu0/state","start":0,"end":9,"value":{"type":"int32","v":1}}

checks every line against the interval schema, assigns attribute quarks in
first-seen order, inserts the intervals and closes the store at the largest
end time. Attribute names are saved next to the store in <output>.attrs.yaml.

Intervals must be ordered: each start must not precede any earlier end.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBuild(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, flagOutput, flagOutputShort, "", "store file to create")
	cmd.Flags().StringVar(&flags.blockSize, "block-size", "", "node block size, e.g. 64KiB (default from config)")
	cmd.Flags().IntVar(&flags.maxChildren, "max-children", 0, "children per core node (default from config)")
	cmd.Flags().Int64Var(&flags.treeStart, "tree-start", 0, "start time of the tree")
	cmd.Flags().StringVar(&flags.branchPolicy, "branch-policy", "", "branch start policy: interval-start or tree-end (default from config)")
	cmd.Flags().IntVar(&flags.checkpointInterval, "checkpoint-interval", -1, "inserts between checkpoints, 0 disables (default from config)")

	return cmd
}

// buildParams merges command flags over the store configuration.
func (a *app) buildParams(cmd *cobra.Command, flags buildFlags) (statestore.Params, []statestore.Option, error) {
	store := a.cfg.Store

	if cmd.Flags().Changed("block-size") {
		store.BlockSize = flags.blockSize
	}

	if cmd.Flags().Changed("max-children") {
		store.MaxChildren = flags.maxChildren
	}

	if cmd.Flags().Changed("branch-policy") {
		store.BranchPolicy = flags.branchPolicy
	}

	if cmd.Flags().Changed("checkpoint-interval") {
		store.CheckpointInterval = flags.checkpointInterval
	}

	blockSize, err := store.BlockSizeBytes()
	if err != nil {
		return statestore.Params{}, nil, err
	}

	policy, ok := htree.PolicyByName(store.BranchPolicy)
	if !ok {
		return statestore.Params{}, nil, fmt.Errorf("%w: branch policy %q", statestore.ErrInvalidConfig, store.BranchPolicy)
	}

	opts, err := a.storeOptions(
		statestore.WithBranchPolicy(policy),
		statestore.WithCheckpointInterval(store.CheckpointInterval),
	)
	if err != nil {
		return statestore.Params{}, nil, err
	}

	return statestore.Params{
		TreeStart:       flags.treeStart,
		BlockSize:       blockSize,
		MaxChildren:     store.MaxChildren,
		ProviderVersion: store.ProviderVersion,
	}, opts, nil
}

func (a *app) runBuild(cmd *cobra.Command, input string, flags buildFlags) error {
	if flags.output == "" {
		return ErrNoOutput
	}

	params, opts, err := a.buildParams(cmd, flags)
	if err != nil {
		return err
	}

	var src io.Reader = cmd.InOrStdin()

	if input != stdinArg {
		file, openErr := os.Open(input)
		if openErr != nil {
			return fmt.Errorf("open input: %w", openErr)
		}

		defer file.Close()

		src = file
	}

	store, err := statestore.Create(flags.output, params, opts...)
	if err != nil {
		return err
	}

	defer closeStore(a.logger, store)

	reg := traceio.NewRegistry()
	ctx := cmd.Context()

	stats, err := traceio.Load(ctx, src, store, reg)
	if err != nil {
		return fmt.Errorf("build %s: %w", flags.output, err)
	}

	err = store.Close(ctx, stats.MaxEnd)
	if err != nil {
		return err
	}

	info, err := store.Info()
	if err != nil {
		return err
	}

	err = reg.Save(traceio.SidecarPath(flags.output), info.StoreID)
	if err != nil {
		return errors.Join(fmt.Errorf("store %s is complete but unnamed", flags.output), err)
	}

	a.status(cmd, "built %s: %s intervals, %d attributes, %d nodes, height %d, %s",
		flags.output, humanize.Comma(int64(stats.Intervals)), reg.Len(),
		info.NodeCount, info.Height, units.FormatSize(info.FileSize))

	return nil
}
