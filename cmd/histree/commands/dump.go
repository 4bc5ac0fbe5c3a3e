package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histree/pkg/traceio"
)

// dumpPerm is the permission of written dump files.
const dumpPerm = 0o644

func newExportCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <store>",
		Short: "Write a compressed dump of a store",
		Long: `Export writes every interval of a store, its geometry and its attribute
names to an LZ4 compressed dump that import can rebuild the store from.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return ErrNoOutput
			}

			store, reg, err := a.openStore(args[0])
			if err != nil {
				return err
			}

			defer closeStore(a.logger, store)

			file, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, dumpPerm)
			if err != nil {
				return fmt.Errorf("create dump: %w", err)
			}

			count, err := traceio.Export(cmd.Context(), file, store, reg)

			err = errors.Join(err, file.Close())
			if err != nil {
				return err
			}

			a.status(cmd, "exported %s intervals to %s", humanize.Comma(int64(count)), output)

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, flagOutput, flagOutputShort, "", "dump file to write")

	return cmd
}

func newImportCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "import <dump.lz4>",
		Short: "Rebuild a store from a dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				return ErrNoOutput
			}

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open dump: %w", err)
			}

			defer file.Close()

			opts, err := a.storeOptions()
			if err != nil {
				return err
			}

			store, reg, count, err := traceio.Import(cmd.Context(), file, output, opts...)
			if err != nil {
				return err
			}

			defer closeStore(a.logger, store)

			info, err := store.Info()
			if err != nil {
				return err
			}

			err = reg.Save(traceio.SidecarPath(output), info.StoreID)
			if err != nil {
				return err
			}

			a.status(cmd, "imported %s intervals into %s (%d nodes)", humanize.Comma(int64(count)), output, info.NodeCount)

			return nil
		},
	}

	cmd.Flags().StringVarP(&output, flagOutput, flagOutputShort, "", "store file to create")

	return cmd
}
