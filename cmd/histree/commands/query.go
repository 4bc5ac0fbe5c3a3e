package commands

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/statestore"
	"github.com/Sumatoshi-tech/histree/pkg/traceio"
)

// defaultParallel is the number of concurrent point queries of the query command.
const defaultParallel = 4

const msgNoState = "(no state)"

// queryResult is the answer to one point query.
type queryResult struct {
	iv    interval.Interval
	ts    int64
	found bool
}

func newQueryCommand(a *app) *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "query <store> <attribute> <t> [t...]",
		Short: "Print the state of an attribute at given times",
		Long: `Query prints the interval of the attribute containing each timestamp.
Attributes are given by name, or by quark as "#N" when the store has no
attribute registry. Timestamps are queried concurrently.`,
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, args[0], args[1], args[2:], parallel)
		},
	}

	cmd.Flags().IntVar(&parallel, "parallel", defaultParallel, "concurrent queries")

	return cmd
}

func (a *app) runQuery(cmd *cobra.Command, path, attrArg string, timeArgs []string, parallel int) error {
	times := make([]int64, len(timeArgs))

	for i, arg := range timeArgs {
		ts, err := parseTime(arg)
		if err != nil {
			return err
		}

		times[i] = ts
	}

	store, reg, err := a.openStore(path)
	if err != nil {
		return err
	}

	defer closeStore(a.logger, store)

	attr, err := resolveAttribute(reg, attrArg)
	if err != nil {
		return err
	}

	results, err := queryTimes(cmd, store, attr, times, parallel)
	if err != nil {
		return err
	}

	tbl := newTable(cmd.OutOrStdout())
	tbl.AppendHeader(table.Row{"T", "Attribute", "Start", "End", "Type", "Value"})

	for _, res := range results {
		if !res.found {
			tbl.AppendRow(table.Row{res.ts, attrArg, "", "", "", msgNoState})

			continue
		}

		tbl.AppendRow(append(table.Row{res.ts}, intervalRow(reg, res.iv)...))
	}

	tbl.Render()

	return nil
}

// queryTimes runs one point query per timestamp with at most parallel in flight.
func queryTimes(cmd *cobra.Command, store *statestore.Store, attr interval.Quark, times []int64, parallel int) ([]queryResult, error) {
	results := make([]queryResult, len(times))

	group, ctx := errgroup.WithContext(cmd.Context())
	group.SetLimit(max(parallel, 1))

	for i, ts := range times {
		group.Go(func() error {
			iv, ok, err := store.Query(ctx, attr, ts)
			if err != nil {
				return fmt.Errorf("query at %d: %w", ts, err)
			}

			results[i] = queryResult{iv: iv, ts: ts, found: ok}

			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return nil, err
	}

	return results, nil
}

func newRangeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "range <store> <attribute|*> <t0> <t1>",
		Short: "Print the intervals intersecting a time range",
		Long:  `Range prints every interval of the attribute, or of all attributes for "*", intersecting [t0, t1].`,
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRange(cmd, args[0], args[1], args[2], args[3])
		},
	}
}

func (a *app) runRange(cmd *cobra.Command, path, attrArg, t0Arg, t1Arg string) error {
	t0, err := parseTime(t0Arg)
	if err != nil {
		return err
	}

	t1, err := parseTime(t1Arg)
	if err != nil {
		return err
	}

	store, reg, err := a.openStore(path)
	if err != nil {
		return err
	}

	defer closeStore(a.logger, store)

	attr := statestore.AnyAttribute

	if attrArg != anyAttributeArg {
		attr, err = resolveAttribute(reg, attrArg)
		if err != nil {
			return err
		}
	}

	tbl := newTable(cmd.OutOrStdout())
	tbl.AppendHeader(table.Row{"Attribute", "Start", "End", "Type", "Value"})

	count := 0

	for iv, err := range store.QueryRange(cmd.Context(), attr, t0, t1) {
		if err != nil {
			return err
		}

		tbl.AppendRow(intervalRow(reg, iv))

		count++
	}

	tbl.SortBy([]table.SortBy{{Name: "Start", Mode: table.AscNumeric}, {Name: "Attribute", Mode: table.Asc}})
	tbl.AppendFooter(table.Row{"Total: " + strconv.Itoa(count)})
	tbl.Render()

	return nil
}

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)

	return tbl
}

func intervalRow(reg *traceio.Registry, iv interval.Interval) table.Row {
	return table.Row{reg.NameOr(iv.Attribute), iv.Start, iv.End, iv.Value.Kind().String(), iv.Value.String()}
}
