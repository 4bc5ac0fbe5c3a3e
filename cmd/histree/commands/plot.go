package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
)

// plotPerm is the permission of written chart files.
const plotPerm = 0o644

// fullZoomPct shows the whole time axis initially.
const fullZoomPct = 100

type plotFlags struct {
	output string
	t0     int64
	t1     int64
}

func newPlotCommand(a *app) *cobra.Command {
	var flags plotFlags

	cmd := &cobra.Command{
		Use:   "plot <store> <attribute>",
		Short: "Render an attribute's history as an HTML chart",
		Long: `Plot writes an interactive step chart of one attribute over [t0, t1]
(the whole tree by default). Numeric states are drawn by value; other states
are drawn by their rank in order of first appearance.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPlot(cmd, args[0], args[1], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, flagOutput, flagOutputShort, "", "HTML file to write")
	cmd.Flags().Int64Var(&flags.t0, "t0", 0, "range start (default tree start)")
	cmd.Flags().Int64Var(&flags.t1, "t1", 0, "range end (default tree end)")

	return cmd
}

func (a *app) runPlot(cmd *cobra.Command, path, attrArg string, flags plotFlags) error {
	if flags.output == "" {
		return ErrNoOutput
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

	info, err := store.Info()
	if err != nil {
		return err
	}

	t0, t1 := info.TreeStart, info.TreeEnd

	if cmd.Flags().Changed("t0") {
		t0 = flags.t0
	}

	if cmd.Flags().Changed("t1") {
		t1 = flags.t1
	}

	var history []interval.Interval

	for iv, err := range store.QueryRange(cmd.Context(), attr, t0, t1) {
		if err != nil {
			return err
		}

		history = append(history, iv)
	}

	file, err := os.OpenFile(flags.output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, plotPerm)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}

	err = renderHistoryChart(file, reg.NameOr(attr), history)

	err = errors.Join(err, file.Close())
	if err != nil {
		return err
	}

	a.status(cmd, "plotted %d intervals of %s to %s", len(history), reg.NameOr(attr), flags.output)

	return nil
}

// stepPoints turns intervals into step chart points: one point per start,
// a closing point at the last end, and a gap wherever no state is recorded.
func stepPoints(history []interval.Interval) []opts.LineData {
	ranks := map[string]int{}
	points := make([]opts.LineData, 0, len(history)+1)

	for i, iv := range history {
		if i > 0 && iv.Start > history[i-1].End {
			points = append(points, opts.LineData{Value: []any{history[i-1].End, nil}})
		}

		points = append(points, opts.LineData{Value: []any{iv.Start, plotValue(iv.Value, ranks)}, Name: iv.Value.String()})
	}

	if len(history) > 0 {
		last := history[len(history)-1]
		points = append(points, opts.LineData{Value: []any{last.End, plotValue(last.Value, ranks)}, Name: last.Value.String()})
	}

	return points
}

// plotValue returns the y coordinate of a state.
func plotValue(value interval.Value, ranks map[string]int) any {
	switch v := value.(type) {
	case interval.Int32:
		return int64(v)
	case interval.Int64:
		return int64(v)
	case interval.Double:
		return float64(v)
	case interval.Null:
		return nil
	default:
		key := value.Kind().String() + ":" + value.String()

		rank, ok := ranks[key]
		if !ok {
			rank = len(ranks)
			ranks[key] = rank
		}

		return rank
	}
}

func renderHistoryChart(w io.Writer, name string, history []interval.Interval) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    name,
			Subtitle: fmt.Sprintf("%d intervals", len(history)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: fullZoomPct}, opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "State"}),
	)

	line.AddSeries(name, stepPoints(history),
		charts.WithLineChartOpts(opts.LineChart{Step: "end"}),
	)

	err := line.Render(w)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}
