package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/traceio"
)

// cpuIntervals is the number of intervals in cpuTrace.
const cpuIntervals = 30

// cpuTrace returns back-to-back intervals cycling over three attributes:
// interval i covers [10i, 10i+10] on cpu(i%3) with value i.
func cpuTrace() string {
	var sb strings.Builder

	for i := range cpuIntervals {
		fmt.Fprintf(&sb, `{"attribute":"cpu%d","start":%d,"end":%d,"value":{"type":"int64","v":%d}}`+"\n",
			i%3, i*10, i*10+10, i)
	}

	return sb.String()
}

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cmd := NewRootCommand()

	var stdout, stderr bytes.Buffer

	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())

	return stdout.String(), stderr.String(), err
}

// buildCPUStore builds cpuTrace into a small-block store and returns its path.
func buildCPUStore(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cpu.ht")

	_, stderr, err := runCLI(t, cpuTrace(), "build", "-", "-o", path, "--block-size", "256", "--max-children", "3")
	require.NoError(t, err)
	assert.Contains(t, stderr, "built "+path+": 30 intervals, 3 attributes")

	return path
}

func TestBuild_WritesStoreAndRegistry(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)

	reg, storeID, err := traceio.LoadRegistry(traceio.SidecarPath(path))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, storeID)
	assert.Equal(t, []string{"cpu0", "cpu1", "cpu2"}, reg.Names())
}

func TestBuild_FromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "trace.jsonl")
	path := filepath.Join(dir, "cpu.ht")

	require.NoError(t, os.WriteFile(input, []byte(cpuTrace()), 0o600))

	_, _, err := runCLI(t, "", "build", input, "-o", path, "-q")
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "", "info", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Tree end          300")
	assert.Contains(t, stdout, "State             closed")
	assert.Contains(t, stdout, "Attributes        3")
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, _, err := runCLI(t, cpuTrace(), "build", "-")
	require.ErrorIs(t, err, ErrNoOutput)

	_, _, err = runCLI(t, "", "build", filepath.Join(dir, "missing.jsonl"), "-o", filepath.Join(dir, "a.ht"))
	require.Error(t, err)

	_, _, err = runCLI(t, cpuTrace(), "build", "-", "-o", filepath.Join(dir, "b.ht"), "--branch-policy", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")

	unordered := `{"attribute":"a","start":0,"end":50,"value":{"type":"null"}}
{"attribute":"a","start":10,"end":60,"value":{"type":"null"}}
`

	_, _, err = runCLI(t, unordered, "build", "-", "-o", filepath.Join(dir, "c.ht"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestQuery(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)

	stdout, _, err := runCLI(t, "", "query", path, "cpu1", "15", "5000")
	require.NoError(t, err)
	assert.Contains(t, stdout, "cpu1")
	assert.Contains(t, stdout, "int64")
	assert.Contains(t, stdout, msgNoState)

	lines := strings.Split(stdout, "\n")

	var row15 string

	for _, line := range lines {
		if strings.Contains(line, " 15 ") {
			row15 = line
		}
	}

	require.NotEmpty(t, row15)
	assert.Contains(t, row15, " 10 ")
	assert.Contains(t, row15, " 20 ")
}

func TestQuery_ByQuark(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)
	require.NoError(t, os.Remove(traceio.SidecarPath(path)))

	stdout, _, err := runCLI(t, "", "query", path, "#2", "25")
	require.NoError(t, err)
	assert.Contains(t, stdout, "#2")
	assert.Contains(t, stdout, " 30 ")
}

func TestQuery_Errors(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)

	_, _, err := runCLI(t, "", "query", path, "gpu0", "5")
	require.ErrorIs(t, err, ErrUnknownAttribute)

	_, _, err = runCLI(t, "", "query", path, "cpu0", "soon")
	require.ErrorIs(t, err, ErrInvalidTime)

	_, _, err = runCLI(t, "", "query", filepath.Join(t.TempDir(), "none.ht"), "cpu0", "5")
	require.Error(t, err)
}

func TestRange(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)

	stdout, _, err := runCLI(t, "", "range", path, "cpu0", "0", "100")
	require.NoError(t, err)
	// cpu0 holds intervals 0, 3, 6 and 9 in [0, 100].
	assert.Contains(t, strings.ToLower(stdout), "total: 4")

	stdout, _, err = runCLI(t, "", "range", path, anyAttributeArg, "95", "125")
	require.NoError(t, err)
	// Intervals 9 to 12 intersect [95, 125].
	assert.Contains(t, strings.ToLower(stdout), "total: 4")
	assert.Contains(t, stdout, "cpu2")
}

func TestInfo_Formats(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)

	stdout, _, err := runCLI(t, "", "info", path, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, stdout, "tree_end: 300\n")
	assert.Contains(t, stdout, "block_size: 256\n")
	assert.Contains(t, stdout, "attributes: 3\n")
	assert.Contains(t, stdout, "state: closed\n")

	stdout, _, err = runCLI(t, "", "info", path, "--nodes")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(stdout), "sealed")
	assert.Contains(t, stdout, "leaf")
	assert.Contains(t, stdout, "core")

	_, _, err = runCLI(t, "", "info", path, "--format", "xml")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExportImport(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)
	dir := t.TempDir()
	dump := filepath.Join(dir, "cpu.dump")
	restored := filepath.Join(dir, "restored.ht")

	_, stderr, err := runCLI(t, "", "export", path, "-o", dump)
	require.NoError(t, err)
	assert.Contains(t, stderr, "exported 30 intervals")

	_, stderr, err = runCLI(t, "", "import", dump, "-o", restored)
	require.NoError(t, err)
	assert.Contains(t, stderr, "imported 30 intervals")

	stdout, _, err := runCLI(t, "", "query", restored, "cpu2", "255")
	require.NoError(t, err)
	// Interval 25 covers [250, 260] on cpu1, interval 23 ends at 240 on cpu2.
	assert.Contains(t, stdout, msgNoState)

	stdout, _, err = runCLI(t, "", "query", restored, "cpu1", "255")
	require.NoError(t, err)
	assert.Contains(t, stdout, " 250 ")
	assert.Contains(t, stdout, " 25 ")

	_, _, err = runCLI(t, "", "export", path)
	require.ErrorIs(t, err, ErrNoOutput)
}

func TestPlot(t *testing.T) {
	t.Parallel()

	path := buildCPUStore(t)
	out := filepath.Join(t.TempDir(), "cpu0.html")

	_, stderr, err := runCLI(t, "", "plot", path, "cpu0", "-o", out, "--t1", "150")
	require.NoError(t, err)
	// Intervals 0, 3, 6, 9, 12 and 15 of cpu0 intersect [0, 150].
	assert.Contains(t, stderr, "plotted 6 intervals of cpu0")

	html, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")
	assert.Contains(t, string(html), "cpu0")
}

func TestQuiet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "q.ht")

	_, stderr, err := runCLI(t, cpuTrace(), "build", "-", "-o", path, "-q")
	require.NoError(t, err)
	assert.NotContains(t, stderr, "built")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "histree "))
}

func TestResolveAttribute(t *testing.T) {
	t.Parallel()

	reg := traceio.NewRegistry()

	_, err := reg.Quark("cpu0")
	require.NoError(t, err)

	_, err = reg.Quark("7")
	require.NoError(t, err)

	tests := []struct {
		arg  string
		want interval.Quark
		ok   bool
	}{
		{arg: "cpu0", want: 0, ok: true},
		{arg: "7", want: 1, ok: true},
		{arg: "#5", want: 5, ok: true},
		{arg: "12", want: 12, ok: true},
		{arg: "#", ok: false},
		{arg: "#-1", ok: false},
		{arg: "gpu", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			t.Parallel()

			got, err := resolveAttribute(reg, tt.arg)
			if !tt.ok {
				require.ErrorIs(t, err, ErrUnknownAttribute)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStepPoints(t *testing.T) {
	t.Parallel()

	history := []interval.Interval{
		{Attribute: 0, Start: 0, End: 10, Value: interval.Int32(3)},
		{Attribute: 0, Start: 10, End: 20, Value: interval.String("idle")},
		{Attribute: 0, Start: 30, End: 40, Value: interval.String("busy")},
	}

	points := stepPoints(history)
	require.Len(t, points, 5)

	assert.Equal(t, []any{int64(0), int64(3)}, points[0].Value)
	assert.Equal(t, []any{int64(10), 0}, points[1].Value)
	assert.Equal(t, []any{int64(20), nil}, points[2].Value)
	assert.Equal(t, []any{int64(30), 1}, points[3].Value)
	assert.Equal(t, []any{int64(40), 1}, points[4].Value)
	assert.Equal(t, "busy", points[4].Name)

	assert.Empty(t, stepPoints(nil))
}
