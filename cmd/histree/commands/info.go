package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/histree/pkg/htree"
	"github.com/Sumatoshi-tech/histree/pkg/statestore"
	"github.com/Sumatoshi-tech/histree/pkg/units"
)

// Info output formats.
const (
	formatText = "text"
	formatYAML = "yaml"
)

// yamlIndent is the indentation of YAML output.
const yamlIndent = 2

// Store states shown by info.
const (
	stateClosed   = "closed"
	stateBuilding = "building"
	stateUnclosed = "unclosed"
)

// ErrUnknownFormat is returned for an unsupported --format value.
var ErrUnknownFormat = errors.New("unknown output format")

type cacheDoc struct {
	Hits       int64 `yaml:"hits"`
	Misses     int64 `yaml:"misses"`
	Evictions  int64 `yaml:"evictions"`
	Entries    int   `yaml:"entries"`
	DiskReads  int64 `yaml:"disk_reads"`
	DiskWrites int64 `yaml:"disk_writes"`
}

type nodeDoc struct {
	Kind      string `yaml:"kind"`
	Sequence  int32  `yaml:"sequence"`
	Parent    int32  `yaml:"parent"`
	Depth     int    `yaml:"depth"`
	Start     int64  `yaml:"start"`
	End       int64  `yaml:"end"`
	Intervals int    `yaml:"intervals"`
	Children  int    `yaml:"children"`
	UsedBytes int    `yaml:"used_bytes"`
	Sealed    bool   `yaml:"sealed"`
}

// infoDoc is the rendered description of a store.
type infoDoc struct {
	Path            string    `yaml:"path"`
	StoreID         string    `yaml:"store_id"`
	FormatVersion   uint32    `yaml:"format_version"`
	ProviderVersion uint32    `yaml:"provider_version"`
	BlockSize       int       `yaml:"block_size"`
	MaxChildren     int       `yaml:"max_children"`
	NodeCount       int       `yaml:"node_count"`
	Height          int       `yaml:"height"`
	RootSequence    int32     `yaml:"root_sequence"`
	TreeStart       int64     `yaml:"tree_start"`
	TreeEnd         int64     `yaml:"tree_end"`
	State           string    `yaml:"state"`
	FileSize        int64     `yaml:"file_size"`
	Attributes      int       `yaml:"attributes"`
	Cache           cacheDoc  `yaml:"cache"`
	Nodes           []nodeDoc `yaml:"nodes,omitempty"`
}

func newInfoCommand(a *app) *cobra.Command {
	var (
		format string
		nodes  bool
	)

	cmd := &cobra.Command{
		Use:   "info <store>",
		Short: "Describe a store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != formatText && format != formatYAML {
				return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
			}

			store, reg, err := a.openStore(args[0])
			if err != nil {
				return err
			}

			defer closeStore(a.logger, store)

			doc, err := describeStore(store, nodes)
			if err != nil {
				return err
			}

			doc.Attributes = reg.Len()

			return renderInfo(cmd.OutOrStdout(), doc, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or yaml")
	cmd.Flags().BoolVar(&nodes, "nodes", false, "list every node")

	return cmd
}

func describeStore(store *statestore.Store, withNodes bool) (infoDoc, error) {
	var nodes []nodeDoc

	if withNodes {
		err := store.Walk(func(n htree.NodeInfo) error {
			nodes = append(nodes, nodeDoc{
				Kind:      n.Kind.String(),
				Sequence:  n.Sequence,
				Parent:    n.Parent,
				Depth:     n.Depth,
				Start:     n.Start,
				End:       n.End,
				Intervals: n.Intervals,
				Children:  n.Children,
				UsedBytes: n.UsedBytes,
				Sealed:    n.Sealed,
			})

			return nil
		})
		if err != nil {
			return infoDoc{}, err
		}
	}

	info, err := store.Info()
	if err != nil {
		return infoDoc{}, err
	}

	state := stateClosed

	switch {
	case info.Building:
		state = stateBuilding
	case !info.Closed:
		state = stateUnclosed
	}

	return infoDoc{
		Path:            info.Path,
		StoreID:         info.StoreID.String(),
		FormatVersion:   info.FormatVersion,
		ProviderVersion: info.ProviderVersion,
		BlockSize:       info.BlockSize,
		MaxChildren:     info.MaxChildren,
		NodeCount:       info.NodeCount,
		Height:          info.Height,
		RootSequence:    info.RootSequence,
		TreeStart:       info.TreeStart,
		TreeEnd:         info.TreeEnd,
		State:           state,
		FileSize:        info.FileSize,
		Cache: cacheDoc{
			Hits:       info.Cache.Hits,
			Misses:     info.Cache.Misses,
			Evictions:  info.Cache.Evictions,
			Entries:    info.Cache.Entries,
			DiskReads:  info.Cache.DiskReads,
			DiskWrites: info.Cache.DiskWrites,
		},
		Nodes: nodes,
	}, nil
}

func renderInfo(w io.Writer, doc infoDoc, format string) error {
	if format == formatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(yamlIndent)

		err := enc.Encode(doc)
		if err != nil {
			return fmt.Errorf("encode info: %w", err)
		}

		return enc.Close()
	}

	field := func(label string, value any) {
		writeLine(w, "%-17s %v", label, value)
	}

	field("Path", doc.Path)
	field("Store ID", doc.StoreID)
	field("Format version", doc.FormatVersion)
	field("Provider version", doc.ProviderVersion)
	field("Block size", units.FormatSize(int64(doc.BlockSize)))
	field("Max children", doc.MaxChildren)
	field("Nodes", doc.NodeCount)
	field("Height", doc.Height)
	field("Root sequence", doc.RootSequence)
	field("Tree start", doc.TreeStart)
	field("Tree end", doc.TreeEnd)
	field("State", doc.State)
	field("File size", units.FormatSize(doc.FileSize))
	field("Attributes", doc.Attributes)
	field("Cache", fmt.Sprintf("%d hits, %d misses, %d evictions, %d entries, %d disk reads",
		doc.Cache.Hits, doc.Cache.Misses, doc.Cache.Evictions, doc.Cache.Entries, doc.Cache.DiskReads))

	if len(doc.Nodes) == 0 {
		return nil
	}

	writeLine(w, "")

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Seq", "Kind", "Parent", "Depth", "Start", "End", "Intervals", "Children", "Used", "Sealed"})

	for _, n := range doc.Nodes {
		tbl.AppendRow(table.Row{
			n.Sequence, n.Kind, n.Parent, n.Depth, n.Start, n.End,
			n.Intervals, n.Children, units.FormatSize(int64(n.UsedBytes)), n.Sealed,
		})
	}

	tbl.Render()

	return nil
}
