package traceio

import (
	"context"
	"fmt"
	"io"

	"github.com/Sumatoshi-tech/histree/pkg/statestore"
)

// LoadStats summarizes one Load call.
type LoadStats struct {
	Intervals int
	FirstLine int
	LastLine  int
	MaxEnd    int64
}

// Load reads JSON lines intervals from r, names their attributes through
// reg and inserts them into store in input order. It stops at the first
// invalid line or rejected insert, reporting the line number.
func Load(ctx context.Context, r io.Reader, store *statestore.Store, reg *Registry) (LoadStats, error) {
	var stats LoadStats

	for rec, err := range ReadRecords(r) {
		if err != nil {
			return stats, err
		}

		quark, err := reg.Quark(rec.Attribute)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", rec.Line, err)
		}

		err = store.Insert(ctx, quark, rec.Start, rec.End, rec.Value)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", rec.Line, err)
		}

		if stats.Intervals == 0 {
			stats.FirstLine = rec.Line
			stats.MaxEnd = rec.End
		}

		stats.Intervals++
		stats.LastLine = rec.Line
		stats.MaxEnd = max(stats.MaxEnd, rec.End)
	}

	return stats, nil
}
