package statestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/histree/pkg/htree"
	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/observability"
)

// Span names.
const (
	spanQueryRange = "histree.store.query_range"
	spanClose      = "histree.store.close"
)

// Insert appends the interval (attr, start, end, value). start must not
// precede the tree end. An error wrapping ErrCheckpoint means the interval
// was stored and only the checkpoint after it failed.
func (s *Store) Insert(ctx context.Context, attr interval.Quark, start, end int64, value interval.Value) error {
	err := s.checkLive()
	if err != nil {
		return err
	}

	err = s.tree.Insert(interval.Interval{Attribute: attr, Start: start, End: end, Value: value})
	if err != nil {
		if errors.Is(err, htree.ErrReadOnly) {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}

		return err
	}

	s.metrics.RecordInsert(ctx)

	if s.checkpointEvery == 0 {
		return nil
	}

	s.sinceCheckpoint++
	if s.sinceCheckpoint < s.checkpointEvery {
		return nil
	}

	err = s.Checkpoint()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpoint, err)
	}

	return nil
}

// Checkpoint rewrites the open nodes and the header so the file is
// queryable up to the current tree end if the process dies.
func (s *Store) Checkpoint() error {
	err := s.checkLive()
	if err != nil {
		return err
	}

	err = s.tree.Checkpoint()
	if err != nil {
		if errors.Is(err, htree.ErrReadOnly) {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}

		return err
	}

	s.sinceCheckpoint = 0

	return nil
}

// Close seals every open node at max(tree end, endTime) and finalizes the
// file. The store keeps answering queries until Dispose.
func (s *Store) Close(ctx context.Context, endTime int64) error {
	err := s.checkLive()
	if err != nil {
		return err
	}

	_, span := s.tracer.Start(ctx, spanClose, trace.WithAttributes(
		attribute.String("store.path", s.file.Path()),
		attribute.Int64("tree.end", endTime),
	))
	defer span.End()

	err = s.tree.Close(endTime)
	if err != nil {
		if errors.Is(err, htree.ErrReadOnly) {
			err = fmt.Errorf("%w: %w", ErrClosed, err)
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	span.SetAttributes(attribute.Int("tree.nodes", s.tree.Header().NodeCount))

	return nil
}

// Query returns the interval of attr containing t, if any.
func (s *Store) Query(ctx context.Context, attr interval.Quark, t int64) (interval.Interval, bool, error) {
	err := s.checkLive()
	if err != nil {
		return interval.Interval{}, false, err
	}

	began := time.Now()

	iv, ok, err := s.tree.Query(attr, t)
	if err != nil {
		s.noteError(err)

		return interval.Interval{}, false, err
	}

	s.metrics.RecordQuery(ctx, observability.QueryPoint, time.Since(began))

	return iv, ok, nil
}

// QueryRange yields every interval of attr (or of every attribute for
// AnyAttribute) intersecting [t0, t1]. The sequence is lazy and can be
// ranged over again to restart the query.
func (s *Store) QueryRange(ctx context.Context, attr interval.Quark, t0, t1 int64) iter.Seq2[interval.Interval, error] {
	return func(yield func(interval.Interval, error) bool) {
		err := s.checkLive()
		if err != nil {
			yield(interval.Interval{}, err)

			return
		}

		spanCtx, span := s.tracer.Start(ctx, spanQueryRange, trace.WithAttributes(
			attribute.Int("query.attribute", int(attr)),
			attribute.Int64("query.t0", t0),
			attribute.Int64("query.t1", t1),
		))
		defer span.End()

		began := time.Now()
		results := 0

		defer func() {
			span.SetAttributes(attribute.Int("query.results", results))
			s.metrics.RecordQuery(spanCtx, observability.QueryRange, time.Since(began))
		}()

		for iv, err := range s.tree.QueryRange(attr, t0, t1) {
			if err != nil {
				s.noteError(err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				yield(interval.Interval{}, err)

				return
			}

			results++

			if !yield(iv, nil) {
				return
			}
		}
	}
}

// QueryAll returns the state of every attribute at t, ordered by attribute.
func (s *Store) QueryAll(ctx context.Context, t int64) ([]interval.Interval, error) {
	err := s.checkLive()
	if err != nil {
		return nil, err
	}

	began := time.Now()

	out, err := s.tree.QueryAll(t)
	if err != nil {
		s.noteError(err)

		return nil, err
	}

	s.metrics.RecordQuery(ctx, observability.QueryAll, time.Since(began))

	return out, nil
}

// Walk visits every node depth first, children in time order.
func (s *Store) Walk(fn func(htree.NodeInfo) error) error {
	err := s.checkLive()
	if err != nil {
		return err
	}

	err = s.tree.Walk(fn)
	if err != nil {
		s.noteError(err)
	}

	return err
}

func (s *Store) recordSplit(ev htree.SplitEvent) {
	s.metrics.RecordSplit(context.Background(), ev.NewNodes, ev.NewRoot)
}
