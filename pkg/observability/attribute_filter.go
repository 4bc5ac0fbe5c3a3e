package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// exportedPrefixes are the span attribute namespaces histree exports.
var exportedPrefixes = []string{"histree.", "store.", "query.", "tree.", "error.", "http."}

// withheldKeys carry user payloads and are never exported.
var withheldKeys = []string{"query.value", "http.body", "store.secret"}

// attributeFilter hands spans to its delegate with only exportable
// attributes. Decisions are memoized per key; each dropped key is logged
// once.
type attributeFilter struct {
	delegate sdktrace.SpanProcessor
	logger   *slog.Logger
	verdicts sync.Map // attribute.Key -> bool
}

// NewAttributeFilter wraps delegate. A nil logger drops keys silently.
func NewAttributeFilter(delegate sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &attributeFilter{delegate: delegate, logger: logger}
}

func (f *attributeFilter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	f.delegate.OnStart(parent, s)
}

func (f *attributeFilter) OnEnd(s sdktrace.ReadOnlySpan) {
	f.delegate.OnEnd(filteredSpan{ReadOnlySpan: s, keep: f.exported})
}

func (f *attributeFilter) Shutdown(ctx context.Context) error {
	err := f.delegate.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("attribute filter shutdown: %w", err)
	}

	return nil
}

func (f *attributeFilter) ForceFlush(ctx context.Context) error {
	err := f.delegate.ForceFlush(ctx)
	if err != nil {
		return fmt.Errorf("attribute filter flush: %w", err)
	}

	return nil
}

func (f *attributeFilter) exported(key attribute.Key) bool {
	if v, ok := f.verdicts.Load(key); ok {
		return v.(bool) //nolint:forcetypeassert // only bools are stored
	}

	keep := exportable(string(key))

	if _, loaded := f.verdicts.LoadOrStore(key, keep); !loaded && !keep && f.logger != nil {
		f.logger.Warn("span attribute dropped", "key", string(key))
	}

	return keep
}

func exportable(key string) bool {
	if key == "error" {
		return true
	}

	for _, withheld := range withheldKeys {
		if key == withheld {
			return false
		}
	}

	for _, prefix := range exportedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

// filteredSpan narrows Attributes of the wrapped span to the kept keys.
type filteredSpan struct {
	sdktrace.ReadOnlySpan

	keep func(attribute.Key) bool
}

func (s filteredSpan) Attributes() []attribute.KeyValue {
	all := s.ReadOnlySpan.Attributes()
	kept := make([]attribute.KeyValue, 0, len(all))

	for _, kv := range all {
		if s.keep(kv.Key) {
			kept = append(kept, kv)
		}
	}

	return kept
}
