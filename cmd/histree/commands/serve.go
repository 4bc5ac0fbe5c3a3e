package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/histree/pkg/interval"
	"github.com/Sumatoshi-tech/histree/pkg/observability"
	"github.com/Sumatoshi-tech/histree/pkg/statestore"
	"github.com/Sumatoshi-tech/histree/pkg/traceio"
	"github.com/Sumatoshi-tech/histree/pkg/version"
)

// Server timeout constants.
const (
	serverReadTimeout     = 30 * time.Second
	serverWriteTimeout    = 60 * time.Second
	serverIdleTimeout     = 120 * time.Second
	serverShutdownTimeout = 10 * time.Second
)

// Query parameter names.
const (
	paramAttribute = "attribute"
	paramTime      = "t"
	paramFrom      = "t0"
	paramTo        = "t1"
)

// QueryResponse is the body of /query.
type QueryResponse struct {
	Interval json.RawMessage `json:"interval,omitempty"`
	T        int64           `json:"t"`
	Found    bool            `json:"found"`
}

// IntervalsResponse is the body of /range and /state.
type IntervalsResponse struct {
	Intervals []json.RawMessage `json:"intervals"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newServeCommand(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <store>",
		Short: "Serve queries and metrics over HTTP",
		Long: `Serve opens a store and answers queries over HTTP:

  GET /query?attribute=<name>&t=<t>     state of one attribute at t
  GET /range?attribute=<name|*>&t0=&t1= intervals intersecting [t0, t1]
  GET /state?t=<t>                      state of every attribute at t
  GET /metrics                          Prometheus metrics
  GET /healthz                          liveness`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Server.Addr
			}

			return a.runServe(cmd, args[0], addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")

	return cmd
}

func (a *app) runServe(cmd *cobra.Command, path, addr string) error {
	obsCfg := a.cfg.ObservabilityConfig(observability.ModeServe, version.Version)
	obsCfg.LogOutput = cmd.ErrOrStderr()

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return err
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	a.logger = providers.Logger

	serverMetrics, err := observability.NewServerMetrics(providers.Meter)
	if err != nil {
		return err
	}

	store, reg, err := a.openStore(path,
		statestore.WithMeter(providers.Meter),
		statestore.WithTracer(providers.Tracer),
	)
	if err != nil {
		return err
	}

	defer closeStore(a.logger, store)

	srv := &http.Server{
		Addr:         addr,
		Handler:      newServeHandler(providers.Tracer, serverMetrics, providers.MetricsHandler, store, reg, a.logger),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	a.status(cmd, "serving %s on %s", path, addr)

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	a.logger.Info("server stopped", "addr", addr)

	return nil
}

// queryServer answers HTTP queries against one store.
type queryServer struct {
	store  *statestore.Store
	reg    *traceio.Registry
	logger *slog.Logger
}

// newServeHandler builds the routed, traced HTTP handler. metrics may be nil.
func newServeHandler(
	tracer trace.Tracer, sm *observability.ServerMetrics, metrics http.Handler,
	store *statestore.Store, reg *traceio.Registry, logger *slog.Logger,
) http.Handler {
	qs := &queryServer{store: store, reg: reg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /query", qs.handleQuery)
	mux.HandleFunc("GET /range", qs.handleRange)
	mux.HandleFunc("GET /state", qs.handleState)
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return observability.HTTPMiddleware(tracer, sm, mux)
}

func (qs *queryServer) handleQuery(rw http.ResponseWriter, req *http.Request) {
	attr, ok := qs.attributeParam(rw, req)
	if !ok {
		return
	}

	ts, ok := timeParam(rw, req, paramTime)
	if !ok {
		return
	}

	iv, found, err := qs.store.Query(req.Context(), attr, ts)
	if err != nil {
		qs.fail(rw, http.StatusInternalServerError, err)

		return
	}

	resp := QueryResponse{T: ts, Found: found}

	if found {
		resp.Interval, err = qs.encodeInterval(iv)
		if err != nil {
			qs.fail(rw, http.StatusInternalServerError, err)

			return
		}
	}

	writeJSON(rw, http.StatusOK, resp)
}

func (qs *queryServer) handleRange(rw http.ResponseWriter, req *http.Request) {
	attr := statestore.AnyAttribute

	if req.URL.Query().Get(paramAttribute) != anyAttributeArg {
		var ok bool

		attr, ok = qs.attributeParam(rw, req)
		if !ok {
			return
		}
	}

	t0, ok := timeParam(rw, req, paramFrom)
	if !ok {
		return
	}

	t1, ok := timeParam(rw, req, paramTo)
	if !ok {
		return
	}

	resp := IntervalsResponse{Intervals: []json.RawMessage{}}

	for iv, err := range qs.store.QueryRange(req.Context(), attr, t0, t1) {
		if err != nil {
			qs.fail(rw, http.StatusInternalServerError, err)

			return
		}

		raw, err := qs.encodeInterval(iv)
		if err != nil {
			qs.fail(rw, http.StatusInternalServerError, err)

			return
		}

		resp.Intervals = append(resp.Intervals, raw)
	}

	writeJSON(rw, http.StatusOK, resp)
}

func (qs *queryServer) handleState(rw http.ResponseWriter, req *http.Request) {
	ts, ok := timeParam(rw, req, paramTime)
	if !ok {
		return
	}

	state, err := qs.store.QueryAll(req.Context(), ts)
	if err != nil {
		qs.fail(rw, http.StatusInternalServerError, err)

		return
	}

	resp := IntervalsResponse{Intervals: make([]json.RawMessage, 0, len(state))}

	for _, iv := range state {
		raw, err := qs.encodeInterval(iv)
		if err != nil {
			qs.fail(rw, http.StatusInternalServerError, err)

			return
		}

		resp.Intervals = append(resp.Intervals, raw)
	}

	writeJSON(rw, http.StatusOK, resp)
}

func (qs *queryServer) attributeParam(rw http.ResponseWriter, req *http.Request) (interval.Quark, bool) {
	attr, err := resolveAttribute(qs.reg, req.URL.Query().Get(paramAttribute))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, ErrorResponse{Error: err.Error()})

		return 0, false
	}

	return attr, true
}

func timeParam(rw http.ResponseWriter, req *http.Request, name string) (int64, bool) {
	ts, err := strconv.ParseInt(req.URL.Query().Get(name), 10, 64)
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("%s: %v", ErrInvalidTime, name)})

		return 0, false
	}

	return ts, true
}

// encodeInterval renders iv in the build input format.
func (qs *queryServer) encodeInterval(iv interval.Interval) (json.RawMessage, error) {
	return traceio.EncodeRecord(traceio.Record{
		Attribute: qs.reg.NameOr(iv.Attribute),
		Start:     iv.Start,
		End:       iv.End,
		Value:     iv.Value,
	})
}

func (qs *queryServer) fail(rw http.ResponseWriter, status int, err error) {
	qs.logger.Error("query failed", "error", err)
	writeJSON(rw, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(rw http.ResponseWriter, status int, body any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)

	// The status is already sent; an encoding failure can only be dropped.
	_ = json.NewEncoder(rw).Encode(body)
}
