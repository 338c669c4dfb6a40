package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/forechoandlook/goflow"
	"github.com/forechoandlook/goflow/flows"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve <script.flow>",
		Short: "Serve a flow over HTTP with its graph, run endpoint, events and metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, a.Close(context.Background()))
			}()

			monitor := NewWebMonitor(defaultEventCapacity)
			flow, err := a.loadFlow(args[0], monitor)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			s := newServer(ctx, flow, monitor, a.logger)
			if a.registry != nil {
				s.gatherer = a.registry
			}
			return s.listenAndServe(ctx, addr, a.cfg.Server.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

type runRequest struct {
	Shared map[string]any `json:"shared"`
	Params goflow.Params  `json:"params"`
	// Wait runs the flow within the request and returns its result.
	Wait bool `json:"wait"`
}

type runResponse struct {
	Status string         `json:"status"`
	RunID  string         `json:"run_id,omitempty"`
	Action string         `json:"action,omitempty"`
	Shared map[string]any `json:"shared,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type server struct {
	flow     *flows.Flow
	monitor  *WebMonitor
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	// background runs outlive their request and stop with baseCtx.
	baseCtx context.Context
	runs    sync.WaitGroup
}

func newServer(ctx context.Context, flow *flows.Flow, monitor *WebMonitor, logger *zap.Logger) *server {
	return &server{
		flow:    flow,
		monitor: monitor,
		logger:  logger,
		baseCtx: ctx,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/graph", s.handleGraph)
	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.flow.Graph())
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Events(r.URL.Query().Get("run_id")))
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, runResponse{Status: "invalid", Error: err.Error()})
			return
		}
	}

	s.monitor.Clear()
	shared := goflow.NewShared(req.Shared)
	runID := uuid.NewString()

	if req.Wait {
		action, err := s.flow.RunWithID(goflow.WithParams(r.Context(), req.Params), runID, shared)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, runResponse{Status: "failed", RunID: runID, Error: err.Error(), Shared: shared.Snapshot()})
			return
		}
		writeJSON(w, http.StatusOK, runResponse{Status: "completed", RunID: runID, Action: string(action), Shared: shared.Snapshot()})
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.flow.RunWithID(goflow.WithParams(s.baseCtx, req.Params), runID, shared); err != nil {
			s.logger.Warn("background flow run failed", zap.String("flow", s.flow.Name()), zap.String("run_id", runID), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, runResponse{Status: "started", RunID: runID})
}

// listenAndServe serves until ctx is done, then drains in-flight requests
// and waits for background runs.
func (s *server) listenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("serving flow", zap.String("flow", s.flow.Name()), zap.String("addr", addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.runs.Wait()
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
