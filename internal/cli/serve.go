package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rtcstack/rtc-triage/internal/cache"
	"github.com/rtcstack/rtc-triage/internal/health"
	"github.com/rtcstack/rtc-triage/internal/metrics"
	"github.com/rtcstack/rtc-triage/internal/report"
	"github.com/rtcstack/rtc-triage/internal/rules"
	"github.com/rtcstack/rtc-triage/internal/store"
)

const (
	reportCacheKey = "report"
	reportCacheTTL = time.Minute
)

// ServeOptions holds command-line options for the serve command.
type ServeOptions struct {
	commonOptions
	Address string
}

// NewServeCommand creates the serve command: it loads a capture once and
// exposes its analysis over HTTP, including Prometheus metrics.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve <capture-file>",
		Short: "Serve analysis results and metrics over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args[0], opts)
		},
	}

	addCommonFlags(cmd, &opts.commonOptions)
	cmd.Flags().StringVar(&opts.Address, "address", "", "Listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, capturePath string, opts *ServeOptions) error {
	cfg, logger, registry, err := setup(&opts.commonOptions)
	if err != nil {
		return err
	}
	address := cfg.Server.Address
	if opts.Address != "" {
		address = opts.Address
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	st := store.New(logger)
	doc, err := st.LoadFile(capturePath)
	if err != nil {
		return err
	}
	sel := opts.selection()
	st.SetSelection(sel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord, closeWorker := newCoordinator(logger, registry, cfg.Analysis.Sync)
	defer closeWorker()
	if err := coord.SetDocument(ctx, doc); err != nil {
		return fmt.Errorf("installing document: %w", err)
	}
	coord.Analyze(ctx, sel)
	coord.Wait()

	agg := health.NewAggregator(logger, cfg.Health.FirstMediaPattern)
	reportCache := cache.NewTTLCache()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/issues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, coord.Issues())
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, agg.Aggregate(st.Filtered()))
	})
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if payload, ok := reportCache.Get(reportCacheKey); ok {
			_, _ = w.Write(payload)
			return
		}
		issues := coord.Issues()
		rep := report.Build(report.Input{
			Document:    st.Filtered(),
			Issues:      issues,
			Groups:      rules.GroupIssues(issues),
			Selection:   st.Selection(),
			GeneratedAt: time.Now().UTC(),
			TopFindings: cfg.Report.TopFindings,
		})
		payload, err := report.Serialize(rep)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		reportCache.Set(reportCacheKey, payload, reportCacheTTL)
		_, _ = w.Write(payload)
	})

	server := &http.Server{
		Addr:         address,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("serving analysis", slog.String("address", address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("server shutdown", slog.Any("error", err))
	}
	logger.Info("rtc-triage stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Warn("response encode failed", slog.Any("error", err))
	}
}
