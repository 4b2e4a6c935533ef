package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"

	"github.com/gregLibert/brizzi-terminal/internal/pcsc"
	"github.com/gregLibert/brizzi-terminal/internal/publish"
	"github.com/gregLibert/brizzi-terminal/internal/terminal"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Charge every card presented to the reader",
		RunE:  runServe,
	}

	cmd.Flags().String("metrics", "", "Address serving /metrics (overrides metrics.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr, _ := cmd.Flags().GetString("metrics"); addr != "" {
		a.cfg.Metrics.Addr = addr
	}

	metrics := kprom.NewMetrics("brizzi")
	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: metricsMux(metrics), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info("serving metrics", zap.String("addr", a.cfg.Metrics.Addr))
	}

	pub, err := a.publisher(ctx, metrics)
	if err != nil {
		return err
	}
	return a.serve(ctx, pub, pcsc.Establish)
}

// serve runs the terminal until ctx ends. pub may be nil; it is closed on every path, by the
// terminal once one exists.
func (a *app) serve(ctx context.Context, pub publish.Publisher, establish func() (*pcsc.Context, error)) error {
	owned := false
	defer func() {
		if pub != nil && !owned {
			pub.Close()
		}
	}()

	sc, err := establish()
	if err != nil {
		return err
	}
	defer func() { _ = sc.Release() }()

	var opts []terminal.Option
	if pub != nil {
		opts = append(opts, terminal.WithPublisher(pub))
	}
	term, err := a.terminal(sc, opts...)
	if err != nil {
		return err
	}
	owned = true
	defer term.Close()

	if readers, err := sc.Readers(); err == nil {
		a.logger.Info("readers attached", zap.Strings("readers", readers))
	}

	a.logger.Info("waiting for cards",
		zap.String("sam_reader", a.cfg.Readers.SAM),
		zap.Uint32("amount", a.cfg.Terminal.Amount),
	)
	return term.Serve(ctx, sc.Monitor())
}

func metricsMux(metrics *kprom.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
