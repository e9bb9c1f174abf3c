package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/asyncdeta/deta_sdk_go/internal/logger"
	"github.com/asyncdeta/deta_sdk_go/internal/sandbox"
	"github.com/asyncdeta/deta_sdk_go/pkg/deta"
)

type flags struct {
	addr       string
	projectKey string
	baseSeed   string
	driveSeed  string
	pageSize   int
	latency    time.Duration
	failRate   float64
	failCode   int
	rateLimit  float64
	rateBurst  int
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:          "deta-sandbox",
		Short:        "Serve the Deta Base and Drive APIs from in-memory stores",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.addr, "addr", ":8787", "listen address")
	fl.StringVar(&f.projectKey, "project-key", "sandbox_key", "only API key accepted; its prefix is the project id")
	fl.StringVar(&f.baseSeed, "base-seed", "", "path to JSON seed for the Base store")
	fl.StringVar(&f.driveSeed, "drive-seed", "", "path to JSON seed for the Drive store")
	fl.IntVar(&f.pageSize, "page-size", 0, "cap items per query/list page (0 keeps the service limit)")
	fl.DurationVar(&f.latency, "latency", 0, "artificial latency added to every request")
	fl.Float64Var(&f.failRate, "fail-rate", 0, "probability in [0,1] of answering with --fail-code")
	fl.IntVar(&f.failCode, "fail-code", http.StatusInternalServerError, "status used for injected failures")
	fl.Float64Var(&f.rateLimit, "rate-limit", 0, "requests per second per API key (0 disables)")
	fl.IntVar(&f.rateBurst, "rate-burst", 1, "burst allowed by --rate-limit")
	fl.StringVar(&f.logLevel, "log-level", "INFO", "DEBUG, INFO, WARN or ERROR")
	return cmd
}

func run(ctx context.Context, f flags) error {
	if f.failRate < 0 || f.failRate > 1 {
		return fmt.Errorf("--fail-rate must be within [0,1], got %v", f.failRate)
	}
	projectID, _, _ := strings.Cut(f.projectKey, "_")
	if projectID == "" {
		return errors.New("--project-key needs a project id prefix")
	}
	log := logger.New(logger.Config{Level: f.logLevel})

	bases, drives, err := deta.NewMocks(projectID, f.pageSize, f.baseSeed, f.driveSeed)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := sandbox.New(sandbox.Config{
		ProjectKey: f.projectKey,
		Latency:    f.latency,
		FailRate:   f.failRate,
		FailCode:   f.failCode,
		RateLimit:  f.rateLimit,
		RateBurst:  f.rateBurst,
		Logger:     log,
	}, bases, drives)

	server := &http.Server{
		Addr:              f.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	host := f.addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	log.Info("deta-sandbox listening", "addr", f.addr, "project", projectID)
	fmt.Println()
	fmt.Println("export DETA_RUNTIME_MODE=http")
	fmt.Printf("export DETA_PROJECT_KEY=%s\n", f.projectKey)
	fmt.Printf("export DETA_BASE_URL=http://%s%s/\n", host, sandbox.BasePrefix)
	fmt.Printf("export DETA_DRIVE_URL=http://%s%s/\n", host, sandbox.DrivePrefix)
	fmt.Println()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Info("deta-sandbox shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
