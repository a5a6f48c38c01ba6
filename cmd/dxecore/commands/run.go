package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patina-fw/dxecore/internal/debugsrv"
	"github.com/patina-fw/dxecore/internal/logger"
	"github.com/patina-fw/dxecore/pkg/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot a simulated core session against a firmware-volume manifest",
	Long: `Boot a simulated DXE core session: assemble C1-C13, load the
firmware-volume manifest named in configuration, and dispatch every
driver it describes to completion.

If debug.enabled is set (directly, or via --debug), the session stays
up afterward and serves its introspection endpoints until interrupted.

Examples:
  # Boot once and exit
  dxecore run --config /etc/dxecore/config.yaml

  # Boot and keep the debug server up until Ctrl+C
  dxecore run --debug`,
	RunE: runRun,
}

var runDebug bool

func init() {
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Start the loopback debug HTTP server and keep running until interrupted")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	if runDebug {
		cfg.Debug.Enabled = true
	}

	sess, err := newSession(cfg)
	if err != nil {
		return err
	}
	logger.Info("session booted",
		"address_bits", cfg.Gcd.AddressBits,
		"driver_binding_priority", cfg.Dispatch.DriverBindingPriority)

	if err := sess.loadManifest(cfg.Simulation.ManifestPath); err != nil {
		return err
	}

	sess.runToCompletion()
	pending := sess.dispatcher.PendingDriverNames()
	logger.Info("dispatch converged", "pending_drivers", len(pending))
	for _, name := range pending {
		logger.Warn("driver never satisfied its dependency expression", "driver", name.String())
	}

	if !cfg.Debug.Enabled {
		return nil
	}
	return serveDebug(cfg, sess)
}

// serveDebug starts the loopback debug server over sess and blocks until
// SIGINT/SIGTERM, mirroring start.go's signal-driven shutdown.
func serveDebug(cfg *config.Config, sess *session) error {
	router := debugsrv.NewRouter(&debugsrv.Session{
		Memory:     &sess.domain.Memory,
		Protocols:  sess.protos,
		Events:     sess.events,
		Dispatcher: sess.dispatcher,
		Registry:   sess.promReg,
	})

	srv := &http.Server{
		Addr:         cfg.Debug.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Debug.ReadTimeout,
		WriteTimeout: cfg.Debug.WriteTimeout,
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.ListenAndServe() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("debug server listening", "addr", cfg.Debug.Addr)
	fmt.Printf("Debug server listening on %s. Press Ctrl+C to stop.\n", cfg.Debug.Addr)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("run: debug server shutdown: %w", err)
		}
		return nil
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("run: debug server error: %w", err)
		}
		return nil
	}
}
