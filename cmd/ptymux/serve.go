package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/ptymux/internal/ptybridge"
	"github.com/srg/ptymux/internal/ptyfs"
	"github.com/srg/ptymux/internal/ptysrv"
	"github.com/srg/ptymux/internal/transport"
	"github.com/srg/ptymux/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the PTY multiplexer service",
	Long: `Runs the websocket PTY multiplexer service.

The server side of the stream binds at ws://<addr>/server; clients are
opened with the open_client operation and bind at ws://<addr>/client/<id>.
Client 0 is the control client and may issue administrative operations
(make_active, set_window_size, read_events).

With --mount, every client also appears as a file under the given
directory. With --pty, the server side is attached to a fresh
pseudo-terminal device whose path is logged at startup, so ordinary
terminal programs can act as the server-side application.

Example:
  ptymux serve --listen :7850
  ptymux serve --config /etc/ptymux.yaml --mount /run/ptymux --pty`,
	RunE: runServe,
}

var (
	serveConfigPath string
	serveListenAddr string
	serveMountDir   string
	servePTY        bool
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "YAML configuration file")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveMountDir, "mount", "", "Mount the client filesystem at this directory (overrides config)")
	serveCmd.Flags().BoolVar(&servePTY, "pty", false, "Bridge the server side to an OS pseudo-terminal")
	serveCmd.Flags().Bool("verbose", false, "Enable verbose output")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if serveListenAddr != "" {
		cfg.ListenAddr = serveListenAddr
	}
	if serveMountDir != "" {
		cfg.MountDir = serveMountDir
	}
	if servePTY {
		cfg.Bridge = true
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	// Flags win; otherwise fall back to the config.
	lvl, _ := cmd.Flags().GetString("log-level")
	verbose, _ := cmd.Flags().GetBool("verbose")
	if lvl == "" && !verbose {
		cfgLogger, err := cfg.NewLogger()
		if err != nil {
			return err
		}
		logger = cfgLogger
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	srv := ptysrv.NewServer(logger, ptysrv.WindowSize{
		Cols: cfg.WindowCols,
		Rows: cfg.WindowRows,
	})
	svc := transport.NewService(srv, logger)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: svc.Handler(),
	}

	var bridge *ptybridge.Bridge
	if cfg.Bridge {
		bridge, err = ptybridge.New(srv, &ptybridge.Options{Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to create PTY bridge: %w", err)
		}
		defer func() { _ = bridge.Close() }()
		fmt.Printf("Server side attached to %s\n", bridge.TTYName())
	}

	if cfg.MountDir != "" {
		fuseSrv, err := ptyfs.Mount(cfg.MountDir, srv, logger)
		if err != nil {
			return fmt.Errorf("failed to mount client filesystem at %s: %w", cfg.MountDir, err)
		}
		defer func() { _ = fuseSrv.Unmount() }()
	}

	// Handle interrupts gracefully
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down...")
		cancel()
	}()

	errChan := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("PTY multiplexer listening")
		errChan <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("service failed: %w", err)
		}
	case <-ctx.Done():
	}

	// Hang up every client, then stop accepting connections.
	svc.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP shutdown did not finish cleanly")
	}
	return nil
}
