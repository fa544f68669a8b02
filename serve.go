package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/shibukawa/tokenlab/internal/config"
	"github.com/shibukawa/tokenlab/internal/server"
)

var ErrAutocertConflictProvidedFiles = errors.New("autocert is configured; do not provide TLS cert/key files when using autocert")

const shutdownTimeout = 5 * time.Second

// ServeCmd represents the command to start the token server
type ServeCmd struct {
	Config   string `short:"c" help:"Configuration file path (defaults are used when it does not exist)" default:"tokenlab.yaml"`
	Port     string `short:"p" help:"Port to listen on (default 8080)"`
	Host     string `help:"Host to bind (default 127.0.0.1)"`
	Watch    bool   `short:"w" help:"Watch configuration file for changes and reload automatically"`
	HTTPS    bool   `help:"Enable HTTPS server"`
	CertFile string `help:"Path to TLS certificate file (for HTTPS)"`
	KeyFile  string `help:"Path to TLS private key file (for HTTPS)"`
	Verbose  bool   `short:"v" help:"Enable verbose logging (including health and metrics requests)" env:"TOKENLAB_VERBOSE"`
}

// Run executes the serve command
func (cmd *ServeCmd) Run() error {
	cfg, err := config.LoadConfig(cmd.Config, cmd.Verbose)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	useHTTPS, msg := cfg.PrepareForServe(&config.ServeOptions{
		Host:        cmd.Host,
		Port:        cmd.Port,
		PreferHTTPS: cmd.HTTPS,
		Verbose:     cmd.Verbose,
	})
	if msg != "" {
		color.Cyan(msg)
	}
	// Flags may have produced an invalid port.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if cmd.Watch {
		color.Cyan("🔄 Watch mode enabled - configuration will be reloaded automatically on changes")
		watcher, err := cmd.setupConfigWatcher(srv)
		if err != nil {
			return fmt.Errorf("failed to setup config watcher: %w", err)
		}
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- cmd.start(srv, cfg, useHTTPS)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		color.Yellow("\n🛑 Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (cmd *ServeCmd) start(srv *server.Server, cfg *config.Config, useHTTPS bool) error {
	if !useHTTPS {
		color.Cyan("🔄 Starting server with HTTP...")
		return srv.Start()
	}

	if srv.SupportsAutocert() {
		if cmd.CertFile != "" || cmd.KeyFile != "" {
			return ErrAutocertConflictProvidedFiles
		}
		color.Cyan("🔄 Autocert is configured - starting HTTPS with autocert...")
		return srv.StartTLS("", "")
	}

	certFile, keyFile := cmd.CertFile, cmd.KeyFile
	if certFile == "" {
		certFile = cfg.Server.TLSCertFile
	}
	if keyFile == "" {
		keyFile = cfg.Server.TLSKeyFile
	}
	color.Cyan("🔄 Starting server with TLS certificates...")
	return srv.StartTLS(certFile, keyFile)
}

// setupConfigWatcher watches the directory holding the configuration file so
// that editors which replace the file on save are still noticed.
func (cmd *ServeCmd) setupConfigWatcher(srv *server.Server) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(cmd.Config)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("invalid config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file %s: %w", cmd.Config, err)
	}

	go func() {
		var debounceTimer *time.Timer
		const debounceDelay = 500 * time.Millisecond

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isConfigChange(event, absPath) {
					continue
				}
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					cmd.reloadConfig(srv)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				color.Red("❌ File watcher error: %v", err)
			}
		}
	}()

	return watcher, nil
}

// isConfigChange reports whether event rewrote the file at configPath.
func isConfigChange(event fsnotify.Event, configPath string) bool {
	if filepath.Clean(event.Name) != configPath {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// reloadConfig reloads the configuration and updates the server
func (cmd *ServeCmd) reloadConfig(srv *server.Server) {
	newCfg, err := config.LoadConfig(cmd.Config, cmd.Verbose)
	if err == nil {
		newCfg.PrepareForServe(&config.ServeOptions{Host: cmd.Host, Port: cmd.Port, Verbose: cmd.Verbose})
		err = srv.UpdateConfig(newCfg)
	}
	if err != nil {
		srv.GetPrettyLogger().ConfigReloadFailed(cmd.Config, err)
	}
}
