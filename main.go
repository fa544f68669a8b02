// Package main provides the tokenlab command-line interface
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/shibukawa/tokenlab/internal/config"
	"github.com/shibukawa/tokenlab/internal/mcp"
	"github.com/shibukawa/tokenlab/internal/server"
)

// Static errors for main.
var (
	ErrFilesExist        = errors.New("files already exist and would be overwritten")
	ErrHealthCheckFailed = errors.New("health check failed")
)

// cli is the main command-line interface structure.
var cli struct {
	Init    InitCmd    `cmd:"" help:"Write a commented default configuration file"`
	Serve   ServeCmd   `cmd:"" help:"Start the token server" default:"1"`
	Predict PredictCmd `cmd:"" help:"Print the token the vulnerable endpoint will issue, without contacting the server"`
	MCP     MCPCmd     `cmd:"" help:"Start MCP (Model Context Protocol) server"`
	Health  HealthCmd  `cmd:"" help:"Check server health"`
}

// MCPCmd represents the command to start MCP server
type MCPCmd struct {
	HTTP   bool   `help:"Serve MCP over HTTP instead of stdin/stdout"`
	Port   int    `help:"Port to listen on for HTTP mode" default:"3001"`
	Config string `short:"c" help:"Configuration file path" default:"tokenlab.yaml"`
}

// Run executes the MCP server command
func (cmd *MCPCmd) Run() error {
	mcpServer := mcp.NewMCPServer(cmd.Config)
	ctx := context.Background()

	if cmd.HTTP {
		color.Cyan("🌐 Starting MCP HTTP server on port %d", cmd.Port)
		return mcpServer.ServeHTTP(ctx, fmt.Sprintf("%d", cmd.Port))
	}

	// Stdout carries the protocol, so status goes to stderr.
	fmt.Fprintln(os.Stderr, color.CyanString("🔌 Starting MCP server in stdin/stdout mode"))
	return mcpServer.ServeStdio(ctx)
}

// HealthCmd represents the command to check server health
type HealthCmd struct {
	URL     string        `help:"Server URL to check (auto-detects protocol/port if not specified)" default:""`
	Port    string        `help:"Port to check (overrides detected port)" default:""`
	Config  string        `short:"c" help:"Configuration file path for auto-detection" default:"tokenlab.yaml"`
	Timeout time.Duration `help:"Request timeout" default:"10s"`
}

// Run executes the health check command
func (cmd *HealthCmd) Run() error {
	healthURL, err := cmd.buildHealthURL()
	if err != nil {
		return fmt.Errorf("failed to build health URL: %w", err)
	}

	// Self-signed and staging certificates are common for a local lab server.
	client := &http.Client{
		Timeout: cmd.Timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
	}

	color.Cyan("🔍 Checking server health at %s", healthURL)

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		color.Red("❌ Failed to connect to server: %v", err)
		return fmt.Errorf("%w: %w", ErrHealthCheckFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			color.Yellow("⚠️  Warning: failed to close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusOK {
		color.Green("✅ Server is healthy")
		return nil
	}
	color.Red("❌ Server returned status: %d", resp.StatusCode)
	return fmt.Errorf("%w: status %d", ErrHealthCheckFailed, resp.StatusCode)
}

// buildHealthURL constructs the health check URL with auto-detection
func (cmd *HealthCmd) buildHealthURL() (string, error) {
	if cmd.URL != "" {
		return strings.TrimSuffix(cmd.URL, "/") + server.HealthPath, nil
	}

	// LoadConfig falls back to defaults and applies TOKENLAB_* overrides.
	cfg, err := config.LoadConfig(cmd.Config, false)
	if err != nil {
		return "", err
	}

	protocol := "http"
	hostname := cfg.Server.Host
	port := cfg.Server.Port
	switch hostname {
	case "", "0.0.0.0", "::":
		hostname = "localhost"
	}

	if cfg.Autocert != nil && cfg.Autocert.Enabled {
		protocol = "https"
		if len(cfg.Autocert.Domains) > 0 {
			hostname = cfg.Autocert.Domains[0]
		}
	} else if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		protocol = "https"
	}

	if cmd.Port != "" {
		port = cmd.Port
	}

	return fmt.Sprintf("%s://%s%s", protocol, net.JoinHostPort(hostname, port), server.HealthPath), nil
}

func main() {
	execName := filepath.Base(os.Args[0])

	ctx := kong.Parse(&cli,
		kong.Name(execName),
		kong.Description("Password reset token randomness lab: a secure and a predictable token endpoint side by side"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	if err := ctx.Run(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
