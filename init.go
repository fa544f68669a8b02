package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/shibukawa/tokenlab/internal/config"
)

// InitCmd represents the command to initialize configuration
type InitCmd struct {
	Config    string `arg:"" help:"Configuration file path" default:"tokenlab.yaml"`
	Host      string `help:"Host to bind"`
	Port      string `short:"p" help:"Port to listen on"`
	CORS      bool   `help:"Enable CORS with permissive defaults"`
	NoMetrics bool   `help:"Disable the Prometheus metrics endpoint"`
	// ACME/Autocert settings
	Autocert      bool   `help:"Enable autocert for automatic HTTPS certificates"`
	ACMEServer    string `help:"ACME server URL for autocert" env:"TOKENLAB_ACME_DIRECTORY_URL"`
	Domains       string `help:"Comma-separated list of domains for autocert certificates"`
	Email         string `help:"Email address for ACME registration" env:"TOKENLAB_ACME_EMAIL"`
	AgreeTOS      bool   `help:"Agree to the ACME server's terms of service"`
	AutocertCache string `help:"Directory for cached certificates" default:"./autocert-cache"`
	Overwrite     bool   `short:"w" help:"Overwrite an existing configuration file"`
}

// Run writes the configuration file.
func (cmd *InitCmd) Run() error {
	if !cmd.Overwrite {
		if err := cmd.checkExistingFiles(); err != nil {
			return err
		}
	}

	cfg := config.CreateDefaultConfig()
	opts := &config.InitOptions{
		Host:          cmd.Host,
		Port:          cmd.Port,
		CORS:          cmd.CORS,
		NoMetrics:     cmd.NoMetrics,
		Autocert:      cmd.Autocert,
		ACMEServer:    cmd.ACMEServer,
		Email:         cmd.Email,
		AgreeTOS:      cmd.AgreeTOS,
		AutocertCache: cmd.AutocertCache,
	}
	if cmd.Domains != "" {
		ds := strings.Split(cmd.Domains, ",")
		for i := range ds {
			ds[i] = strings.TrimSpace(ds[i])
		}
		opts.Domains = ds
	}
	cfg.ApplyInitOptions(opts)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := config.SaveConfig(cmd.Config, cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("\n✅ Configuration initialized successfully!")
	fmt.Printf("  File: %s\n", cmd.Config)
	fmt.Printf("  Listen: %s\n", cfg.ListenAddress())
	if cfg.MetricsEnabled() {
		fmt.Printf("  Metrics: %s\n", cfg.Metrics.Path)
	} else {
		fmt.Printf("  Metrics: disabled\n")
	}
	if cfg.CORS != nil && cfg.CORS.Enabled {
		fmt.Printf("  CORS: enabled\n")
	}
	if cfg.Autocert != nil && cfg.Autocert.Enabled {
		fmt.Printf("  Autocert: enabled\n")
		fmt.Printf("  ACME Server: %s\n", cfg.Autocert.ACMEServer)
		fmt.Printf("  Domains: %s\n", strings.Join(cfg.Autocert.Domains, ","))
		fmt.Printf("  Email: %s\n", cfg.Autocert.Email)
	}

	return nil
}

// checkExistingFiles checks if the configuration file already exists
func (cmd *InitCmd) checkExistingFiles() error {
	if _, err := os.Stat(cmd.Config); err == nil {
		color.Red("❌ The following file already exists and would be overwritten:")
		fmt.Printf("  - %s\n", cmd.Config)
		fmt.Println("Please remove it, choose a different file name or pass --overwrite")
		return fmt.Errorf("%w:\n  %s", ErrFilesExist, cmd.Config)
	}
	return nil
}
