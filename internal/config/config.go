// Package config provides functionality to manage tokenlab configuration
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/goccy/go-yaml"
)

// Defaults applied when the configuration leaves a value empty.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = "8080"
	DefaultMetricsPath = "/metrics"
	DefaultCacheDir    = "./autocert-cache"

	LetsEncryptProduction = "https://acme-v02.api.letsencrypt.org/directory"
	LetsEncryptStaging    = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

var (
	ErrAutocertDomainsRequired = errors.New("autocert.domains is required when autocert is enabled")
	ErrAutocertEmailRequired   = errors.New("autocert.email is required when autocert is enabled")
	ErrAutocertAgreeTOS        = errors.New("autocert.agree_tos must be true when autocert is enabled")
	ErrAutocertConflict        = errors.New("autocert is enabled but TLS cert/key are also configured; choose one method")
)

// Static errors for better error handling.
var (
	ErrInvalidPort        = errors.New("invalid port")
	ErrInvalidMetricsPath = errors.New("invalid metrics.path")
	ErrReservedPath       = errors.New("metrics.path collides with a built-in endpoint")
	ErrInvalidCORSMaxAge  = errors.New("cors.max_age must not be negative")
)

// Config represents the tokenlab configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Metrics  *MetricsConfig  `yaml:"metrics,omitempty"`
	CORS     *CORSConfig     `yaml:"cors,omitempty"`
	Autocert *AutocertConfig `yaml:"autocert,omitempty"`
}

// ServerConfig represents listener settings.
type ServerConfig struct {
	Host           string `yaml:"host,omitempty"`
	Port           string `yaml:"port,omitempty"`
	VerboseLogging bool   `yaml:"verbose_logging,omitempty"`
	// TLS certificate file paths for serving HTTPS when not using autocert.
	TLSCertFile string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty"`
}

// MetricsConfig represents Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// CORSConfig represents Cross-Origin Resource Sharing configuration.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	AllowedMethods []string `yaml:"allowed_methods,omitempty"`
	AllowedHeaders []string `yaml:"allowed_headers,omitempty"`
	// MaxAge is how long, in seconds, browsers may cache a preflight answer.
	// Zero leaves Access-Control-Max-Age unset.
	MaxAge int `yaml:"max_age,omitempty"`
}

// AutocertConfig represents automatic HTTPS certificate configuration.
type AutocertConfig struct {
	Enabled    bool     `yaml:"enabled,omitempty"`
	Domains    []string `yaml:"domains,omitempty"`
	Email      string   `yaml:"email,omitempty"`
	AgreeTOS   bool     `yaml:"agree_tos,omitempty"`
	CacheDir   string   `yaml:"cache_dir,omitempty"`
	ACMEServer string   `yaml:"acme_server,omitempty"`
	Staging    bool     `yaml:"staging,omitempty"`
}

// ListenAddress returns host:port for the HTTP listener.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// BaseURL returns the URL clients use to reach the server.
func (c *Config) BaseURL(https bool) string {
	scheme := "http"
	if https {
		scheme = "https"
	}
	host := c.Server.Host
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	if https && c.Autocert != nil && c.Autocert.Enabled && len(c.Autocert.Domains) > 0 {
		return "https://" + c.Autocert.Domains[0]
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(host, c.Server.Port))
}

// MetricsEnabled reports whether the metrics endpoint is served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled
}

// loadConfig loads configuration from a YAML file.
func loadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// LoadConfig loads configuration from file, falling back to defaults when the
// file does not exist, then applies TOKENLAB_ prefixed environment overrides
// and fills in defaults.
func LoadConfig(configPath string, verbose bool) (*Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = createDefaultConfig()
	}

	if verbose {
		cfg.Server.VerboseLogging = true
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variables. Environment wins over file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TOKENLAB_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TOKENLAB_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("TOKENLAB_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			if cfg.Metrics == nil {
				cfg.Metrics = &MetricsConfig{}
			}
			cfg.Metrics.Enabled = b
		}
	}

	o := &AutocertOverrides{
		ACMEDirectoryURL: os.Getenv("TOKENLAB_ACME_DIRECTORY_URL"),
		Email:            os.Getenv("TOKENLAB_ACME_EMAIL"),
		Domain:           os.Getenv("TOKENLAB_ACME_DOMAIN"),
		CacheDir:         os.Getenv("TOKENLAB_ACME_CACHE_DIR"),
	}
	if v := os.Getenv("TOKENLAB_ACME_AGREE_TOS"); v != "" {
		o.AgreeTOS, _ = strconv.ParseBool(v)
	}
	applyAutocertOverrides(cfg, o)
}

// AutocertOverrides represents environment variable overrides for autocert
type AutocertOverrides struct {
	ACMEDirectoryURL string
	Email            string
	Domain           string
	CacheDir         string
	AgreeTOS         bool
}

func (o *AutocertOverrides) present() bool {
	return o != nil && (o.ACMEDirectoryURL != "" || o.Email != "" || o.Domain != "" || o.CacheDir != "" || o.AgreeTOS)
}

// applyAutocertOverrides enables autocert when any override is present.
func applyAutocertOverrides(cfg *Config, o *AutocertOverrides) {
	if !o.present() {
		return
	}
	if cfg.Autocert == nil {
		cfg.Autocert = &AutocertConfig{}
	}
	cfg.Autocert.Enabled = true

	if o.ACMEDirectoryURL != "" {
		cfg.Autocert.ACMEServer = o.ACMEDirectoryURL
	}
	if o.Email != "" {
		cfg.Autocert.Email = o.Email
	}
	if o.Domain != "" {
		domains := strings.Split(o.Domain, ",")
		for i, domain := range domains {
			domains[i] = strings.TrimSpace(domain)
		}
		cfg.Autocert.Domains = domains
	}
	if o.CacheDir != "" {
		cfg.Autocert.CacheDir = o.CacheDir
	}
	if o.AgreeTOS {
		cfg.Autocert.AgreeTOS = true
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Metrics != nil && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks listener and metrics settings, then autocert settings.
func (c *Config) Validate() error {
	if p, err := strconv.Atoi(c.Server.Port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, c.Server.Port)
	}
	// The route is registered even while metrics are disabled so that a
	// reload can turn them on.
	if c.Metrics != nil && c.Metrics.Path != "" {
		if err := ValidateMetricsPath(c.Metrics.Path); err != nil {
			return err
		}
	}
	if c.CORS != nil && c.CORS.MaxAge < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCORSMaxAge, c.CORS.MaxAge)
	}
	return c.ValidateAutocertConfig()
}

// ValidateMetricsPath checks that p can be registered as a GET route next to
// the token and health endpoints.
func ValidateMetricsPath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidMetricsPath, p)
	}
	for _, r := range p {
		if !isMetricsPathRune(r) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidMetricsPath, p, r)
		}
	}
	cleaned := path.Clean(p)
	if cleaned != p && cleaned+"/" != p {
		return fmt.Errorf("%w: %q is not a clean path", ErrInvalidMetricsPath, p)
	}
	// "/" would match every path and turn unknown routes into 405s.
	switch cleaned {
	case "/", "/secure/forgot-password", "/vulnerable/forgot-password", "/health":
		return fmt.Errorf("%w: %q", ErrReservedPath, p)
	}
	return nil
}

// isMetricsPathRune allows unreserved URL characters only, which keeps
// ServeMux wildcards and spaces out of the pattern.
func isMetricsPathRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '/', r == '-', r == '.', r == '_', r == '~':
		return true
	}
	return false
}

// ValidateAutocertConfig validates the autocert configuration and fills in
// its defaults.
func (c *Config) ValidateAutocertConfig() error {
	if c.Autocert == nil || !c.Autocert.Enabled {
		return nil // Disabled or nil autocert is valid
	}

	if len(c.Autocert.Domains) == 0 {
		return ErrAutocertDomainsRequired
	}
	if c.Autocert.Email == "" {
		return ErrAutocertEmailRequired
	}
	if !c.Autocert.AgreeTOS {
		return ErrAutocertAgreeTOS
	}

	if c.Autocert.CacheDir == "" {
		c.Autocert.CacheDir = DefaultCacheDir
	}
	if c.Autocert.ACMEServer == "" {
		if c.Autocert.Staging {
			c.Autocert.ACMEServer = LetsEncryptStaging
		} else {
			c.Autocert.ACMEServer = LetsEncryptProduction
		}
	}

	if c.Server.TLSCertFile != "" || c.Server.TLSKeyFile != "" {
		return ErrAutocertConflict
	}
	return nil
}

// ServeOptions contains parameters used by the serve command to prepare the
// configuration before starting the server.
type ServeOptions struct {
	Host        string
	Port        string
	PreferHTTPS bool
	Verbose     bool
}

// PrepareForServe applies command-line overrides and returns whether HTTPS
// should be used and an optional message (e.g., auto-enable hint).
func (c *Config) PrepareForServe(opts *ServeOptions) (useHTTPS bool, message string) {
	if opts == nil {
		return false, ""
	}

	if opts.Host != "" {
		c.Server.Host = opts.Host
	}
	if opts.Port != "" {
		c.Server.Port = opts.Port
	}
	if opts.Verbose {
		c.Server.VerboseLogging = true
	}
	applyDefaults(c)

	useHTTPS = opts.PreferHTTPS
	if c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != "" {
		useHTTPS = true
	}
	if c.Autocert != nil && c.Autocert.Enabled {
		useHTTPS = true
		message = "🔧 Auto-enabling HTTPS mode due to autocert configuration"
	}
	return useHTTPS, message
}

// SaveConfig saves configuration to a YAML file using text template.
func SaveConfig(configPath string, config *Config) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	yamlContent, err := generateConfigYAML(config)
	if err != nil {
		return fmt.Errorf("failed to generate config YAML: %w", err)
	}

	// Write to file atomically
	tempFile := absPath + ".tmp"
	if err := os.WriteFile(tempFile, []byte(yamlContent), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, absPath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// InitializeConfig creates a new configuration file with default values.
func InitializeConfig(configPath string) error {
	return SaveConfig(configPath, createDefaultConfig())
}

// CreateDefaultConfig creates the default configuration (exported version).
func CreateDefaultConfig() *Config {
	return createDefaultConfig()
}

func createDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
		// Leave origins, methods, and headers empty to use permissive defaults
		CORS: &CORSConfig{
			Enabled: false,
		},
	}
}

// InitOptions contains the values coming from the CLI init command.
type InitOptions struct {
	Host          string
	Port          string
	CORS          bool
	NoMetrics     bool
	Autocert      bool
	ACMEServer    string
	Domains       []string
	Email         string
	AgreeTOS      bool
	AutocertCache string
}

// ApplyInitOptions applies initialization options (from CLI) to the
// configuration.
func (c *Config) ApplyInitOptions(opts *InitOptions) {
	if opts == nil {
		return
	}
	if opts.Host != "" {
		c.Server.Host = opts.Host
	}
	if opts.Port != "" {
		c.Server.Port = opts.Port
	}
	if opts.CORS {
		if c.CORS == nil {
			c.CORS = &CORSConfig{}
		}
		c.CORS.Enabled = true
	}
	if opts.NoMetrics && c.Metrics != nil {
		c.Metrics.Enabled = false
	}
	if opts.Autocert {
		if c.Autocert == nil {
			c.Autocert = &AutocertConfig{}
		}
		c.Autocert.Enabled = true
		c.Autocert.ACMEServer = opts.ACMEServer
		c.Autocert.Email = opts.Email
		c.Autocert.AgreeTOS = opts.AgreeTOS
		c.Autocert.Domains = opts.Domains
		c.Autocert.CacheDir = opts.AutocertCache
		if c.Autocert.CacheDir == "" {
			c.Autocert.CacheDir = DefaultCacheDir
		}
	}
}

// generateConfigYAML generates YAML configuration using text template
func generateConfigYAML(config *Config) (string, error) {
	tmpl := `# Listener settings
server:
  host: "{{.Server.Host}}"
  port: "{{.Server.Port}}"
  verbose_logging: {{.Server.VerboseLogging}}  # Also log health checks{{if .Server.TLSCertFile}}
  tls_cert_file: "{{.Server.TLSCertFile}}"{{end}}{{if .Server.TLSKeyFile}}
  tls_key_file: "{{.Server.TLSKeyFile}}"{{end}}
{{if .Metrics}}
# Prometheus metrics
metrics:
  enabled: {{.Metrics.Enabled}}{{if .Metrics.Path}}
  path: "{{.Metrics.Path}}"{{end}}
{{end}}{{if .CORS}}
# CORS (Cross-Origin Resource Sharing) settings for browser-based demos
cors:
  enabled: {{.CORS.Enabled}}{{if .CORS.AllowedOrigins}}
  allowed_origins:{{range .CORS.AllowedOrigins}}
    - "{{.}}"{{end}}{{end}}{{if .CORS.AllowedMethods}}
  allowed_methods:{{range .CORS.AllowedMethods}}
    - "{{.}}"{{end}}{{end}}{{if .CORS.AllowedHeaders}}
  allowed_headers:{{range .CORS.AllowedHeaders}}
    - "{{.}}"{{end}}{{end}}{{if .CORS.MaxAge}}
  max_age: {{.CORS.MaxAge}}{{end}}
{{end}}{{if .Autocert}}
# Automatic HTTPS certificate configuration
autocert:
  enabled: {{.Autocert.Enabled}}{{if .Autocert.Domains}}
  domains:{{range .Autocert.Domains}}
    - "{{.}}"{{end}}{{end}}{{if .Autocert.Email}}
  email: "{{.Autocert.Email}}"{{end}}
  agree_tos: {{.Autocert.AgreeTOS}}{{if .Autocert.CacheDir}}
  cache_dir: "{{.Autocert.CacheDir}}"{{end}}{{if .Autocert.ACMEServer}}
  acme_server: "{{.Autocert.ACMEServer}}"{{end}}
  staging: {{.Autocert.Staging}}
{{end}}`

	t, err := template.New("config").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var result strings.Builder
	if err := t.Execute(&result, config); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return result.String(), nil
}
