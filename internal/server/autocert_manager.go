package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/shibukawa/tokenlab/internal/config"
)

// ErrAutocertDisabled is returned when an autocert manager is requested for a
// disabled configuration.
var ErrAutocertDisabled = errors.New("autocert is not enabled")

// AutocertManager manages automatic HTTPS certificate acquisition and renewal.
type AutocertManager struct {
	config  *config.AutocertConfig
	manager *autocert.Manager
	logger  *Logger
}

// NewAutocertManager creates a new autocert manager with the given configuration.
func NewAutocertManager(cfg *config.AutocertConfig, logger *Logger) (*AutocertManager, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, ErrAutocertDisabled
	}

	tempConfig := &config.Config{Autocert: cfg}
	if err := tempConfig.ValidateAutocertConfig(); err != nil {
		return nil, fmt.Errorf("invalid autocert configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.CacheDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.CacheDir, err)
	}

	manager := &autocert.Manager{
		Cache:      autocert.DirCache(cfg.CacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cfg.Domains...),
		Email:      cfg.Email,
		Client:     &acme.Client{DirectoryURL: cfg.ACMEServer},
	}

	return &AutocertManager{
		config:  cfg,
		manager: manager,
		logger:  logger,
	}, nil
}

// GetTLSConfig returns a TLS configuration that uses autocert for certificate management.
func (am *AutocertManager) GetTLSConfig() *tls.Config {
	tlsConfig := am.manager.TLSConfig()
	tlsConfig.GetCertificate = am.GetCertificate
	return tlsConfig
}

// HTTPHandler returns an HTTP handler for ACME HTTP-01 challenges.
func (am *AutocertManager) HTTPHandler(fallback http.Handler) http.Handler {
	return am.manager.HTTPHandler(fallback)
}

// GetCertificate returns a certificate for the given hello info, logging failures.
func (am *AutocertManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := am.manager.GetCertificate(hello)
	if err != nil {
		am.logger.Error(fmt.Sprintf("Failed to get certificate for %s", hello.ServerName), err)
		return nil, err
	}
	return cert, nil
}
