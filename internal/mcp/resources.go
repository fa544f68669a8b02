// Package mcp provides Model Context Protocol server implementation
package mcp

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shibukawa/tokenlab/internal/chacha"
	"github.com/shibukawa/tokenlab/internal/token"
)

// Static errors for MCP operations.
var (
	ErrConfigPathNotSet     = errors.New("configuration path not set")
	ErrUserIDRequired       = errors.New("user_id is required and must be a string")
	ErrTargetUserIDRequired = errors.New("target_user_id is required and must be a string")
	ErrSuffixMismatch       = errors.New("observed token was not issued by the fixed-seed generator")
)

// registerResources registers all available MCP resources.
func (s *MCPServer) registerResources() {
	s.resources["config://current"] = &CurrentConfigResource{server: s}
	s.resources["seed://fixed"] = &FixedSeedResource{}
}

// CurrentConfigResource implements the config://current resource.
type CurrentConfigResource struct {
	server *MCPServer
}

func (r *CurrentConfigResource) URI() string {
	return "config://current"
}

func (r *CurrentConfigResource) Name() string {
	return "Current Configuration"
}

func (r *CurrentConfigResource) Description() string {
	return "Raw YAML of the tokenlab configuration file"
}

func (r *CurrentConfigResource) MimeType() string {
	return "application/yaml"
}

func (r *CurrentConfigResource) Content(_ context.Context) ([]byte, error) {
	configPath := r.server.currentConfigPath()
	if configPath == "" {
		return nil, ErrConfigPathNotSet
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return content, nil
}

// FixedSeedResource implements the seed://fixed resource: everything an
// attacker needs to reproduce vulnerable tokens.
type FixedSeedResource struct{}

func (r *FixedSeedResource) URI() string {
	return "seed://fixed"
}

func (r *FixedSeedResource) Name() string {
	return "Fixed Seed"
}

func (r *FixedSeedResource) Description() string {
	return "Seed and generator parameters behind /vulnerable/forgot-password"
}

func (r *FixedSeedResource) MimeType() string {
	return "application/json"
}

func (r *FixedSeedResource) Content(_ context.Context) ([]byte, error) {
	seed := token.FixedSeed()

	result := map[string]any{
		"algorithm":        fmt.Sprintf("ChaCha%d", chacha.Rounds),
		"seed_hex":         hex.EncodeToString(seed[:]),
		"seed_byte":        token.FixedSeedByte,
		"counter":          0,
		"stream":           0,
		"output":           "first little-endian u32 of the keystream, decimal",
		"predicted_suffix": token.PredictedSuffix(),
	}

	content, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal seed: %w", err)
	}

	return content, nil
}
