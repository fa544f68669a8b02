package mcp

import (
	"context"
	"fmt"

	"github.com/shibukawa/tokenlab/internal/token"
)

// registerTools registers all available MCP tools
func (s *MCPServer) registerTools() {
	s.tools["tokenlab_secure_token"] = &SecureTokenTool{}
	s.tools["tokenlab_vulnerable_token"] = &VulnerableTokenTool{}
	s.tools["tokenlab_predict_token"] = &PredictTokenTool{}
	s.tools["tokenlab_query_config"] = &QueryConfigTool{server: s}
}

// SecureTokenTool implements the tokenlab_secure_token tool
type SecureTokenTool struct{}

func (t *SecureTokenTool) Name() string {
	return "tokenlab_secure_token"
}

func (t *SecureTokenTool) Description() string {
	return "Generate a reset token the way /secure/forgot-password does (random UUIDv4)"
}

func (t *SecureTokenTool) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *SecureTokenTool) Execute(_ context.Context, _ map[string]any) (any, error) {
	return map[string]any{
		"strategy": token.StrategySecure,
		"token":    token.GenerateSecureToken(),
	}, nil
}

// VulnerableTokenTool implements the tokenlab_vulnerable_token tool
type VulnerableTokenTool struct{}

func (t *VulnerableTokenTool) Name() string {
	return "tokenlab_vulnerable_token"
}

func (t *VulnerableTokenTool) Description() string {
	return "Generate a reset token the way /vulnerable/forgot-password does (fixed-seed PRNG)"
}

func (t *VulnerableTokenTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user_id": map[string]any{
				"type":        "string",
				"description": "User ID the token is issued for",
			},
		},
		"required": []string{"user_id"},
	}
}

func (t *VulnerableTokenTool) Execute(_ context.Context, args map[string]any) (any, error) {
	userID, ok := args["user_id"].(string)
	if !ok {
		return nil, ErrUserIDRequired
	}

	return map[string]any{
		"strategy": token.StrategyVulnerable,
		"user_id":  userID,
		"token":    token.GenerateVulnerableToken(userID),
	}, nil
}

// PredictTokenTool implements the tokenlab_predict_token tool. Given one
// observed vulnerable token it forges the token of any other user.
type PredictTokenTool struct{}

func (t *PredictTokenTool) Name() string {
	return "tokenlab_predict_token"
}

func (t *PredictTokenTool) Description() string {
	return "Predict the vulnerable reset token of a target user, optionally checking an observed token first"
}

func (t *PredictTokenTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target_user_id": map[string]any{
				"type":        "string",
				"description": "User whose token should be predicted",
			},
			"observed_token": map[string]any{
				"type":        "string",
				"description": "A token obtained from /vulnerable/forgot-password for any user",
			},
		},
		"required": []string{"target_user_id"},
	}
}

func (t *PredictTokenTool) Execute(_ context.Context, args map[string]any) (any, error) {
	target, ok := args["target_user_id"].(string)
	if !ok {
		return nil, ErrTargetUserIDRequired
	}

	result := map[string]any{
		"target_user_id":  target,
		"predicted_token": token.GenerateVulnerableToken(target),
		"suffix":          token.PredictedSuffix(),
	}

	if observed, ok := args["observed_token"].(string); ok && observed != "" {
		userID, suffix, err := token.ParseVulnerableToken(observed)
		if err != nil {
			return nil, err
		}
		if suffix != token.PredictedSuffix() {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrSuffixMismatch, suffix, token.PredictedSuffix())
		}
		result["observed_user_id"] = userID
	}

	return result, nil
}

// QueryConfigTool implements the tokenlab_query_config tool
type QueryConfigTool struct {
	server *MCPServer
}

func (t *QueryConfigTool) Name() string {
	return "tokenlab_query_config"
}

func (t *QueryConfigTool) Description() string {
	return "Query the effective tokenlab server configuration"
}

func (t *QueryConfigTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"config_path": map[string]any{
				"type":        "string",
				"description": "Path to configuration file (defaults to the one given at startup)",
			},
		},
	}
}

func (t *QueryConfigTool) Execute(_ context.Context, args map[string]any) (any, error) {
	if configPath, ok := args["config_path"].(string); ok && configPath != "" {
		t.server.setConfigPath(configPath)
	}

	cfg, err := t.server.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	https := cfg.Autocert != nil && cfg.Autocert.Enabled ||
		cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != ""

	result := map[string]any{
		"listen_address":  cfg.ListenAddress(),
		"base_url":        cfg.BaseURL(https),
		"verbose_logging": cfg.Server.VerboseLogging,
		"metrics_enabled": cfg.MetricsEnabled(),
		"cors_enabled":    cfg.CORS != nil && cfg.CORS.Enabled,
	}
	if cfg.MetricsEnabled() {
		result["metrics_path"] = cfg.Metrics.Path
	}
	if cfg.Autocert != nil && cfg.Autocert.Enabled {
		result["autocert"] = map[string]any{
			"domains":     cfg.Autocert.Domains,
			"acme_server": cfg.Autocert.ACMEServer,
			"cache_dir":   cfg.Autocert.CacheDir,
		}
	}

	return result, nil
}
