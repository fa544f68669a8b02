package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shibukawa/tokenlab/internal/config"
	"github.com/shibukawa/tokenlab/internal/token"
)

func callTool(t *testing.T, server *MCPServer, name string, args map[string]any) map[string]any {
	t.Helper()

	response := server.handleRequest(t.Context(), &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params: map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if response.Error != nil {
		t.Fatalf("Expected no error, got: %+v", response.Error)
	}

	result, ok := response.Result.(map[string]any)
	if !ok {
		t.Fatal("Expected result to be a map")
	}
	content, ok := result["content"].([]map[string]any)
	if !ok || len(content) != 1 {
		t.Fatalf("Expected one content item, got: %v", result["content"])
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), &decoded); err != nil {
		t.Fatalf("Tool output is not JSON: %v", err)
	}
	return decoded
}

func TestMCPServer_Initialize(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	request := &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params:  map[string]any{},
	}

	response := server.handleRequest(t.Context(), request)

	if response.Error != nil {
		t.Fatalf("Expected no error, got: %v", response.Error)
	}

	result, ok := response.Result.(map[string]any)
	if !ok {
		t.Fatal("Expected result to be a map")
	}

	if result["protocolVersion"] != "2024-11-05" {
		t.Errorf("Expected protocol version 2024-11-05, got: %v", result["protocolVersion"])
	}

	serverInfo, ok := result["serverInfo"].(map[string]any)
	if !ok {
		t.Fatal("Expected serverInfo to be a map")
	}

	if serverInfo["name"] != "tokenlab" {
		t.Errorf("Expected server name tokenlab, got: %v", serverInfo["name"])
	}
}

func TestMCPServer_ToolsList(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	response := server.handleRequest(t.Context(), &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/list",
	})

	if response.Error != nil {
		t.Fatalf("Expected no error, got: %v", response.Error)
	}

	result, ok := response.Result.(map[string]any)
	if !ok {
		t.Fatal("Expected result to be a map")
	}

	tools, ok := result["tools"].([]map[string]any)
	if !ok {
		t.Fatal("Expected tools to be a slice of maps")
	}

	// Sorted by name.
	expectedTools := []string{
		"tokenlab_predict_token",
		"tokenlab_query_config",
		"tokenlab_secure_token",
		"tokenlab_vulnerable_token",
	}

	if len(tools) != len(expectedTools) {
		t.Fatalf("Expected %d tools, got %d", len(expectedTools), len(tools))
	}
	for i, tool := range tools {
		if tool["name"] != expectedTools[i] {
			t.Errorf("Expected tool %d to be %s, got %v", i, expectedTools[i], tool["name"])
		}
		if _, ok := tool["inputSchema"].(map[string]any); !ok {
			t.Errorf("Expected inputSchema for %s", expectedTools[i])
		}
	}
}

func TestMCPServer_ResourcesList(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	response := server.handleRequest(t.Context(), &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "resources/list",
	})

	if response.Error != nil {
		t.Fatalf("Expected no error, got: %v", response.Error)
	}

	result := response.Result.(map[string]any)
	resources, ok := result["resources"].([]map[string]any)
	if !ok {
		t.Fatal("Expected resources to be a slice of maps")
	}

	expectedResources := []string{"config://current", "seed://fixed"}
	if len(resources) != len(expectedResources) {
		t.Fatalf("Expected %d resources, got %d", len(expectedResources), len(resources))
	}
	for i, resource := range resources {
		if resource["uri"] != expectedResources[i] {
			t.Errorf("Expected resource %d to be %s, got %v", i, expectedResources[i], resource["uri"])
		}
	}
}

func TestMCPServer_SecureTokenTool(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	first := callTool(t, server, "tokenlab_secure_token", nil)
	second := callTool(t, server, "tokenlab_secure_token", nil)

	if first["strategy"] != "secure" {
		t.Errorf("Expected strategy secure, got %v", first["strategy"])
	}
	tok, _ := first["token"].(string)
	if !token.IsSecureToken(tok) {
		t.Errorf("Expected a canonical UUIDv4, got %q", tok)
	}
	if first["token"] == second["token"] {
		t.Errorf("Expected distinct secure tokens, got %v twice", first["token"])
	}
}

func TestMCPServer_VulnerableTokenTool(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	result := callTool(t, server, "tokenlab_vulnerable_token", map[string]any{"user_id": "alice"})
	if result["token"] != "alice-3622306099" {
		t.Errorf("Expected alice-3622306099, got %v", result["token"])
	}

	response := server.handleRequest(t.Context(), &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  map[string]any{"name": "tokenlab_vulnerable_token"},
	})
	if response.Error == nil || response.Error.Code != InternalError {
		t.Fatalf("Expected internal error for missing user_id, got %+v", response.Error)
	}
	if response.Error.Data != ErrUserIDRequired.Error() {
		t.Errorf("Unexpected error data: %v", response.Error.Data)
	}
}

func TestMCPServer_PredictTokenTool(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	result := callTool(t, server, "tokenlab_predict_token", map[string]any{
		"target_user_id": "admin",
		"observed_token": "attacker-3622306099",
	})
	if result["predicted_token"] != "admin-3622306099" {
		t.Errorf("Expected admin-3622306099, got %v", result["predicted_token"])
	}
	if result["observed_user_id"] != "attacker" {
		t.Errorf("Expected observed user attacker, got %v", result["observed_user_id"])
	}
	// JSON numbers decode as float64.
	if result["suffix"] != float64(3622306099) {
		t.Errorf("Expected suffix 3622306099, got %v", result["suffix"])
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr error
	}{
		{"missing target", map[string]any{}, ErrTargetUserIDRequired},
		{"malformed observation", map[string]any{"target_user_id": "admin", "observed_token": "nodash"}, token.ErrMalformedToken},
		{"foreign observation", map[string]any{"target_user_id": "admin", "observed_token": "alice-42"}, ErrSuffixMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&PredictTokenTool{}).Execute(t.Context(), tt.args)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMCPServer_QueryConfigTool(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "tokenlab.yaml")
	cfg := config.CreateDefaultConfig()
	cfg.Server.Port = "9191"
	cfg.CORS.Enabled = true
	if err := config.SaveConfig(configPath, cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	server := NewMCPServer("unused.yaml")
	result := callTool(t, server, "tokenlab_query_config", map[string]any{"config_path": configPath})

	if result["listen_address"] != "127.0.0.1:9191" {
		t.Errorf("Expected listen address 127.0.0.1:9191, got %v", result["listen_address"])
	}
	if result["base_url"] != "http://127.0.0.1:9191" {
		t.Errorf("Expected base URL http://127.0.0.1:9191, got %v", result["base_url"])
	}
	if result["cors_enabled"] != true {
		t.Errorf("Expected CORS enabled, got %v", result["cors_enabled"])
	}
	if result["metrics_path"] != "/metrics" {
		t.Errorf("Expected metrics path /metrics, got %v", result["metrics_path"])
	}
	if server.currentConfigPath() != configPath {
		t.Errorf("Expected config path to switch to %s", configPath)
	}
}

func TestMCPServer_ReadResources(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "tokenlab.yaml")
	if err := config.InitializeConfig(configPath); err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	server := NewMCPServer(configPath)

	read := func(uri string) JSONRPCResponse {
		return server.handleRequest(t.Context(), &JSONRPCRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  "resources/read",
			Params:  map[string]any{"uri": uri},
		})
	}

	t.Run("config", func(t *testing.T) {
		response := read("config://current")
		if response.Error != nil {
			t.Fatalf("Expected no error, got: %+v", response.Error)
		}
		contents := response.Result.(map[string]any)["contents"].([]map[string]any)
		want, _ := os.ReadFile(configPath)
		if contents[0]["text"] != string(want) {
			t.Errorf("Expected raw config file content")
		}
	})

	t.Run("seed", func(t *testing.T) {
		response := read("seed://fixed")
		if response.Error != nil {
			t.Fatalf("Expected no error, got: %+v", response.Error)
		}
		contents := response.Result.(map[string]any)["contents"].([]map[string]any)
		var seed map[string]any
		if err := json.Unmarshal([]byte(contents[0]["text"].(string)), &seed); err != nil {
			t.Fatalf("Seed resource is not JSON: %v", err)
		}
		if seed["seed_hex"] != strings.Repeat("01", 32) {
			t.Errorf("Unexpected seed: %v", seed["seed_hex"])
		}
		if seed["algorithm"] != "ChaCha12" {
			t.Errorf("Unexpected algorithm: %v", seed["algorithm"])
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		server.setConfigPath(filepath.Join(t.TempDir(), "missing.yaml"))
		response := read("config://current")
		if response.Error == nil || response.Error.Code != InternalError {
			t.Fatalf("Expected internal error, got %+v", response.Error)
		}
	})
}

func TestMCPServer_ServeStream(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"tokenlab_vulnerable_token","arguments":{"user_id":"bob"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	}, "\n")

	var out bytes.Buffer
	if err := server.serveStream(t.Context(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("serveStream returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 responses (notification unanswered), got %d: %s", len(lines), out.String())
	}
	if !strings.Contains(lines[1], `bob-3622306099`) {
		t.Errorf("Expected bob's token in tool response, got %s", lines[1])
	}
}

func TestMCPServer_ServeStreamMalformed(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	var out bytes.Buffer
	err := server.serveStream(t.Context(), strings.NewReader(`{not json`), &out)
	if err == nil {
		t.Fatal("Expected error for malformed stream")
	}

	var response JSONRPCResponse
	if err := json.Unmarshal(out.Bytes(), &response); err != nil {
		t.Fatalf("Expected a parse error response, got %q", out.String())
	}
	if response.Error == nil || response.Error.Code != ParseError {
		t.Errorf("Expected parse error code, got %+v", response.Error)
	}
}

func TestMCPServer_ServeStreamTruncated(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	var out bytes.Buffer
	err := server.serveStream(t.Context(), strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"`), &out)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Expected unexpected EOF, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected exactly one parse error response, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"code":-32700`) {
		t.Errorf("Expected parse error code, got %s", lines[0])
	}
}

func TestMCPServer_ServeStreamTypeMismatch(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	input := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":42}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	}, "\n")

	var out bytes.Buffer
	if err := server.serveStream(t.Context(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("serveStream returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected a parse error and a ping reply, got %d: %s", len(lines), out.String())
	}
	if !strings.Contains(lines[0], `"code":-32700`) {
		t.Errorf("Expected parse error first, got %s", lines[0])
	}
	if !strings.Contains(lines[1], `"id":2`) {
		t.Errorf("Expected the ping to be answered, got %s", lines[1])
	}
}

func TestMCPServer_HTTP(t *testing.T) {
	server := NewMCPServer("test-config.yaml")
	handler := http.HandlerFunc(server.handleHTTPRequest)

	t.Run("POST", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"ping"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		var response JSONRPCResponse
		if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
			t.Fatalf("Invalid JSON response: %v", err)
		}
		if response.ID != float64(7) || response.Error != nil {
			t.Errorf("Unexpected response: %+v", response)
		}
	})

	t.Run("GET", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", w.Code)
		}
	})

	t.Run("notification", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusAccepted {
			t.Errorf("Expected 202, got %d", w.Code)
		}
	})
}

func TestMCPServer_ErrorHandling(t *testing.T) {
	server := NewMCPServer("test-config.yaml")

	tests := []struct {
		name     string
		request  *JSONRPCRequest
		wantCode int
	}{
		{
			name: "Invalid JSON-RPC version",
			request: &JSONRPCRequest{
				JSONRPC: "1.0",
				ID:      1,
				Method:  "initialize",
			},
			wantCode: InvalidRequest,
		},
		{
			name: "Unknown method",
			request: &JSONRPCRequest{
				JSONRPC: "2.0",
				ID:      1,
				Method:  "unknown/method",
			},
			wantCode: MethodNotFound,
		},
		{
			name: "Invalid tool name",
			request: &JSONRPCRequest{
				JSONRPC: "2.0",
				ID:      1,
				Method:  "tools/call",
				Params: map[string]any{
					"name": "unknown_tool",
				},
			},
			wantCode: InvalidParams,
		},
		{
			name: "Unknown resource",
			request: &JSONRPCRequest{
				JSONRPC: "2.0",
				ID:      1,
				Method:  "resources/read",
				Params: map[string]any{
					"uri": "users://list",
				},
			},
			wantCode: InvalidParams,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			response := server.handleRequest(t.Context(), tt.request)

			if response.Error == nil {
				t.Fatal("Expected error, got none")
			}

			if response.Error.Code != tt.wantCode {
				t.Errorf("Expected error code %d, got %d", tt.wantCode, response.Error.Code)
			}
		})
	}
}
