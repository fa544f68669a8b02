package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shibukawa/tokenlab/internal/config"
)

// MCPServer represents the Model Context Protocol server.
type MCPServer struct {
	mu         sync.RWMutex
	configPath string
	tools      map[string]Tool
	resources  map[string]Resource
	logger     *slog.Logger
}

// NewMCPServer creates a new MCP server instance
func NewMCPServer(configPath string) *MCPServer {
	server := &MCPServer{
		configPath: configPath,
		tools:      make(map[string]Tool),
		resources:  make(map[string]Resource),
		// Stdout carries the protocol in stdio mode.
		logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}

	server.registerTools()
	server.registerResources()

	return server
}

// Tool represents an MCP tool
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Resource represents an MCP resource
type Resource interface {
	URI() string
	Name() string
	Description() string
	MimeType() string
	Content(ctx context.Context) ([]byte, error)
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

const protocolVersion = "2024-11-05"

// ServeStdio starts the MCP server using stdin/stdout
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	return s.serveStream(ctx, os.Stdin, os.Stdout)
}

// serveStream answers newline-delimited JSON-RPC requests read from r.
func (s *MCPServer) serveStream(ctx context.Context, r io.Reader, w io.Writer) error {
	decoder := json.NewDecoder(r)
	encoder := json.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var request JSONRPCRequest
		if err := decoder.Decode(&request); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err := encoder.Encode(parseErrorResponse(err)); err != nil {
				s.logger.Error("failed to encode response", "error", err)
			}
			// A type mismatch consumes the whole value. Any other error
			// (syntax, truncation, read failure) sticks to the decoder.
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				continue
			}
			return fmt.Errorf("malformed input stream: %w", err)
		}

		if isNotification(&request) {
			continue
		}

		response := s.handleRequest(ctx, &request)
		if err := encoder.Encode(response); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}
}

// ServeHTTP starts the MCP server using HTTP
func (s *MCPServer) ServeHTTP(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHTTPRequest)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			s.logger.Warn("MCP HTTP server shutdown failed", "error", err)
		}
	}()

	return server.ListenAndServe()
}

// handleHTTPRequest handles HTTP requests
func (s *MCPServer) handleHTTPRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeHTTPResponse(w, parseErrorResponse(err))
		return
	}

	if isNotification(&request) {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeHTTPResponse(w, s.handleRequest(r.Context(), &request))
}

func writeHTTPResponse(w http.ResponseWriter, response JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func parseErrorResponse(err error) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      nil,
		Error: &JSONRPCError{
			Code:    ParseError,
			Message: "Parse error",
			Data:    err.Error(),
		},
	}
}

// isNotification reports whether request expects no response.
func isNotification(request *JSONRPCRequest) bool {
	return request.ID == nil && strings.HasPrefix(request.Method, "notifications/")
}

func errorResponse(id any, code int, message string, data any) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// handleRequest processes a JSON-RPC request
func (s *MCPServer) handleRequest(ctx context.Context, request *JSONRPCRequest) JSONRPCResponse {
	if request.JSONRPC != "2.0" {
		return errorResponse(request.ID, InvalidRequest, "Invalid request", "jsonrpc must be '2.0'")
	}

	switch request.Method {
	case "initialize":
		return s.handleInitialize(request)
	case "ping":
		return JSONRPCResponse{JSONRPC: "2.0", ID: request.ID, Result: map[string]any{}}
	case "tools/list":
		return s.handleToolsList(request)
	case "tools/call":
		return s.handleToolsCall(ctx, request)
	case "resources/list":
		return s.handleResourcesList(request)
	case "resources/read":
		return s.handleResourcesRead(ctx, request)
	default:
		return errorResponse(request.ID, MethodNotFound, "Method not found", fmt.Sprintf("Unknown method: %s", request.Method))
	}
}

// handleInitialize handles the initialize request
func (s *MCPServer) handleInitialize(request *JSONRPCRequest) JSONRPCResponse {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "tokenlab",
			"version": "1.0.0",
		},
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result:  result,
	}
}

// handleToolsList handles the tools/list request
func (s *MCPServer) handleToolsList(request *JSONRPCRequest) JSONRPCResponse {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]map[string]any, 0, len(names))
	for _, name := range names {
		tool := s.tools[name]
		tools = append(tools, map[string]any{
			"name":        tool.Name(),
			"description": tool.Description(),
			"inputSchema": tool.InputSchema(),
		})
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result:  map[string]any{"tools": tools},
	}
}

// handleToolsCall handles the tools/call request
func (s *MCPServer) handleToolsCall(ctx context.Context, request *JSONRPCRequest) JSONRPCResponse {
	name, ok := request.Params["name"].(string)
	if !ok {
		return errorResponse(request.ID, InvalidParams, "Invalid params", "name parameter is required and must be a string")
	}

	tool, exists := s.tools[name]
	if !exists {
		return errorResponse(request.ID, InvalidParams, "Invalid params", fmt.Sprintf("Unknown tool: %s", name))
	}

	args, ok := request.Params["arguments"].(map[string]any)
	if !ok {
		args = make(map[string]any)
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return errorResponse(request.ID, InternalError, "Internal error", err.Error())
	}

	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorResponse(request.ID, InternalError, "Internal error", err.Error())
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result: map[string]any{
			"content": []map[string]any{
				{
					"type": "text",
					"text": string(text),
				},
			},
		},
	}
}

// handleResourcesList handles the resources/list request
func (s *MCPServer) handleResourcesList(request *JSONRPCRequest) JSONRPCResponse {
	uris := make([]string, 0, len(s.resources))
	for uri := range s.resources {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	resources := make([]map[string]any, 0, len(uris))
	for _, uri := range uris {
		resource := s.resources[uri]
		resources = append(resources, map[string]any{
			"uri":         resource.URI(),
			"name":        resource.Name(),
			"description": resource.Description(),
			"mimeType":    resource.MimeType(),
		})
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result:  map[string]any{"resources": resources},
	}
}

// handleResourcesRead handles the resources/read request
func (s *MCPServer) handleResourcesRead(ctx context.Context, request *JSONRPCRequest) JSONRPCResponse {
	uri, ok := request.Params["uri"].(string)
	if !ok {
		return errorResponse(request.ID, InvalidParams, "Invalid params", "uri parameter is required and must be a string")
	}

	resource, exists := s.resources[uri]
	if !exists {
		return errorResponse(request.ID, InvalidParams, "Invalid params", fmt.Sprintf("Unknown resource: %s", uri))
	}

	content, err := resource.Content(ctx)
	if err != nil {
		return errorResponse(request.ID, InternalError, "Internal error", err.Error())
	}

	result := map[string]any{
		"contents": []map[string]any{
			{
				"uri":      resource.URI(),
				"mimeType": resource.MimeType(),
				"text":     string(content),
			},
		},
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      request.ID,
		Result:  result,
	}
}

func (s *MCPServer) currentConfigPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.configPath
}

func (s *MCPServer) setConfigPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPath = path
}

// loadConfig loads the configuration file, falling back to defaults when it
// does not exist.
func (s *MCPServer) loadConfig() (*config.Config, error) {
	configPath := s.currentConfigPath()
	if configPath == "" {
		return nil, ErrConfigPathNotSet
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return config.LoadConfig(absPath, false)
}
