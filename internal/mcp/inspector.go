// Package mcp inspects Model Context Protocol servers: it connects over
// the appropriate transport, performs the initialize handshake, and
// enumerates the server's tools, resources and prompts.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// ErrValidation marks inspection requests rejected before any connection
// is attempted.
var ErrValidation = errors.New("validation failed")

// Transport names.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

const defaultInspectTimeout = 30 * time.Second

// InspectRequest describes one server to inspect. Exactly one of URL and
// Command must be set. TimeoutSeconds, when positive, overrides the
// inspector's configured timeout for this request.
type InspectRequest struct {
	URL            string            `json:"url,omitempty"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// ServerInfo identifies the inspected server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolInfo is one tool advertised by the server.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// ResourceInfo is one resource advertised by the server.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// PromptInfo is one prompt advertised by the server.
type PromptInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// InspectResult is the full capability listing of one server.
type InspectResult struct {
	Transport string         `json:"transport"`
	Server    ServerInfo     `json:"server"`
	Tools     []ToolInfo     `json:"tools"`
	Resources []ResourceInfo `json:"resources"`
	Prompts   []PromptInfo   `json:"prompts"`
}

// DetectTransport selects the transport for req: stdio for commands, SSE
// for URLs ending in /sse, streamable HTTP otherwise.
func DetectTransport(req InspectRequest) (string, error) {
	switch {
	case req.URL != "" && req.Command != "":
		return "", fmt.Errorf("%w: url and command are mutually exclusive", ErrValidation)
	case req.Command != "":
		return TransportStdio, nil
	case req.URL != "":
		if strings.HasSuffix(strings.TrimRight(req.URL, "/"), "/sse") {
			return TransportSSE, nil
		}
		return TransportHTTP, nil
	default:
		return "", fmt.Errorf("%w: either url or command is required", ErrValidation)
	}
}

// Inspector connects to MCP servers and lists their capabilities.
type Inspector struct {
	timeout time.Duration
}

// NewInspector creates an inspector. timeout bounds the whole inspection
// including the handshake; zero means the default.
func NewInspector(timeout time.Duration) *Inspector {
	if timeout <= 0 {
		timeout = defaultInspectTimeout
	}
	return &Inspector{timeout: timeout}
}

// Inspect connects to the described server and enumerates its
// capabilities. Listing methods the server does not implement yield empty
// slices rather than errors.
func (i *Inspector) Inspect(ctx context.Context, req InspectRequest) (*InspectResult, error) {
	transport, err := DetectTransport(req)
	if err != nil {
		return nil, err
	}

	c, err := i.connect(req, transport)
	if err != nil {
		return nil, fmt.Errorf("connect to mcp server: %w", err)
	}
	defer c.Close()

	timeout := i.timeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if transport != TransportStdio {
		if err := c.Start(ctx); err != nil {
			return nil, fmt.Errorf("start mcp transport: %w", err)
		}
	}

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{
		Name:    "vulnlab-inspector",
		Version: "1.0.0",
	}
	initRes, err := c.Initialize(ctx, initReq)
	if err != nil {
		return nil, fmt.Errorf("initialize mcp session: %w", err)
	}

	result := &InspectResult{
		Transport: transport,
		Server: ServerInfo{
			Name:    initRes.ServerInfo.Name,
			Version: initRes.ServerInfo.Version,
		},
		Tools:     []ToolInfo{},
		Resources: []ResourceInfo{},
		Prompts:   []PromptInfo{},
	}

	tools, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	if err != nil && !isMethodNotFound(err) {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if tools != nil {
		for _, t := range tools.Tools {
			result.Tools = append(result.Tools, ToolInfo{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}

	resources, err := c.ListResources(ctx, mcplib.ListResourcesRequest{})
	if err != nil && !isMethodNotFound(err) {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	if resources != nil {
		for _, r := range resources.Resources {
			result.Resources = append(result.Resources, ResourceInfo{
				URI:         r.URI,
				Name:        r.Name,
				Description: r.Description,
				MIMEType:    r.MIMEType,
			})
		}
	}

	prompts, err := c.ListPrompts(ctx, mcplib.ListPromptsRequest{})
	if err != nil && !isMethodNotFound(err) {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	if prompts != nil {
		for _, p := range prompts.Prompts {
			result.Prompts = append(result.Prompts, PromptInfo{
				Name:        p.Name,
				Description: p.Description,
			})
		}
	}

	sortCapabilities(result)
	return result, nil
}

// sortCapabilities orders every capability list by its identifying field
// so results are stable across servers that enumerate in map order.
func sortCapabilities(result *InspectResult) {
	sort.Slice(result.Tools, func(a, b int) bool { return result.Tools[a].Name < result.Tools[b].Name })
	sort.Slice(result.Resources, func(a, b int) bool { return result.Resources[a].URI < result.Resources[b].URI })
	sort.Slice(result.Prompts, func(a, b int) bool { return result.Prompts[a].Name < result.Prompts[b].Name })
}

func (i *Inspector) connect(req InspectRequest, transport string) (*client.Client, error) {
	switch transport {
	case TransportStdio:
		env := make([]string, 0, len(req.Env))
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(req.Command, env, req.Args...)
	case TransportSSE:
		return client.NewSSEMCPClient(req.URL)
	default:
		return client.NewStreamableHttpClient(req.URL)
	}
}

// isMethodNotFound reports a JSON-RPC "method not found" failure, which
// servers use for capability groups they do not implement.
func isMethodNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "-32601") || strings.Contains(strings.ToLower(msg), "method not found")
}
