package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/middleman/automate"
	"github.com/hazyhaar/middleman/convert"
	"github.com/hazyhaar/middleman/kit"
	"github.com/hazyhaar/middleman/pattern"
)

// RegisterMCP registers the middleman tools on an MCP server.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerPatternsTool(srv)
	s.registerDistillTool(srv)
}

// toolMiddleware is applied to every tool endpoint.
func (s *Server) toolMiddleware(name string) kit.Middleware {
	return kit.Chain(s.logCalls(name))
}

// logCalls logs the duration and error of each call to the named tool.
func (s *Server) logCalls(name string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			log := s.logger.With("tool", name, "transport", kit.GetTransport(ctx), "duration", time.Since(start))
			if err != nil {
				log.WarnContext(ctx, "server: tool failed", "error", err)
			} else {
				log.DebugContext(ctx, "server: tool done")
			}
			return resp, err
		}
	}
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Server) registerPatternsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "middleman_patterns",
		Description: "List the pattern files of the library.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		names, err := pattern.List(s.patterns)
		if err != nil {
			return nil, err
		}
		if names == nil {
			names = []string{}
		}
		return map[string]any{"patterns": names}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.toolMiddleware(tool.Name)(endpoint), decode)
}

type distillRequest struct {
	Location string `json:"location"`
}

// DistillResult is what middleman_distill returns.
type DistillResult struct {
	Pattern  string           `json:"pattern"`
	Title    string           `json:"title"`
	Terminal bool             `json:"terminal"`
	Records  []convert.Record `json:"records,omitempty"`
	Markdown string           `json:"markdown"`
}

func (s *Server) registerDistillTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "middleman_distill",
		Description: "Open a page, distill it with the best matching pattern and return its records or Markdown.",
		InputSchema: inputSchema(map[string]any{
			"location": map[string]any{"type": "string", "description": "URL or host/path; https:// is assumed"},
		}, []string{"location"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*distillRequest)
		return s.Distill(ctx, r.Location)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r distillRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.Location == "" {
			return nil, errors.New("location is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, s.toolMiddleware(tool.Name)(endpoint), decode)
}

// Distill opens location in a fresh session, distills it once and closes
// the session.
func (s *Server) Distill(ctx context.Context, location string) (*DistillResult, error) {
	sess, err := s.machine.Sessions().Start(ctx, location)
	if err != nil {
		return nil, err
	}
	defer s.machine.Sessions().Finalize(ctx, sess.ID)
	ctx = kit.WithSessionID(ctx, sess.ID)

	out, err := s.machine.Once(ctx, sess)
	if err != nil {
		return nil, err
	}
	res := &DistillResult{
		Pattern:  out.Pattern,
		Title:    out.Title,
		Terminal: out.Terminal,
		Records:  out.Records,
	}
	if out.Kind != automate.OutcomeRecords {
		md, err := s.renderer.Markdown(s.renderer.Sanitize(out.Body))
		if err != nil {
			s.logger.Warn("server: markdown", "session", sess.ID, "error", err)
		}
		res.Markdown = md
	}
	s.logger.InfoContext(ctx, "server: distilled", "transport", kit.GetTransport(ctx), "session", kit.GetSessionID(ctx), "location", sess.Location, "pattern", out.Pattern, "kind", out.Kind)
	return res, nil
}
