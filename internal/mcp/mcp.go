// Package mcp implements the Model Context Protocol server for Lacuna.
//
// The MCP server exposes run inspection and the context store through
// MCP resources and tools, allowing MCP-compatible AI agents to start
// research runs and read their gap rankings.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/lacuna-ai/lacuna/internal/engine"
	"github.com/lacuna-ai/lacuna/internal/model"
	"github.com/lacuna-ai/lacuna/internal/service/contexts"
	"github.com/lacuna-ai/lacuna/internal/store"
)

// Server wraps the MCP server with Lacuna's orchestration layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	orch      *engine.Orchestrator
	ctxs      *contexts.Service
	st        store.Store
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(orch *engine.Orchestrator, ctxs *contexts.Service, st store.Store, logger *slog.Logger) *Server {
	s := &Server{
		orch:   orch,
		ctxs:   ctxs,
		st:     st,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"lacuna",
		"0.1.0",
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// lacuna://runs/active — runs currently executing.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"lacuna://runs/active",
			"Active Runs",
			mcplib.WithResourceDescription("Research runs currently executing"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRunsActive,
	)

	// lacuna://runs/{id}/gaps — final gap ranking for one run.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"lacuna://runs/{id}/gaps",
			"Run Gap Ranking",
			mcplib.WithTemplateDescription("Final research-gap ranking for a completed run"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleRunGaps,
	)
}

func (s *Server) registerTools() {
	// lacuna_start — create a research run.
	s.mcpServer.AddTool(
		mcplib.NewTool("lacuna_start",
			mcplib.WithDescription("Create a research run for a query. The run stays idle until papers are submitted for execution."),
			mcplib.WithString("query", mcplib.Description("Research question to investigate"), mcplib.Required()),
			mcplib.WithString("owner_id", mcplib.Description("Identifier of the requesting agent")),
			mcplib.WithNumber("max_depth", mcplib.Description("Maximum recursion depth")),
		),
		s.handleStart,
	)

	// lacuna_status — progress snapshot for a run.
	s.mcpServer.AddTool(
		mcplib.NewTool("lacuna_status",
			mcplib.WithDescription("Report progress for a research run: status, depth, agent counts, and recent logs"),
			mcplib.WithString("run_id", mcplib.Description("Run identifier"), mcplib.Required()),
		),
		s.handleStatus,
	)

	// lacuna_gaps — ranked research gaps for a run.
	s.mcpServer.AddTool(
		mcplib.NewTool("lacuna_gaps",
			mcplib.WithDescription("Return the ranked research gaps a run has produced. Defaults to the final ranking only."),
			mcplib.WithString("run_id", mcplib.Description("Run identifier"), mcplib.Required()),
			mcplib.WithBoolean("all_rounds", mcplib.Description("Include intermediate rankings from every round")),
		),
		s.handleGaps,
	)

	// lacuna_context — read from the shared context store.
	s.mcpServer.AddTool(
		mcplib.NewTool("lacuna_context",
			mcplib.WithDescription("Read the latest context entries written by a run's agents"),
			mcplib.WithString("run_id", mcplib.Description("Run identifier"), mcplib.Required()),
			mcplib.WithString("context_key", mcplib.Description("Filter to a single context key")),
			mcplib.WithBoolean("summary_only", mcplib.Description("Return bounded previews instead of full payloads")),
		),
		s.handleContext,
	)
}

func (s *Server) handleRunsActive(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	runs, err := s.st.ListRunsByStatus(ctx, model.RunStatusExecuting)
	if err != nil {
		return nil, fmt.Errorf("mcp: active runs: %w", err)
	}

	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal runs: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "lacuna://runs/active",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRunGaps(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	// Parse the run id from lacuna://runs/{id}/gaps.
	var raw string
	if _, err := fmt.Sscanf(uri, "lacuna://runs/%s", &raw); err != nil || raw == "" {
		return nil, fmt.Errorf("mcp: invalid gaps URI: %s", uri)
	}
	if len(raw) > 5 && raw[len(raw)-5:] == "/gaps" {
		raw = raw[:len(raw)-5]
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("mcp: invalid run id in URI %s: %w", uri, err)
	}

	results, err := s.st.ListResults(ctx, store.ResultFilter{
		RunID:     runID,
		Type:      model.ResultGapRanking,
		FinalOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: run gaps: %w", err)
	}

	data, err := json.MarshalIndent(map[string]any{
		"run_id":  runID,
		"results": results,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal gaps: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleStart(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	ownerID := request.GetString("owner_id", "")

	var cfg *model.RunConfig
	if maxDepth := request.GetInt("max_depth", 0); maxDepth > 0 {
		c := model.RunConfig{MaxDepth: maxDepth, ConvergenceThreshold: model.DefaultConvergenceThreshold}
		cfg = &c
	}

	run, err := s.orch.Start(ctx, ownerID, query, cfg)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to create run: %v", err)), nil
	}

	resultData, _ := json.Marshal(map[string]any{
		"run_id": run.ID,
		"status": run.Status,
	})
	return textResult(string(resultData)), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errMsg := parseRunID(request)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	progress, err := s.orch.Status(ctx, runID)
	if err != nil {
		return errorResult(fmt.Sprintf("status failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(progress, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleGaps(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errMsg := parseRunID(request)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	results, err := s.st.ListResults(ctx, store.ResultFilter{
		RunID:     runID,
		Type:      model.ResultGapRanking,
		FinalOnly: !request.GetBool("all_rounds", false),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("listing gaps failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(map[string]any{
		"results": results,
		"total":   len(results),
	}, "", "  ")
	return textResult(string(resultData)), nil
}

func (s *Server) handleContext(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	runID, errMsg := parseRunID(request)
	if errMsg != "" {
		return errorResult(errMsg), nil
	}

	resp, err := s.ctxs.Read(ctx, model.ReadContextRequest{
		RunID:       runID,
		Key:         request.GetString("context_key", ""),
		SummaryOnly: request.GetBool("summary_only", false),
	})
	if err != nil {
		return errorResult(fmt.Sprintf("context read failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(resp, "", "  ")
	return textResult(string(resultData)), nil
}

func parseRunID(request mcplib.CallToolRequest) (uuid.UUID, string) {
	raw := request.GetString("run_id", "")
	if raw == "" {
		return uuid.Nil, "run_id is required"
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Sprintf("invalid run_id: %v", err)
	}
	return runID, ""
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
