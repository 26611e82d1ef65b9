// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes pagesync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"

	"github.com/starford/pagesync/internal/apperr"
	"github.com/starford/pagesync/internal/detector"
	"github.com/starford/pagesync/internal/mapper"
	"github.com/starford/pagesync/internal/syncservice"
)

const contractURI = "pagesync://artifact-format"

// Server wraps the MCP server with pagesync tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *syncservice.Service
	rules []mapper.Rule
}

// New creates a new MCP server with all pagesync tools registered. rules
// are the active mapping rules reported by get_mapping.
func New(svc *syncservice.Service, rules []mapper.Rule) *Server {
	s := &Server{svc: svc, rules: rules}

	s.mcp = server.NewMCPServer(
		"pagesync",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report whether a sync pass is running, how many records are tracked and the last run."),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("run_sync",
		mcp.WithDescription("Run one sync pass from Notion into the content directory and return its summary. "+
			"Fails immediately if a pass is already running."),
		mcp.WithString("mode", mcp.Description("incremental (default) or full")),
	), s.runSync)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List tracked Notion pages with their sync status and target path."),
		mcp.WithString("status", mcp.Description("Optional filter: success or error")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Show one tracked page with its generated front matter and Markdown."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Notion page id")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent sync passes, newest first, including per-page errors."),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 10)")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("get_mapping",
		mcp.WithDescription("Return the active property mapping rules as YAML."),
	), s.getMapping)

	s.mcp.AddTool(mcp.NewTool("get_artifact_contract",
		mcp.WithDescription("Returns the format of the Markdown files pagesync generates."),
	), s.getArtifactContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Artifact Format",
			mcp.WithResourceDescription("Format of the Markdown files pagesync generates."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

func (s *Server) runSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode, err := detector.ParseMode(req.GetString("mode", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sum, err := s.svc.Sync(ctx, mode, syncservice.TriggerMCP)
	if err != nil {
		if errors.Is(err, apperr.ErrBusy) {
			return mcp.NewToolResultError("a sync pass is already running"), nil
		}
		if sum == nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("%v (created %d, updated %d, deleted %d, errored %d)",
			err, sum.Created, sum.Updated, sum.Deleted, sum.Errored)), nil
	}
	return jsonResult(sum)
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	recs, err := s.svc.ListRecords(ctx, req.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(recs) == 0 {
		return mcp.NewToolResultText("no records"), nil
	}
	return jsonResult(recs)
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.GetRecord(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, _, err := s.svc.ListRuns(ctx, req.GetInt("limit", 10), 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("no runs recorded"), nil
	}
	return jsonResult(runs)
}

func (s *Server) getMapping(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := yaml.Marshal(map[string]any{"rules": s.rules})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getArtifactContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArtifactFormatContract), nil
}

func (s *Server) readContractResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     ArtifactFormatContract,
		},
	}, nil
}
