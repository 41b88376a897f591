// Package mcpserver exposes the recordings table to an external sync
// collaborator as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jwulff/memo/internal/daemon"
	"github.com/jwulff/memo/internal/db"
	xlog "github.com/jwulff/memo/internal/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Tool names.
const (
	ToolListRecordings = "list_recordings"
	ToolGetRecording   = "get_recording"
	ToolListUnsynced   = "list_unsynced"
	ToolMarkSynced     = "mark_synced"
)

// Store is the subset of db.Store the tools need.
type Store interface {
	All(ctx context.Context) ([]db.Segment, error)
	Get(ctx context.Context, id int64) (db.Segment, error)
	Unsynced(ctx context.Context) ([]db.Segment, error)
	MarkSynced(ctx context.Context, id int64, transcript *string) error
}

type handlers struct {
	store  Store
	logger zerolog.Logger
}

// New builds an MCP server with the recording tools registered.
func New(store Store, version string) *server.MCPServer {
	h := &handlers{store: store, logger: xlog.WithComponent("mcp")}

	s := server.NewMCPServer("memo", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool(ToolListRecordings,
		mcp.WithDescription("List all recorded chunks, newest first. Times are epoch milliseconds."),
	), h.listRecordings)

	s.AddTool(mcp.NewTool(ToolGetRecording,
		mcp.WithDescription("Get one recorded chunk by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Recording id")),
	), h.getRecording)

	s.AddTool(mcp.NewTool(ToolListUnsynced,
		mcp.WithDescription("List chunks not yet synced, oldest first."),
	), h.listUnsynced)

	s.AddTool(mcp.NewTool(ToolMarkSynced,
		mcp.WithDescription("Mark a chunk as synced, optionally attaching its transcript."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Recording id")),
		mcp.WithString("transcript", mcp.Description("Transcript text; omit to keep the current one")),
	), h.markSynced)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *handlers) listRecordings(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	segs, err := h.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return jsonResult(daemon.ToRecordings(segs))
}

func (h *handlers) getRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	seg, err := h.store.Get(ctx, int64(id))
	if errors.Is(err, db.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("recording %d not found", id)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recording %d: %w", id, err)
	}
	return jsonResult(daemon.ToRecording(seg))
}

func (h *handlers) listUnsynced(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	segs, err := h.store.Unsynced(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unsynced: %w", err)
	}
	return jsonResult(daemon.ToRecordings(segs))
}

func (h *handlers) markSynced(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var transcript *string
	if v, ok := req.GetArguments()["transcript"]; ok {
		s, ok := v.(string)
		if !ok {
			return mcp.NewToolResultError("transcript must be a string"), nil
		}
		transcript = &s
	}

	err = h.store.MarkSynced(ctx, int64(id), transcript)
	if errors.Is(err, db.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("recording %d not found", id)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("mark synced %d: %w", id, err)
	}

	h.logger.Info().Int64(xlog.FieldSegmentID, int64(id)).Bool("transcript", transcript != nil).Msg("recording synced")
	return mcp.NewToolResultText(fmt.Sprintf("recording %d marked synced", id)), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
