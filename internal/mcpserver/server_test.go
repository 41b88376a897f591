package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jwulff/memo/internal/daemon"
	"github.com/jwulff/memo/internal/db"
)

func newTestHandlers(t *testing.T) (*handlers, *db.Store) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "memo.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &handlers{store: store}, store
}

func seed(t *testing.T, store *db.Store, n int) []db.Segment {
	t.Helper()
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	var out []db.Segment
	for i := range n {
		seg, err := store.Insert(context.Background(), db.Segment{
			FilePath:  filepath.Join("/rec", "REC_"+string(rune('a'+i))+".wav"),
			StartedAt: base.Add(time.Duration(i) * 30 * time.Second),
			Duration:  30 * time.Second,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		out = append(out, seg)
	}
	return out
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// call runs a handler and fails the test on a transport-level error.
func call(t *testing.T, fn func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := fn(context.Background(), callRequest(name, args))
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if res == nil {
		t.Fatalf("%s: nil result", name)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return text.Text
}

func decodeRecordings(t *testing.T, res *mcp.CallToolResult) []daemon.Recording {
	t.Helper()
	var recs []daemon.Recording
	if err := json.Unmarshal([]byte(resultText(t, res)), &recs); err != nil {
		t.Fatalf("decode recordings: %v", err)
	}
	return recs
}

func TestListRecordingsNewestFirst(t *testing.T) {
	h, store := newTestHandlers(t)
	segs := seed(t, store, 3)

	res := call(t, h.listRecordings, ToolListRecordings, nil)
	if res.IsError {
		t.Fatalf("error result: %s", resultText(t, res))
	}

	recs := decodeRecordings(t, res)
	if len(recs) != 3 {
		t.Fatalf("got %d recordings, want 3", len(recs))
	}
	if recs[0].ID != segs[2].ID || recs[2].ID != segs[0].ID {
		t.Errorf("order = %d..%d, want newest first", recs[0].ID, recs[2].ID)
	}
	if recs[0].DurationMillis != 30000 {
		t.Errorf("duration = %d, want 30000", recs[0].DurationMillis)
	}
}

func TestGetRecording(t *testing.T) {
	h, store := newTestHandlers(t)
	segs := seed(t, store, 2)

	res := call(t, h.getRecording, ToolGetRecording, map[string]any{"id": float64(segs[1].ID)})
	if res.IsError {
		t.Fatalf("error result: %s", resultText(t, res))
	}

	var rec daemon.Recording
	if err := json.Unmarshal([]byte(resultText(t, res)), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.FilePath != segs[1].FilePath {
		t.Errorf("file = %q, want %q", rec.FilePath, segs[1].FilePath)
	}
	if rec.StartedAt != segs[1].StartedAt.UnixMilli() {
		t.Errorf("started = %d, want %d", rec.StartedAt, segs[1].StartedAt.UnixMilli())
	}
}

func TestGetRecordingNotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	res := call(t, h.getRecording, ToolGetRecording, map[string]any{"id": float64(42)})
	if !res.IsError {
		t.Error("unknown id should be a tool error")
	}
	if !strings.Contains(resultText(t, res), "not found") {
		t.Errorf("text = %q", resultText(t, res))
	}
}

func TestGetRecordingMissingID(t *testing.T) {
	h, _ := newTestHandlers(t)

	if res := call(t, h.getRecording, ToolGetRecording, map[string]any{}); !res.IsError {
		t.Error("missing id should be a tool error")
	}
}

func TestMarkSyncedFlow(t *testing.T) {
	h, store := newTestHandlers(t)
	segs := seed(t, store, 3)
	ctx := context.Background()

	recs := decodeRecordings(t, call(t, h.listUnsynced, ToolListUnsynced, nil))
	if len(recs) != 3 {
		t.Fatalf("unsynced = %d, want 3", len(recs))
	}
	if recs[0].ID != segs[0].ID {
		t.Errorf("unsynced should be oldest first, got %d", recs[0].ID)
	}

	res := call(t, h.markSynced, ToolMarkSynced, map[string]any{
		"id":         float64(segs[0].ID),
		"transcript": "hello there",
	})
	if res.IsError {
		t.Fatalf("mark synced: %s", resultText(t, res))
	}

	got, err := store.Get(ctx, segs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Synced || got.Transcript == nil || *got.Transcript != "hello there" {
		t.Errorf("after sync = %+v", got)
	}

	// Omitting the transcript keeps the stored one.
	if res := call(t, h.markSynced, ToolMarkSynced, map[string]any{"id": float64(segs[0].ID)}); res.IsError {
		t.Fatalf("mark synced again: %s", resultText(t, res))
	}
	got, err = store.Get(ctx, segs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Transcript == nil || *got.Transcript != "hello there" {
		t.Errorf("transcript = %v, want kept", got.Transcript)
	}

	if recs := decodeRecordings(t, call(t, h.listUnsynced, ToolListUnsynced, nil)); len(recs) != 2 {
		t.Errorf("unsynced = %d, want 2", len(recs))
	}
}

func TestMarkSyncedErrors(t *testing.T) {
	h, store := newTestHandlers(t)
	segs := seed(t, store, 1)

	if res := call(t, h.markSynced, ToolMarkSynced, map[string]any{"id": float64(99)}); !res.IsError {
		t.Error("unknown id should be a tool error")
	}
	if res := call(t, h.markSynced, ToolMarkSynced, map[string]any{"id": float64(segs[0].ID), "transcript": 7}); !res.IsError {
		t.Error("non-string transcript should be a tool error")
	}

	got, err := store.Get(context.Background(), segs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Synced {
		t.Error("a rejected call must not write")
	}
}

func TestServerListsTools(t *testing.T) {
	_, store := newTestHandlers(t)
	s := New(store, "test")
	ctx := context.Background()

	s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`))
	resp := s.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{ToolListRecordings, ToolGetRecording, ToolListUnsynced, ToolMarkSynced} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tools/list missing %s", name)
		}
	}
}
