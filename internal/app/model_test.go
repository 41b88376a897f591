package app

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jwulff/memo/internal/daemon"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestModel() Model {
	m := New(Options{SocketPath: "/nonexistent.sock", Now: func() time.Time { return t0.Add(12 * time.Second) }})
	m.width = 80
	m.height = 24
	return m
}

func sampleRecordings() []daemon.Recording {
	return []daemon.Recording{
		{ID: 3, FilePath: "/r/REC_3.wav", StartedAt: t0.Add(60 * time.Second).UnixMilli(), DurationMillis: 15000},
		{ID: 2, FilePath: "/r/REC_2.wav", StartedAt: t0.Add(30 * time.Second).UnixMilli(), DurationMillis: 30000, Synced: true},
		{ID: 1, FilePath: "/r/REC_1.wav", StartedAt: t0.UnixMilli(), DurationMillis: 30000},
	}
}

func TestNewModel(t *testing.T) {
	m := New(Options{})
	if m.connected {
		t.Error("new model should not be connected")
	}
	if m.recording {
		t.Error("new model should not be recording")
	}
	if m.rotation != 30*time.Second {
		t.Errorf("rotation = %v, want 30s", m.rotation)
	}
}

func TestDaemonConnectError(t *testing.T) {
	m := newTestModel()

	updated, cmd := m.Update(DaemonConnectErrorMsg{Err: fmt.Errorf("connection refused")})
	model := updated.(Model)

	if model.connected {
		t.Error("should not be connected after error")
	}
	if !model.reconnecting {
		t.Error("should be reconnecting after connect error")
	}
	if cmd == nil {
		t.Error("connect error should schedule a reconnect")
	}
}

func TestReconnectTickIncrementsAttempt(t *testing.T) {
	m := newTestModel()
	m.reconnecting = true

	updated, cmd := m.Update(ReconnectTickMsg{})
	model := updated.(Model)

	if model.reconnectAttempt != 1 {
		t.Errorf("reconnectAttempt = %d, want 1", model.reconnectAttempt)
	}
	if cmd == nil {
		t.Error("reconnect tick should attempt to connect")
	}
}

func TestStatusResponse(t *testing.T) {
	m := newTestModel()
	m.connected = true

	resp := StatusResponseMsg{Response: daemon.Response{
		OK:                true,
		Recording:         daemon.BoolPtr(true),
		ActivePath:        "/r/REC_20261019_090000000_abcd1234.wav",
		ChunkIndex:        daemon.IntPtr(2),
		ChunkStartedAt:    t0.UnixMilli(),
		RotationMillis:    30000,
		PendingPermission: daemon.BoolPtr(false),
	}}

	updated, cmd := m.Update(resp)
	model := updated.(Model)

	if !model.recording {
		t.Error("should be recording")
	}
	if model.chunkIndex != 2 {
		t.Errorf("chunkIndex = %d, want 2", model.chunkIndex)
	}
	if !model.chunkStartedAt.Equal(t0) {
		t.Errorf("chunkStartedAt = %v, want %v", model.chunkStartedAt, t0)
	}
	if !model.ticking || cmd == nil {
		t.Error("recording should start the frame ticker")
	}
	if got := model.chunkElapsed(); got != 12*time.Second {
		t.Errorf("chunkElapsed = %v, want 12s", got)
	}
}

func TestStatusResponseError(t *testing.T) {
	m := newTestModel()

	updated, cmd := m.Update(StatusResponseMsg{Response: daemon.Response{OK: false, Error: "cannot play while recording"}})
	model := updated.(Model)

	if model.errorMessage != "cannot play while recording" {
		t.Errorf("errorMessage = %q", model.errorMessage)
	}
	if !model.errorTransient || cmd == nil {
		t.Error("command errors should be transient")
	}
}

func TestChunkElapsedClamped(t *testing.T) {
	m := newTestModel()
	m.recording = true
	m.chunkStartedAt = t0.Add(-time.Minute)

	if got := m.chunkElapsed(); got != m.rotation {
		t.Errorf("chunkElapsed = %v, want clamp to %v", got, m.rotation)
	}

	m.recording = false
	if got := m.chunkElapsed(); got != 0 {
		t.Errorf("idle chunkElapsed = %v, want 0", got)
	}
}

func TestStatusEventStopsRecording(t *testing.T) {
	m := newTestModel()
	m.recording = true
	m.activePath = "/r/a.wav"
	m.chunkStartedAt = t0

	m.handleEvent(daemon.Event{Event: daemon.EventStatus, Recording: daemon.BoolPtr(false)})

	if m.recording {
		t.Error("should be idle after status event")
	}
	if m.activePath != "" || !m.chunkStartedAt.IsZero() {
		t.Error("idle should clear the active chunk")
	}
}

func TestChunkEvent(t *testing.T) {
	m := newTestModel()
	m.recording = true

	m.handleEvent(daemon.Event{
		Event:          daemon.EventChunk,
		Path:           "/r/REC_b.wav",
		ChunkIndex:     daemon.IntPtr(1),
		ChunkStartedAt: t0.Add(30 * time.Second).UnixMilli(),
	})

	if m.activePath != "/r/REC_b.wav" {
		t.Errorf("activePath = %q", m.activePath)
	}
	if m.chunkIndex != 1 {
		t.Errorf("chunkIndex = %d, want 1", m.chunkIndex)
	}
	if got := m.chunkElapsed(); got != 0 {
		t.Errorf("chunkElapsed before chunk start = %v, want 0", got)
	}
}

func TestCatalogEvent(t *testing.T) {
	m := newTestModel()

	m.handleEvent(daemon.Event{Event: daemon.EventCatalog, Recordings: sampleRecordings()})

	if len(m.recordings) != 3 {
		t.Fatalf("recordings = %d, want 3", len(m.recordings))
	}
	if !m.catalogLive {
		t.Error("catalog event should mark the list live")
	}
}

func TestCatalogKeepsSelection(t *testing.T) {
	m := newTestModel()
	m.setRecordings(sampleRecordings())
	m.selected = 1 // ID 2

	newer := append([]daemon.Recording{{ID: 4, StartedAt: t0.Add(90 * time.Second).UnixMilli(), DurationMillis: 5000}}, sampleRecordings()...)
	m.handleEvent(daemon.Event{Event: daemon.EventCatalog, Recordings: newer})

	if m.recordings[m.selected].ID != 2 {
		t.Errorf("selected ID = %d, want 2", m.recordings[m.selected].ID)
	}
}

func TestStoreLoadIgnoredOnceLive(t *testing.T) {
	m := newTestModel()
	m.handleEvent(daemon.Event{Event: daemon.EventCatalog, Recordings: sampleRecordings()})

	updated, _ := m.Update(RecordingsLoadedMsg{Recordings: sampleRecordings()[:1]})
	model := updated.(Model)

	if len(model.recordings) != 3 {
		t.Errorf("recordings = %d, stale store read should not replace live catalog", len(model.recordings))
	}
}

func TestPermissionEvents(t *testing.T) {
	m := newTestModel()

	m.handleEvent(daemon.Event{Event: daemon.EventPermissionRequest, PendingPermission: daemon.BoolPtr(true)})
	if !m.pendingPermission {
		t.Fatal("should have a pending permission prompt")
	}
	if !strings.Contains(m.View(), "Allow microphone access?") {
		t.Error("view should show the permission prompt")
	}

	cmd := m.handleEvent(daemon.Event{Event: daemon.EventPermissionDenied})
	if m.pendingPermission {
		t.Error("denial should clear the prompt")
	}
	if m.errorMessage != "microphone permission denied" {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
	if cmd == nil {
		t.Error("denial error should be cleared later")
	}
}

func TestErrorEvent(t *testing.T) {
	m := newTestModel()

	cmd := m.handleEvent(daemon.Event{Event: daemon.EventError, Message: "device unavailable", Transient: daemon.BoolPtr(false)})

	if m.errorMessage != "device unavailable" {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
	if cmd != nil {
		t.Error("persistent error should not schedule a clear")
	}

	cmd = m.handleEvent(daemon.Event{Event: daemon.EventStoreError, Message: "disk full", Transient: daemon.BoolPtr(true)})
	if m.errorMessage != "disk full" || cmd == nil {
		t.Error("store errors should show and clear")
	}
}

func TestClearTransientError(t *testing.T) {
	m := newTestModel()
	m.errorMessage = "oops"
	m.errorTransient = true

	updated, _ := m.Update(ClearTransientErrorMsg{})
	model := updated.(Model)
	if model.errorMessage != "" {
		t.Errorf("errorMessage = %q, want cleared", model.errorMessage)
	}

	model.errorMessage = "sticky"
	model.errorTransient = false
	updated, _ = model.Update(ClearTransientErrorMsg{})
	if updated.(Model).errorMessage != "sticky" {
		t.Error("persistent errors should survive the clear tick")
	}
}

func TestPlaybackEvent(t *testing.T) {
	m := newTestModel()
	m.setRecordings(sampleRecordings())

	m.handleEvent(daemon.Event{Event: daemon.EventPlayback, Playback: &daemon.Playback{Playing: true, ID: 2, Total: 30, Elapsed: 7}})

	view := m.View()
	if !strings.Contains(view, "PLAYING") {
		t.Error("view should show playback")
	}
	if !strings.Contains(view, "00:23 left") {
		t.Errorf("view should show remaining time, got:\n%s", view)
	}

	m.handleEvent(daemon.Event{Event: daemon.EventPlayback, Playback: &daemon.Playback{Playing: false, ID: 2, Total: 30, Elapsed: 30, Finished: true}})
	if m.playback.Playing {
		t.Error("playback should be stopped")
	}
	if m.statusText != "Playback finished" {
		t.Errorf("statusText = %q", m.statusText)
	}
}

func TestNavigation(t *testing.T) {
	m := newTestModel()
	m.setRecordings(sampleRecordings())

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	model := updated.(Model)
	if model.selected != 1 {
		t.Errorf("after j, selected = %d, want 1", model.selected)
	}

	updated, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})
	updated, _ = updated.(Model).Update(tea.KeyMsg{Type: tea.KeyDown})
	model = updated.(Model)
	if model.selected != 2 {
		t.Errorf("selection should stop at the last row, got %d", model.selected)
	}

	updated, _ = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	model = updated.(Model)
	if model.selected != 1 {
		t.Errorf("after k, selected = %d, want 1", model.selected)
	}
}

func TestListScrollFollowsSelection(t *testing.T) {
	m := newTestModel()
	m.height = 11 // three visible rows
	var recs []daemon.Recording
	for i := 10; i > 0; i-- {
		recs = append(recs, daemon.Recording{ID: int64(i), StartedAt: t0.Add(time.Duration(i) * 30 * time.Second).UnixMilli(), DurationMillis: 30000})
	}
	m.setRecordings(recs)

	for range 5 {
		updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
		m = updated.(Model)
	}
	if m.selected != 5 {
		t.Fatalf("selected = %d, want 5", m.selected)
	}
	if m.listScroll != 3 {
		t.Errorf("listScroll = %d, want 3", m.listScroll)
	}
}

func TestKeysIgnoredWhenDisconnected(t *testing.T) {
	m := newTestModel()
	m.setRecordings(sampleRecordings())
	m.pendingPermission = true

	for _, key := range []tea.KeyMsg{
		{Type: tea.KeySpace, Runes: []rune{' '}},
		{Type: tea.KeyEnter},
		{Type: tea.KeyRunes, Runes: []rune{'y'}},
		{Type: tea.KeyRunes, Runes: []rune{'x'}},
	} {
		if _, cmd := m.Update(key); cmd != nil {
			t.Errorf("key %q should do nothing while disconnected", key.String())
		}
	}
}

func TestEnterWhileRecording(t *testing.T) {
	m := newTestModel()
	m.connected = true
	m.recording = true
	m.setRecordings(sampleRecordings())

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	model := updated.(Model)
	if model.errorMessage == "" {
		t.Error("play while recording should show an error")
	}
}

func TestEnterWhilePermissionPending(t *testing.T) {
	m := newTestModel()
	m.connected = true
	m.pendingPermission = true
	m.setRecordings(sampleRecordings())

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	model := updated.(Model)
	if !strings.Contains(model.errorMessage, "microphone prompt") {
		t.Errorf("errorMessage = %q, want a microphone prompt hint", model.errorMessage)
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should return tea.Quit")
	}
}

func TestEventErrorDisconnects(t *testing.T) {
	m := newTestModel()
	m.connected = true
	m.recording = true
	m.catalogLive = true

	updated, cmd := m.Update(DaemonEventErrorMsg{Err: fmt.Errorf("connection closed")})
	model := updated.(Model)

	if model.connected || !model.reconnecting {
		t.Error("event error should drop into reconnect")
	}
	if model.recording {
		t.Error("recording state is unknown after disconnect")
	}
	if model.catalogLive {
		t.Error("catalog is no longer live after disconnect")
	}
	if cmd == nil {
		t.Error("should schedule a reconnect")
	}
}

func TestFrameTickStopsWhenIdle(t *testing.T) {
	m := newTestModel()
	m.ticking = true

	updated, cmd := m.Update(FrameTickMsg{})
	if updated.(Model).ticking || cmd != nil {
		t.Error("ticker should stop once idle")
	}

	m.recording = true
	if _, cmd := m.Update(FrameTickMsg{}); cmd == nil {
		t.Error("ticker should continue while recording")
	}
}

func TestRenderRow(t *testing.T) {
	m := newTestModel()
	m.setRecordings(sampleRecordings())

	row := m.renderRow(2)
	want := "REC " + time.UnixMilli(t0.UnixMilli()).Format("2006-01-02 15:04:05") + "  00:30"
	if !strings.Contains(row, want) {
		t.Errorf("row = %q, want it to contain %q", row, want)
	}
	if !strings.Contains(m.renderRow(1), "synced") {
		t.Error("synced recordings should carry a badge")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		millis int64
		want   string
	}{
		{0, "00:00"},
		{999, "00:00"},
		{15000, "00:15"},
		{30000, "00:30"},
		{754000, "12:34"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.millis); got != tt.want {
			t.Errorf("formatDuration(%d) = %q, want %q", tt.millis, got, tt.want)
		}
	}
}

func TestRenderProgress(t *testing.T) {
	bar := renderProgress(15*time.Second, 30*time.Second, 10)
	if got := strings.Count(bar, "█"); got != 5 {
		t.Errorf("filled = %d, want 5", got)
	}
	if got := strings.Count(bar, "░"); got != 5 {
		t.Errorf("empty = %d, want 5", got)
	}

	bar = renderProgress(time.Minute, 30*time.Second, 10)
	if got := strings.Count(bar, "█"); got != 10 {
		t.Errorf("overfull bar filled = %d, want 10", got)
	}

	bar = renderProgress(0, 0, 10)
	if got := strings.Count(bar, "░"); got != 10 {
		t.Errorf("zero total empty = %d, want 10", got)
	}
}

func TestViewRendersWithSize(t *testing.T) {
	m := newTestModel()
	m.connected = true
	m.recording = true
	m.chunkIndex = 1
	m.chunkStartedAt = t0
	m.setRecordings(sampleRecordings())

	view := m.View()
	for _, want := range []string{"MEMO", "REC", "chunk 1", "00:12 / 00:30", "RECORDINGS (3)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewOffline(t *testing.T) {
	m := newTestModel()
	m.reconnecting = true

	view := m.View()
	if !strings.Contains(view, "Daemon not running") {
		t.Errorf("offline view = %q", view)
	}
}

func TestViewWithoutSize(t *testing.T) {
	m := New(Options{})
	view := m.View()
	if view != "Initializing..." {
		t.Errorf("view without size = %q, want 'Initializing...'", view)
	}
}
