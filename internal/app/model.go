package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jwulff/memo/internal/daemon"
	"github.com/jwulff/memo/internal/db"
	xlog "github.com/jwulff/memo/internal/log"
	"github.com/jwulff/memo/internal/session"
	"github.com/jwulff/memo/internal/ui"
	"github.com/rs/zerolog"

	tea "github.com/charmbracelet/bubbletea"
)

// Options configures where the TUI finds the daemon and the database.
type Options struct {
	SocketPath string
	DBPath     string
	// Now overrides the wall clock used for chunk progress. Defaults to time.Now.
	Now func() time.Time
}

// Model is the root bubbletea model for the memo TUI.
type Model struct {
	opts   Options
	logger zerolog.Logger

	// Connection state
	client    *daemon.Client // command connection
	evClient  *daemon.Client // event subscription connection
	connected bool
	connError string

	// Recording state
	recording         bool
	activePath        string
	chunkIndex        int
	chunkStartedAt    time.Time
	rotation          time.Duration
	pendingPermission bool
	ticking           bool

	// Recordings list, newest first
	recordings  []daemon.Recording
	catalogLive bool
	selected    int
	listScroll  int

	// Playback
	playback daemon.Playback

	// UI state
	width  int
	height int

	// Errors
	errorMessage   string
	errorTransient bool

	// Status
	statusText string

	// DB
	store *db.Store

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a new Model with default state.
func New(opts Options) Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return Model{
		opts:       opts,
		logger:     xlog.WithComponent("tui"),
		rotation:   session.DefaultRotationInterval,
		statusText: "Connecting to memo daemon...",
	}
}

// Init connects to the daemon and opens the database for offline browsing.
func (m Model) Init() tea.Cmd {
	return tea.Batch(connectCmd(m.opts.SocketPath), openStoreCmd(m.opts.DBPath))
}

// connectCmd attempts to connect to the daemon with two connections:
// one for commands, one for event subscription.
func connectCmd(sockPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(sockPath)
		if err != nil {
			return DaemonConnectErrorMsg{Err: err}
		}
		evClient, err := daemon.Connect(sockPath)
		if err != nil {
			client.Close()
			return DaemonConnectErrorMsg{Err: err}
		}
		return DaemonConnectedMsg{Client: client, EvClient: evClient}
	}
}

// subscribeCmd subscribes on the event client and starts reading events.
func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		if err := evClient.Subscribe(); err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return readEventCmd(evClient)()
	}
}

// readEventCmd reads the next event from the event client.
func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return DaemonEventMsg{Event: ev}
	}
}

// sendCmd sends a command whose response carries the daemon status.
func sendCmd(client *daemon.Client, cmd daemon.Command) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(cmd)
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return StatusResponseMsg{Response: resp}
	}
}

// recordingsCmd fetches the current catalog.
func recordingsCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdRecordings})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return RecordingsResponseMsg{Response: resp}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

func frameTickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		return FrameTickMsg{}
	})
}

// openStoreCmd opens the SQLite store read-only.
func openStoreCmd(path string) tea.Cmd {
	return func() tea.Msg {
		if path == "" {
			return nil
		}
		store, err := db.OpenReadOnly(path)
		if err != nil {
			return nil // the daemon creates the database on first run
		}
		return storeOpenedMsg{store: store}
	}
}

type storeOpenedMsg struct{ store *db.Store }

// loadRecordingsCmd reads recordings straight from SQLite.
func loadRecordingsCmd(store *db.Store) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		segs, err := store.All(ctx)
		if err != nil {
			return nil
		}
		return RecordingsLoadedMsg{Recordings: daemon.ToRecordings(segs)}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ensureVisible()
		return m, nil

	case DaemonConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		return m, tea.Batch(
			subscribeCmd(m.evClient),
			sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStatus}),
			recordingsCmd(m.client),
		)

	case DaemonConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "Daemon not running. Reconnecting..."
		m.logger.Debug().Err(msg.Err).Int("attempt", m.reconnectAttempt).Msg("daemon connect failed")
		return m, reconnectCmd(m.reconnectAttempt)

	case StatusResponseMsg:
		r := msg.Response
		if !r.OK {
			cmd := m.showError(r.Error, true)
			return m, cmd
		}
		m.applyStatus(r)
		tick := m.ensureTicking()
		return m, tick

	case RecordingsResponseMsg:
		if msg.Response.OK {
			m.setRecordings(msg.Response.Recordings)
			m.catalogLive = true
		}
		return m, nil

	case RecordingsLoadedMsg:
		if !m.catalogLive {
			m.setRecordings(msg.Recordings)
		}
		return m, nil

	case DaemonEventMsg:
		cmd := m.handleEvent(msg.Event)
		tick := m.ensureTicking()
		// Continue reading events on event client
		return m, tea.Batch(cmd, tick, readEventCmd(m.evClient))

	case DaemonEventErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		m.catalogLive = false
		m.recording = false
		m.pendingPermission = false
		m.playback = daemon.Playback{}
		m.logger.Warn().Err(msg.Err).Msg("daemon connection lost")
		if m.client != nil {
			m.client.Close()
			m.client = nil
		}
		if m.evClient != nil {
			m.evClient.Close()
			m.evClient = nil
		}
		cmds := []tea.Cmd{reconnectCmd(m.reconnectAttempt)}
		if m.store != nil {
			cmds = append(cmds, loadRecordingsCmd(m.store))
		}
		return m, tea.Batch(cmds...)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.opts.SocketPath)

	case FrameTickMsg:
		if !m.recording {
			m.ticking = false
			return m, nil
		}
		return m, frameTickCmd()

	case storeOpenedMsg:
		m.store = msg.store
		return m, loadRecordingsCmd(m.store)

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) applyStatus(r daemon.Response) {
	if r.Recording != nil {
		m.setRecording(*r.Recording)
	}
	if r.ActivePath != "" {
		m.activePath = r.ActivePath
	}
	if r.ChunkIndex != nil {
		m.chunkIndex = *r.ChunkIndex
	}
	if r.ChunkStartedAt != 0 {
		m.chunkStartedAt = time.UnixMilli(r.ChunkStartedAt)
	}
	if r.RotationMillis > 0 {
		m.rotation = time.Duration(r.RotationMillis) * time.Millisecond
	}
	if r.PendingPermission != nil {
		m.pendingPermission = *r.PendingPermission
	}
	if r.Playback != nil {
		m.playback = *r.Playback
	}
}

func (m *Model) setRecording(rec bool) {
	m.recording = rec
	if rec {
		m.statusText = "Recording"
		return
	}
	m.statusText = "Idle"
	m.activePath = ""
	m.chunkStartedAt = time.Time{}
}

// handleEvent processes a daemon event and returns any resulting command.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case daemon.EventStatus:
		if ev.Recording != nil {
			m.setRecording(*ev.Recording)
		}
		if ev.PendingPermission != nil {
			m.pendingPermission = *ev.PendingPermission
		}
		if ev.ChunkIndex != nil {
			m.chunkIndex = *ev.ChunkIndex
		}
		if ev.ChunkStartedAt != 0 {
			m.chunkStartedAt = time.UnixMilli(ev.ChunkStartedAt)
		}

	case daemon.EventChunk:
		m.activePath = ev.Path
		if ev.ChunkIndex != nil {
			m.chunkIndex = *ev.ChunkIndex
		}
		if ev.ChunkStartedAt != 0 {
			m.chunkStartedAt = time.UnixMilli(ev.ChunkStartedAt)
		}

	case daemon.EventSegment:
		if ev.Segment != nil {
			m.statusText = fmt.Sprintf("Saved %s (%s)", filepath.Base(ev.Segment.FilePath), formatDuration(ev.Segment.DurationMillis))
		}

	case daemon.EventDropped:
		m.statusText = "Discarded empty chunk " + filepath.Base(ev.Path)

	case daemon.EventPermissionRequest:
		m.pendingPermission = true

	case daemon.EventPermissionDenied:
		m.pendingPermission = false
		msg := ev.Message
		if msg == "" {
			msg = "microphone permission denied"
		}
		return m.showError(msg, true)

	case daemon.EventStoreError:
		return m.showError(ev.Message, true)

	case daemon.EventError:
		return m.showError(ev.Message, ev.Transient != nil && *ev.Transient)

	case daemon.EventPlayback:
		if ev.Playback != nil {
			m.playback = *ev.Playback
			if ev.Playback.Finished {
				m.statusText = "Playback finished"
			}
		}

	case daemon.EventCatalog:
		m.setRecordings(ev.Recordings)
		m.catalogLive = true
	}

	return nil
}

func (m *Model) showError(msg string, transient bool) tea.Cmd {
	m.errorMessage = msg
	m.errorTransient = transient
	if transient {
		return clearTransientErrorCmd()
	}
	return nil
}

// ensureTicking starts the frame ticker while recording.
func (m *Model) ensureTicking() tea.Cmd {
	if !m.recording || m.ticking {
		return nil
	}
	m.ticking = true
	return frameTickCmd()
}

// setRecordings replaces the list, keeping the selection on the same
// recording when it is still present.
func (m *Model) setRecordings(recs []daemon.Recording) {
	var selectedID int64
	if m.selected < len(m.recordings) {
		selectedID = m.recordings[m.selected].ID
	}
	m.recordings = recs
	m.selected = 0
	for i, r := range recs {
		if r.ID == selectedID {
			m.selected = i
			break
		}
	}
	m.ensureVisible()
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.client != nil {
			m.client.Close()
		}
		if m.evClient != nil {
			m.evClient.Close()
		}
		if m.store != nil {
			m.store.Close()
		}
		return m, tea.Quit

	case KeySpace:
		if !m.connected {
			return m, nil
		}
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdRecord})

	case KeyAllow, KeyDeny:
		if !m.connected || !m.pendingPermission {
			return m, nil
		}
		granted := msg.String() == KeyAllow
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdPermission, Granted: daemon.BoolPtr(granted)})

	case KeyEnter:
		if !m.connected || m.selected >= len(m.recordings) {
			return m, nil
		}
		if m.recording {
			cmd := m.showError("stop recording before playing", true)
			return m, cmd
		}
		if m.pendingPermission {
			cmd := m.showError("answer the microphone prompt before playing", true)
			return m, cmd
		}
		id := m.recordings[m.selected].ID
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdPlay, ID: daemon.Int64Ptr(id)})

	case KeyStopPlayback:
		if !m.connected || !m.playback.Playing {
			return m, nil
		}
		return m, sendCmd(m.client, daemon.Command{Cmd: daemon.CmdStopPlayback})

	case KeyJ, KeyDown:
		if m.selected < len(m.recordings)-1 {
			m.selected++
			m.ensureVisible()
		}
		return m, nil

	case KeyK, KeyUp:
		if m.selected > 0 {
			m.selected--
			m.ensureVisible()
		}
		return m, nil
	}

	return m, nil
}

// ensureVisible scrolls the list so the selection is on screen.
func (m *Model) ensureVisible() {
	visible := m.listVisibleLines()
	if m.selected < m.listScroll {
		m.listScroll = m.selected
	}
	if m.selected >= m.listScroll+visible {
		m.listScroll = m.selected - visible + 1
	}
	maxScroll := max(0, len(m.recordings)-visible)
	if m.listScroll > maxScroll {
		m.listScroll = maxScroll
	}
	if m.listScroll < 0 {
		m.listScroll = 0
	}
}

func (m Model) listVisibleLines() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + prompt(1) + divider(2) + title(1) + error(1) + footer(1)
	reserved := 8
	return max(3, m.height-reserved)
}

// chunkElapsed is the time spent in the current chunk, clamped to the
// rotation interval.
func (m Model) chunkElapsed() time.Duration {
	if !m.recording || m.chunkStartedAt.IsZero() {
		return 0
	}
	elapsed := m.opts.Now().Sub(m.chunkStartedAt)
	if elapsed < 0 {
		return 0
	}
	if elapsed > m.rotation {
		return m.rotation
	}
	return elapsed
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	if m.pendingPermission {
		sections = append(sections, m.renderPrompt())
	}
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderRecordings(m.width, m.listVisibleLines()+1))
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	if m.errorMessage != "" {
		sections = append(sections, m.renderErrorBar())
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("MEMO")
	if m.recording && m.activePath != "" {
		return title + ui.DimStyle.Render("  "+filepath.Base(m.activePath))
	}
	return title + ui.DimStyle.Render("  "+m.statusText)
}

func (m Model) renderStatusBar() string {
	var dot string
	if m.recording {
		dot = ui.RecordingDotStyle.Render("● REC")
	} else {
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}

	var progress string
	if m.recording {
		elapsed := m.chunkElapsed()
		progress = fmt.Sprintf("  chunk %d  %s %s / %s",
			m.chunkIndex,
			renderProgress(elapsed, m.rotation, 20),
			formatClock(int(elapsed/time.Second)),
			formatClock(int(m.rotation/time.Second)),
		)
	}

	var playing string
	if m.playback.Playing {
		remaining := max(0, m.playback.Total-m.playback.Elapsed)
		playing = "  " + ui.PlayingStyle.Render("▶ PLAYING") +
			ui.DimStyle.Render(fmt.Sprintf(" #%d ", m.playback.ID)) +
			ui.DurationStyle.Render(formatClock(remaining)+" left")
	}

	return dot + progress + playing
}

func (m Model) renderPrompt() string {
	return ui.PromptStyle.Render("Allow microphone access? ") +
		ui.FooterKeyStyle.Render("y") + ui.FooterDescStyle.Render("/") + ui.FooterKeyStyle.Render("n")
}

// renderProgress draws a fixed-width bar for elapsed out of total.
func renderProgress(elapsed, total time.Duration, width int) string {
	filled := 0
	if total > 0 {
		filled = int(int64(width) * int64(elapsed) / int64(total))
	}
	filled = min(max(filled, 0), width)
	return ui.ProgressFillStyle.Render(strings.Repeat("█", filled)) +
		ui.ProgressEmptyStyle.Render(strings.Repeat("░", width-filled))
}

func (m Model) renderRecordings(width, height int) string {
	header := ui.PanelTitleStyle.Render(fmt.Sprintf("RECORDINGS (%d)", len(m.recordings)))
	if !m.connected && len(m.recordings) > 0 {
		header += ui.DimStyle.Render("  offline")
	}

	lines := []string{header}
	contentHeight := height - 1

	switch {
	case !m.connected && len(m.recordings) == 0:
		lines = append(lines, "")
		if m.reconnecting {
			lines = append(lines, ui.ErrorTextStyle.Render("  Daemon not running. Reconnecting..."))
			lines = append(lines, ui.DimStyle.Render("  Start with: memo daemon"))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Connecting to memo daemon..."))
		}
	case len(m.recordings) == 0:
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  No recordings yet. Press Space to start recording"))
	default:
		end := min(len(m.recordings), m.listScroll+contentHeight)
		for i := m.listScroll; i < end; i++ {
			lines = append(lines, truncateToWidth(m.renderRow(i), width))
		}
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(i int) string {
	r := m.recordings[i]
	started := time.UnixMilli(r.StartedAt).Format("2006-01-02 15:04:05")
	row := fmt.Sprintf("REC %s  %s", started, formatDuration(r.DurationMillis))

	var badge string
	if r.Synced {
		badge = ui.SyncedBadgeStyle.Render("  synced")
	}
	if m.playback.Playing && m.playback.ID == r.ID {
		badge += ui.PlayingStyle.Render("  ▶")
	}

	if i == m.selected {
		return ui.SelectedStyle.Render("> "+row) + badge
	}
	return "  " + ui.TimestampStyle.Render(row) + badge
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func (m Model) renderFooter() string {
	var parts []string

	if m.connected {
		if m.recording {
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Stop"))
		} else {
			parts = append(parts, ui.FooterKeyStyle.Render("Space")+ui.FooterDescStyle.Render(" Record"))
			parts = append(parts, ui.FooterKeyStyle.Render("Enter")+ui.FooterDescStyle.Render(" Play"))
		}
		if m.playback.Playing {
			parts = append(parts, ui.FooterKeyStyle.Render("x")+ui.FooterDescStyle.Render(" Stop playback"))
		}
	}
	parts = append(parts, ui.FooterKeyStyle.Render("j/k")+ui.FooterDescStyle.Render(" Nav"))
	parts = append(parts, ui.FooterKeyStyle.Render("q")+ui.FooterDescStyle.Render(" Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

// formatDuration renders milliseconds as mm:ss.
func formatDuration(millis int64) string {
	return formatClock(int(millis / 1000))
}

func formatClock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	// Simple truncation for non-styled strings
	runes := []rune(s)
	if len(runes) > width-1 && width > 1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}
