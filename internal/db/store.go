package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no segment has the requested id.
var ErrNotFound = errors.New("segment not found")

const busyTimeout = 5 * time.Second

const schema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filePath TEXT NOT NULL,
		startedAt INTEGER NOT NULL,
		durationMillis INTEGER NOT NULL,
		isSynced INTEGER NOT NULL DEFAULT 0,
		transcript TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_startedAt ON recordings(startedAt);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// Store wraps the recordings database.
type Store struct {
	db *sql.DB

	mu   sync.Mutex
	subs map[chan Change]struct{}
}

// Open opens (creating if needed) the database for writing and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fileDSN(path,
		"_pragma=journal_mode(WAL)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
		"_pragma=synchronous(NORMAL)",
		"_pragma=foreign_keys(ON)",
	))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; keeps inserts from the persister and the settings table
	// from contending for the lock.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return newStore(db), nil
}

// OpenReadOnly opens an existing database without write access, for
// processes other than the daemon.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fileDSN(path,
		"mode=ro",
		fmt.Sprintf("_pragma=busy_timeout(%d)", busyTimeout.Milliseconds()),
	))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return newStore(db), nil
}

// fileDSN builds a file: URI. The path is percent-escaped so a '?' or '#'
// in a directory name cannot cut into the parameters.
func fileDSN(path string, params ...string) string {
	u := url.URL{Path: path}
	return "file:" + u.EscapedPath() + "?" + strings.Join(params, "&")
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db, subs: make(map[chan Change]struct{})}
}

// Close closes the database connection and all subscriptions.
func (s *Store) Close() error {
	s.mu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.mu.Unlock()
	return s.db.Close()
}

// Subscribe returns a channel receiving a Change after every write made
// through this Store. Slow readers miss changes rather than block writers;
// the channel is buffered so at least the latest burst is delivered.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Store) notify(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Insert stores seg and returns it with the assigned id.
func (s *Store) Insert(ctx context.Context, seg Segment) (Segment, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recordings (filePath, startedAt, durationMillis, isSynced, transcript)
		VALUES (?, ?, ?, ?, ?)
	`, seg.FilePath, seg.StartedAt.UnixMilli(), seg.DurationMillis(), seg.Synced, nullString(seg.Transcript))
	if err != nil {
		return Segment{}, fmt.Errorf("insert segment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Segment{}, fmt.Errorf("insert segment id: %w", err)
	}
	seg.ID = id
	s.notify(Change{Op: OpInsert, ID: id})
	return seg, nil
}

// All returns every segment, newest first.
func (s *Store) All(ctx context.Context) ([]Segment, error) {
	return s.query(ctx, `
		SELECT id, filePath, startedAt, durationMillis, isSynced, transcript
		FROM recordings
		ORDER BY startedAt DESC, id DESC
	`)
}

// Unsynced returns segments not yet marked synced, oldest first.
func (s *Store) Unsynced(ctx context.Context) ([]Segment, error) {
	return s.query(ctx, `
		SELECT id, filePath, startedAt, durationMillis, isSynced, transcript
		FROM recordings
		WHERE isSynced = 0
		ORDER BY startedAt ASC, id ASC
	`)
}

// Get returns the segment with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (Segment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filePath, startedAt, durationMillis, isSynced, transcript
		FROM recordings
		WHERE id = ?
	`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Segment{}, fmt.Errorf("segment %d: %w", id, ErrNotFound)
	}
	return seg, err
}

// Update overwrites every column of the segment with seg.ID.
func (s *Store) Update(ctx context.Context, seg Segment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings
		SET filePath = ?, startedAt = ?, durationMillis = ?, isSynced = ?, transcript = ?
		WHERE id = ?
	`, seg.FilePath, seg.StartedAt.UnixMilli(), seg.DurationMillis(), seg.Synced, nullString(seg.Transcript), seg.ID)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	if err := requireRow(res, seg.ID); err != nil {
		return err
	}
	s.notify(Change{Op: OpUpdate, ID: seg.ID})
	return nil
}

// MarkSynced flags the segment as synced and, when transcript is non-nil,
// stores it.
func (s *Store) MarkSynced(ctx context.Context, id int64, transcript *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recordings
		SET isSynced = 1, transcript = COALESCE(?, transcript)
		WHERE id = ?
	`, nullString(transcript), id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	s.notify(Change{Op: OpUpdate, ID: id})
	return nil
}

// Delete removes the segment row. The chunk file is left on disk.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	s.notify(Change{Op: OpDelete, ID: id})
	return nil
}

// Setting returns the value stored under key and whether it exists.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting stores value under key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSegment(row scanner) (Segment, error) {
	var seg Segment
	var startedAt, durationMillis int64
	var transcript sql.NullString
	if err := row.Scan(&seg.ID, &seg.FilePath, &startedAt, &durationMillis, &seg.Synced, &transcript); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Segment{}, err
		}
		return Segment{}, fmt.Errorf("scan segment: %w", err)
	}
	seg.StartedAt = time.UnixMilli(startedAt)
	seg.Duration = time.Duration(durationMillis) * time.Millisecond
	if transcript.Valid {
		t := transcript.String
		seg.Transcript = &t
	}
	return seg, nil
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("segment %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
