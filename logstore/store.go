// Package logstore implements C8, the Structured Log Store: every C2-C7
// component's structured events, persisted through a logrus.Hook the way
// the teacher's common.NewLogger configures logrus globally, generalized
// from a stdout/file sink to one that also persists rows to the catalog
// with mandatory secret redaction and bounded retention (spec §3, §4.7,
// §6).
package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/netraven/core/catalog"
	"github.com/netraven/core/config"
	"github.com/netraven/core/errs"
)

// fileRecord is the on-disk newline-delimited JSON shape (spec §6:
// "{ts, level, source, job_run_id?, device_id?, msg, meta}").
type fileRecord struct {
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Source    string                 `json:"source,omitempty"`
	JobRunID  *uuid.UUID             `json:"job_run_id,omitempty"`
	DeviceID  *uuid.UUID             `json:"device_id,omitempty"`
	Message   string                 `json:"msg"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Entry is one structured log record (spec §3).
type Entry struct {
	ID        int64
	Timestamp time.Time
	Level     logrus.Level
	Source    string // e.g. "job", "system", "session"
	JobRunID  *uuid.UUID
	DeviceID  *uuid.UUID
	Message   string
	Meta      map[string]interface{}
}

// ringEntry is the bounded-buffer representation kept in memory for fast
// tailing (e.g. a live log view) without round-tripping to Postgres.
type ringEntry struct {
	entry Entry
}

// Store is a logrus.Hook that redacts, ring-buffers and persists log
// entries (spec §4.7). It implements logrus.Hook so the rest of the
// process logs through the ordinary logrus API and this package is wired
// in exactly once, at startup, via logrus.AddHook.
type Store struct {
	catalogStore *catalog.Store
	redactors    []*regexp.Regexp
	capacity     int
	file         io.Writer // nil disables the on-disk sink

	mu      sync.Mutex
	ring    []ringEntry
	head    int
	size    int
	dropped int64
}

// New creates a Store from already-compiled redaction patterns. capacity
// bounds the in-process ring buffer (spec §4.7: "a structured ring buffer
// of bounded size; on overflow the oldest debug-level entries are dropped
// first"). file, if non-nil, receives one newline-delimited JSON record
// per entry (spec §6's on-disk log format); pass nil to disable the file
// sink entirely.
func New(catalogStore *catalog.Store, patterns []*regexp.Regexp, capacity int, file io.Writer) *Store {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Store{
		catalogStore: catalogStore,
		redactors:    patterns,
		capacity:     capacity,
		file:         file,
		ring:         make([]ringEntry, capacity),
	}
}

// NewFromConfig loads REDACT_PATTERNS and opens the LOG_DIR file sink per
// spec §6, rotating with lumberjack the way the teacher's common.logger
// rotates its own output file.
func NewFromConfig(catalogStore *catalog.Store, cfg *config.Config) (*Store, error) {
	patterns, err := config.LoadRedactPatterns(cfg.RedactPatternsPath)
	if err != nil {
		return nil, fmt.Errorf("loading redact patterns: %w", err)
	}
	var file io.Writer
	if cfg.LogDir != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.LogDir + "/netravencore.log",
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     int(cfg.LogRetention.Hours() / 24), // keep file pruning in step with LOG_RETENTION_DAYS
			Compress:   true,
		}
	}
	return New(catalogStore, patterns, 10000, file), nil
}

// Levels implements logrus.Hook: the store observes every level, since
// redaction and retention apply uniformly (spec §4.7 invariant: "redaction
// is not bypassable for info level and above").
func (s *Store) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (s *Store) Fire(e *logrus.Entry) error {
	entry := Entry{
		Timestamp: e.Time,
		Level:     e.Level,
		Message:   s.redact(e.Message),
		Meta:      make(map[string]interface{}, len(e.Data)),
	}
	for k, v := range e.Data {
		switch k {
		case "source":
			if s2, ok := v.(string); ok {
				entry.Source = s2
				continue
			}
		case "job_run_id":
			if id, ok := v.(uuid.UUID); ok {
				entry.JobRunID = &id
				continue
			}
		case "device_id":
			if id, ok := v.(uuid.UUID); ok {
				entry.DeviceID = &id
				continue
			}
		}
		entry.Meta[k] = s.redactValue(v)
	}
	s.append(entry)
	s.writeFile(entry)
	return s.persist(e.Context, entry)
}

// writeFile appends entry to the on-disk NDJSON sink, if one is
// configured. A marshal or write failure is swallowed rather than
// propagated: the catalog row is the durable record, the file is a
// convenience for offline tailing (spec §6).
func (s *Store) writeFile(entry Entry) {
	if s.file == nil {
		return
	}
	rec := fileRecord{
		Timestamp: entry.Timestamp,
		Level:     entry.Level.String(),
		Source:    entry.Source,
		JobRunID:  entry.JobRunID,
		DeviceID:  entry.DeviceID,
		Message:   entry.Message,
		Meta:      entry.Meta,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	line = append(line, '\n')
	_, _ = s.file.Write(line)
}

// redact replaces every pattern match in msg with "[REDACTED]". Applied
// unconditionally in Fire, regardless of level, so it cannot be bypassed
// by a caller raising the level threshold (spec §4.7 invariant).
func (s *Store) redact(msg string) string {
	for _, re := range s.redactors {
		msg = re.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}

// redactValue applies redact to string-valued fields and recurses into
// maps; other field types pass through unchanged.
func (s *Store) redactValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return s.redact(t)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = s.redactValue(vv)
		}
		return out
	case fmt.Stringer:
		return s.redact(t.String())
	default:
		return v
	}
}

// append adds entry to the ring buffer, dropping the oldest DebugLevel
// entry first on overflow (spec §4.7), or the oldest entry of any level if
// the buffer holds no debug entries to sacrifice.
func (s *Store) append(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < s.capacity {
		s.ring[(s.head+s.size)%s.capacity] = ringEntry{entry: entry}
		s.size++
		return
	}

	victim := s.findDebugVictim()
	if victim == -1 {
		victim = s.head
		s.head = (s.head + 1) % s.capacity
	}
	s.ring[victim] = ringEntry{entry: entry}
	s.dropped++
}

func (s *Store) findDebugVictim() int {
	for i := 0; i < s.size; i++ {
		idx := (s.head + i) % s.capacity
		if s.ring[idx].entry.Level == logrus.DebugLevel {
			return idx
		}
	}
	return -1
}

// DroppedCount reports how many entries the ring buffer has discarded to
// stay within capacity (the log_drop counter from spec §4.7).
func (s *Store) DroppedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Tail returns the most recent n entries currently buffered.
func (s *Store) Tail(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.size {
		n = s.size
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		idx := (s.head + s.size - n + i) % s.capacity
		out[i] = s.ring[idx].entry
	}
	return out
}

func (s *Store) persist(ctx context.Context, entry Entry) error {
	if s.catalogStore == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		metaJSON = []byte("{}")
	}
	err = s.catalogStore.Exec(ctx, `
		INSERT INTO log_entries (ts, level, source, job_run_id, device_id, message, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.Timestamp, entry.Level.String(), entry.Source, entry.JobRunID, entry.DeviceID, entry.Message, metaJSON)
	if err != nil {
		return errs.Wrap(errs.CatalogLoss, err, "failed to persist log entry")
	}
	return nil
}

// ListForRun returns persisted log entries for a Job Run, oldest first.
func (s *Store) ListForRun(ctx context.Context, runID uuid.UUID) ([]Entry, error) {
	rows, err := s.catalogStore.Query(ctx, `
		SELECT id, ts, level, source, job_run_id, device_id, message, meta
		FROM log_entries WHERE job_run_id=$1 ORDER BY ts ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var levelStr string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &levelStr, &e.Source, &e.JobRunID, &e.DeviceID, &e.Message, &metaJSON); err != nil {
			return nil, errs.Wrap(errs.CatalogLoss, err, "scan log entry failed")
		}
		lvl, err := logrus.ParseLevel(levelStr)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		e.Level = lvl
		_ = json.Unmarshal(metaJSON, &e.Meta)
		out = append(out, e)
	}
	return out, rows.Err()
}
