// Package store implements the durable message store: a single embedded
// SQLite file holding actor definitions, every message ever dispatched, and
// the pending-event ledger the subscriber replays on startup.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	nimbus "github.com/everydev1618/nimbus"
	"github.com/everydev1618/nimbus/internal/transport"
)

// Exact DDL and thresholds mirrored from the original store/constants.rs.
const (
	ddlActors = `CREATE TABLE IF NOT EXISTS actors (
		actor_id TEXT PRIMARY KEY,
		addr BLOB DEFAULT NULL,
		actor_def TEXT,
		state BLOB DEFAULT NULL
	)`

	ddlMessages = `CREATE TABLE IF NOT EXISTS messages (
		actor_id TEXT,
		msg_id TEXT,
		inbound INTEGER DEFAULT 1,
		msg_seq INTEGER,
		msg BLOB,
		PRIMARY KEY (actor_id, msg_id)
	)`

	ddlMessagesActorSeqIdx = `CREATE INDEX IF NOT EXISTS idx_messages_actor_seq ON messages (actor_id, msg_seq)`

	ddlEvents = `CREATE TABLE IF NOT EXISTS events (
		row_id INTEGER PRIMARY KEY,
		status TEXT DEFAULT 'N'
	)`

	insertMessage = `INSERT INTO messages (actor_id, msg_id, msg_seq, msg)
		VALUES (:actor_id, :msg_id,
			(SELECT IFNULL(MAX(msg_seq), 0) + 1 FROM messages WHERE actor_id = :actor_id),
			:msg)`

	insertEvent = `INSERT OR IGNORE INTO events (row_id) VALUES (:row_id)`

	selectPendingEvents = `SELECT row_id FROM events WHERE status = 'N'`

	// FetchLimit caps the rows returned by MessagesFrom, matching the
	// original's FETCH_LIMIT.
	FetchLimit = 1000

	// BufferMaxSize is the default in-memory write-buffer flush threshold,
	// matching the original's BUFFER_MAX_SIZE.
	BufferMaxSize = 5

	// EventMaxAge is the default buffer age-flush threshold, matching the
	// original's EVENT_MAX_AGE (one second).
	EventMaxAge = time.Second

	defaultStmtCacheSize = 100
)

// NotifyFunc is called once per successfully inserted message row, after its
// transaction commits. modernc.org/sqlite does not expose a commit/update
// hook through database/sql the way rusqlite's update_hook does, so the
// store notifies explicitly instead of relying on a driver-level hook (see
// DESIGN.md).
type NotifyFunc func(rowID int64)

// Store is the embedded relational store backing one process's actors and
// messages. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	notify NotifyFunc

	mu              sync.Mutex
	buffer          []nimbus.Msg
	bufferOpenedAt  time.Time
	bufferMaxSize   int
	eventMaxAge     time.Duration

	stmtMu    sync.Mutex
	stmtCache map[string]*sql.Stmt
	stmtCap   int
}

// Open opens (creating if absent) the SQLite file at path and initializes
// its schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("nimbus/store: open %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("nimbus/store: %w: set journal mode: %v", nimbus.ErrStorage, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:            db,
		bufferMaxSize: BufferMaxSize,
		eventMaxAge:   EventMaxAge,
		stmtCache:     make(map[string]*sql.Stmt),
		stmtCap:       defaultStmtCacheSize,
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetNotify installs the callback invoked after each message insert commits.
func (s *Store) SetNotify(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

func (s *Store) init() error {
	for _, stmt := range []string{ddlActors, ddlMessages, ddlMessagesActorSeqIdx, ddlEvents} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("nimbus/store: %w: init schema: %v", nimbus.ErrStorage, err)
		}
	}
	return nil
}

// Close flushes any buffered writes and closes the underlying file.
func (s *Store) Close() error {
	if err := s.Persist(nimbus.Blank()); err != nil {
		slog.Warn("store: flush on close failed", "err", err)
	}
	s.stmtMu.Lock()
	for k, stmt := range s.stmtCache {
		stmt.Close()
		delete(s.stmtCache, k)
	}
	s.stmtMu.Unlock()
	return s.db.Close()
}

// Persist accepts one piece of outbound mail for durable recording. It
// mirrors the original's persist(): Blank with an empty buffer is a no-op;
// Blank with a non-empty buffer forces a flush; a Trade is buffered and
// flushed once the buffer overflows or matures; a Bulk is always flushed
// immediately after being appended.
func (s *Store) Persist(mail nimbus.Mail) error {
	switch mail.Kind {
	case nimbus.MailBlank:
		s.mu.Lock()
		empty := len(s.buffer) == 0
		s.mu.Unlock()
		if empty {
			return nil
		}
		return s.flushBuffer()

	case nimbus.MailTrade:
		s.mu.Lock()
		s.pushLocked(mail.One)
		shouldFlush := s.shouldFlushLocked()
		s.mu.Unlock()
		if shouldFlush {
			return s.flushBuffer()
		}
		return nil

	case nimbus.MailBulk:
		s.mu.Lock()
		for _, m := range mail.Many {
			s.pushLocked(m)
		}
		s.mu.Unlock()
		return s.flushBuffer()

	default:
		return nil
	}
}

func (s *Store) pushLocked(m nimbus.Msg) {
	if len(s.buffer) == 0 {
		s.bufferOpenedAt = time.Now()
	}
	s.buffer = append(s.buffer, m)
}

func (s *Store) shouldFlushLocked() bool {
	if len(s.buffer) >= s.bufferMaxSize {
		return true
	}
	if len(s.buffer) == 0 {
		return false
	}
	return time.Since(s.bufferOpenedAt) >= s.eventMaxAge
}

// flushBuffer writes every buffered Msg inside one transaction, assigning
// each its per-actor monotonic msg_seq, then fires notify once per row.
func (s *Store) flushBuffer() error {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("nimbus/store: %w: begin flush: %v", nimbus.ErrStorage, err)
	}

	stmt, err := tx.Prepare(insertMessage)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("nimbus/store: %w: prepare insert: %v", nimbus.ErrStorage, err)
	}
	defer stmt.Close()

	rowIDs := make([]int64, 0, len(pending))
	for _, m := range pending {
		actorID := actorIDFor(m)
		blob, err := transport.EncodeMsg(m)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("nimbus/store: %w: encode msg %d: %v", nimbus.ErrSerialization, m.ID, err)
		}
		res, err := stmt.Exec(
			sql.Named("actor_id", actorID),
			sql.Named("msg_id", fmt.Sprintf("%d", m.ID)),
			sql.Named("msg", blob),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("nimbus/store: %w: insert msg %d: %v", nimbus.ErrStorage, m.ID, err)
		}
		rowID, err := res.LastInsertId()
		if err == nil {
			rowIDs = append(rowIDs, rowID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("nimbus/store: %w: commit flush: %v", nimbus.ErrStorage, err)
	}

	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify != nil {
		for _, id := range rowIDs {
			notify(id)
		}
	}
	return nil
}

// actorIDFor resolves the store partition key for a message: the recipient
// for outbound mail, falling back to the sender for replies with no
// destination.
func actorIDFor(m nimbus.Msg) string {
	if m.To != nil {
		return m.To.IDString()
	}
	if m.From != nil {
		return m.From.IDString()
	}
	return ""
}

// SaveProducer persists (or replaces) the actor definition for addr.
func (s *Store) SaveProducer(addr nimbus.Address, defText string) error {
	addrBlob := transport.EncodeAddress(addr)
	_, err := s.db.Exec(
		`INSERT INTO actors (actor_id, addr, actor_def) VALUES (?, ?, ?)
		 ON CONFLICT(actor_id) DO UPDATE SET addr = excluded.addr, actor_def = excluded.actor_def`,
		addr.IDString(), addrBlob, defText,
	)
	if err != nil {
		return fmt.Errorf("nimbus/store: %w: save producer %s: %v", nimbus.ErrStorage, addr.IDString(), err)
	}
	return nil
}

// RetrieveActorDef returns the persisted definition text for actorID and the
// highest msg_seq recorded for it (0 if none), used to resume sequencing
// across a restore.
func (s *Store) RetrieveActorDef(actorID string) (defText string, lastSeq int64, err error) {
	row := s.db.QueryRow(`SELECT actor_def FROM actors WHERE actor_id = ?`, actorID)
	if err := row.Scan(&defText); err != nil {
		if err == sql.ErrNoRows {
			return "", 0, fmt.Errorf("nimbus/store: %w: actor %s", nimbus.ErrActorNotDefined, actorID)
		}
		return "", 0, fmt.Errorf("nimbus/store: %w: retrieve actor def %s: %v", nimbus.ErrStorage, actorID, err)
	}

	row = s.db.QueryRow(`SELECT IFNULL(MAX(msg_seq), 0) FROM messages WHERE actor_id = ?`, actorID)
	if err := row.Scan(&lastSeq); err != nil {
		return "", 0, fmt.Errorf("nimbus/store: %w: retrieve last seq %s: %v", nimbus.ErrStorage, actorID, err)
	}
	return defText, lastSeq, nil
}

// IsActorDefined reports whether actorID has a persisted definition.
func (s *Store) IsActorDefined(actorID string) (bool, error) {
	row := s.db.QueryRow(`SELECT 1 FROM actors WHERE actor_id = ?`, actorID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("nimbus/store: %w: is actor defined %s: %v", nimbus.ErrStorage, actorID, err)
	}
	return true, nil
}

// RemoveActorPermanent deletes the actor's definition and its full message
// history. It is an explicit operation: the catalog's panic-tolerance
// eviction does not call it, so an evicted actor's definition and messages
// stay in the store.
func (s *Store) RemoveActorPermanent(actorID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("nimbus/store: %w: begin remove %s: %v", nimbus.ErrStorage, actorID, err)
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE actor_id = ?`, actorID); err != nil {
		tx.Rollback()
		return fmt.Errorf("nimbus/store: %w: delete messages %s: %v", nimbus.ErrStorage, actorID, err)
	}
	if _, err := tx.Exec(`DELETE FROM actors WHERE actor_id = ?`, actorID); err != nil {
		tx.Rollback()
		return fmt.Errorf("nimbus/store: %w: delete actor %s: %v", nimbus.ErrStorage, actorID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("nimbus/store: %w: commit remove %s: %v", nimbus.ErrStorage, actorID, err)
	}
	return nil
}

// MessagesFrom returns, in msg_seq order, up to FetchLimit messages recorded
// for actorID at or after fromSeq.
func (s *Store) MessagesFrom(actorID string, fromSeq int64) ([]nimbus.Msg, error) {
	rows, err := s.db.Query(
		`SELECT msg FROM messages WHERE actor_id = ? AND msg_seq >= ? ORDER BY msg_seq ASC LIMIT ?`,
		actorID, fromSeq, FetchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("nimbus/store: %w: messages from %s: %v", nimbus.ErrStorage, actorID, err)
	}
	defer rows.Close()

	var out []nimbus.Msg
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("nimbus/store: %w: scan message %s: %v", nimbus.ErrStorage, actorID, err)
		}
		m, err := transport.DecodeMsg(blob)
		if err != nil {
			return nil, fmt.Errorf("nimbus/store: %w: decode message %s: %v", nimbus.ErrSerialization, actorID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PersistEvent records rowID in the event ledger with status 'N' (not yet
// handled), the durable record Subscriber replays if the process restarts
// before routing catches up. A rowID already in the ledger is left as it
// is, so replaying a pending event through the tracker does not fail.
func (s *Store) PersistEvent(rowID int64) error {
	if _, err := s.db.Exec(insertEvent, rowID); err != nil {
		return fmt.Errorf("nimbus/store: %w: persist event %d: %v", nimbus.ErrStorage, rowID, err)
	}
	return nil
}

// ReadPendingEvents returns every row_id still marked 'N', used by the
// subscriber's startup recovery pass.
func (s *Store) ReadPendingEvents() ([]int64, error) {
	rows, err := s.db.Query(selectPendingEvents)
	if err != nil {
		return nil, fmt.Errorf("nimbus/store: %w: read pending events: %v", nimbus.ErrStorage, err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("nimbus/store: %w: scan pending event: %v", nimbus.ErrStorage, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// MarkEventHandled flips an event row's status away from 'N' once it has
// been routed, per the status-flip resolution of the retention open
// question (see DESIGN.md) — handled rows are kept, not deleted, for audit.
func (s *Store) MarkEventHandled(rowID int64) error {
	if _, err := s.db.Exec(`UPDATE events SET status = 'H' WHERE row_id = ?`, rowID); err != nil {
		return fmt.Errorf("nimbus/store: %w: mark event handled %d: %v", nimbus.ErrStorage, rowID, err)
	}
	return nil
}

// MessageByRowID resolves a raw events.row_id (the SQLite rowid of a
// messages row) back to its decoded Msg and the per-actor msg_seq it was
// assigned on insert, for the event pipeline's hand-off to Router/Catalog.
func (s *Store) MessageByRowID(rowID int64) (nimbus.Msg, int64, error) {
	row := s.db.QueryRow(`SELECT msg, msg_seq FROM messages WHERE rowid = ?`, rowID)
	var blob []byte
	var seq int64
	if err := row.Scan(&blob, &seq); err != nil {
		return nimbus.Msg{}, 0, fmt.Errorf("nimbus/store: %w: message by rowid %d: %v", nimbus.ErrStorage, rowID, err)
	}
	m, err := transport.DecodeMsg(blob)
	if err != nil {
		return nimbus.Msg{}, 0, fmt.Errorf("nimbus/store: %w: decode message rowid %d: %v", nimbus.ErrSerialization, rowID, err)
	}
	return m, seq, nil
}

// Ping checks the underlying connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// preparedStmt returns a cached statement for query, preparing and caching
// it if absent. The cache is a plain map bounded at stmtCap: a bare map
// rather than an LRU library, since no LRU dependency appears anywhere in
// the example corpus and a hard cap with arbitrary eviction is sufficient
// here (see DESIGN.md).
func (s *Store) preparedStmt(query string) (*sql.Stmt, error) {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}
	if len(s.stmtCache) >= s.stmtCap {
		for k, old := range s.stmtCache {
			old.Close()
			delete(s.stmtCache, k)
			break
		}
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("nimbus/store: %w: prepare: %v", nimbus.ErrStorage, err)
	}
	s.stmtCache[query] = stmt
	return stmt, nil
}
