// Package ledger records what the relay routed in a sqlite read model. The
// audit log stays the source of truth; the ledger is for queries.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type Transfer struct {
	ID        string    `json:"id"`
	Step      string    `json:"step"`
	Mode      string    `json:"mode"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient,omitempty"`
	Outcome   string    `json:"outcome"`
	At        time.Time `json:"at"`
}

type Event struct {
	Kind    string    `json:"kind"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Sender  string    `json:"sender"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

type Command struct {
	Command string    `json:"command"`
	Target  string    `json:"target"`
	Text    string    `json:"text,omitempty"`
	At      time.Time `json:"at"`
}

type Login struct {
	Username string    `json:"username"`
	Result   string    `json:"result"`
	At       time.Time `json:"at"`
}

type Stats struct {
	Transfers int `json:"transfers"`
	Events    int `json:"events"`
	Commands  int `json:"commands"`
	Logins    int `json:"logins"`
}

type reqKind int

const (
	reqTransfer reqKind = iota + 1
	reqEvent
	reqCommand
	reqLogin
	reqFlush
)

type req struct {
	kind     reqKind
	transfer Transfer
	event    Event
	command  Command
	login    Login
	done     chan struct{}
}

// Ledger batches writes on one goroutine. Record calls never block; rows
// are dropped when the writer falls behind.
type Ledger struct {
	db *sql.DB

	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
	mu     sync.RWMutex
}

func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("empty ledger path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	l := &Ledger{db: db, ch: make(chan req, 16384)}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l, nil
}

func initPragmas(db *sql.DB) error {
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	} {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transfers (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			manifest_id TEXT NOT NULL,
			step TEXT NOT NULL,
			mode TEXT NOT NULL,
			from_loc TEXT NOT NULL,
			to_loc TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			outcome TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_manifest ON transfers(manifest_id, seq);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			from_loc TEXT NOT NULL,
			to_loc TEXT NOT NULL,
			sender TEXT NOT NULL,
			outcome TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			command TEXT NOT NULL,
			target TEXT NOT NULL,
			text TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS logins (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			result TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed.Store(true)
		close(l.ch)
		l.mu.Unlock()
		l.wg.Wait()
		err = l.db.Close()
	})
	return err
}

func (l *Ledger) enqueue(r req) {
	if l == nil {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed.Load() {
		return
	}
	select {
	case l.ch <- r:
	default:
	}
}

func (l *Ledger) RecordTransfer(t Transfer) { l.enqueue(req{kind: reqTransfer, transfer: t}) }
func (l *Ledger) RecordEvent(e Event)       { l.enqueue(req{kind: reqEvent, event: e}) }
func (l *Ledger) RecordCommand(c Command)   { l.enqueue(req{kind: reqCommand, command: c}) }
func (l *Ledger) RecordLogin(lg Login)      { l.enqueue(req{kind: reqLogin, login: lg}) }

// Flush waits until every row recorded so far is committed.
func (l *Ledger) Flush(ctx context.Context) error {
	if l == nil || l.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	l.mu.RLock()
	if l.closed.Load() {
		l.mu.RUnlock()
		return nil
	}
	select {
	case l.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}
	l.mu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (l *Ledger) loop() {
	ctx := context.Background()
	var (
		tx          *sql.Tx
		ops         int
		lastCommit  = time.Now()
		commitEvery = 500
		maxWait     = time.Second
	)
	commit := func() {
		if tx != nil {
			_ = tx.Commit()
		}
		tx, ops, lastCommit = nil, 0, time.Now()
	}
	for r := range l.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		if tx == nil {
			txx, err := l.db.BeginTx(ctx, nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
		}
		var err error
		switch r.kind {
		case reqTransfer:
			t := r.transfer
			_, err = tx.Exec(`INSERT INTO transfers(manifest_id,step,mode,from_loc,to_loc,sender,recipient,outcome,at) VALUES(?,?,?,?,?,?,?,?,?)`,
				t.ID, t.Step, t.Mode, t.From, t.To, t.Sender, t.Recipient, t.Outcome, stamp(t.At))
		case reqEvent:
			e := r.event
			_, err = tx.Exec(`INSERT INTO events(kind,from_loc,to_loc,sender,outcome,at) VALUES(?,?,?,?,?,?)`,
				e.Kind, e.From, e.To, e.Sender, e.Outcome, stamp(e.At))
		case reqCommand:
			c := r.command
			_, err = tx.Exec(`INSERT INTO commands(command,target,text,at) VALUES(?,?,?,?)`,
				c.Command, c.Target, c.Text, stamp(c.At))
		case reqLogin:
			lg := r.login
			_, err = tx.Exec(`INSERT INTO logins(username,result,at) VALUES(?,?,?)`,
				lg.Username, lg.Result, stamp(lg.At))
		}
		if err != nil {
			_ = tx.Rollback()
			tx, ops, lastCommit = nil, 0, time.Now()
			continue
		}
		ops++
		if ops >= commitEvery || time.Since(lastCommit) >= maxWait {
			commit()
		}
	}
	commit()
}

// RecentTransfers returns up to limit routed transfer steps, newest first.
func (l *Ledger) RecentTransfers(ctx context.Context, limit int) ([]Transfer, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `SELECT manifest_id,step,mode,from_loc,to_loc,sender,recipient,outcome,at
		FROM transfers ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		var t Transfer
		var at string
		if err := rows.Scan(&t.ID, &t.Step, &t.Mode, &t.From, &t.To, &t.Sender, &t.Recipient, &t.Outcome, &at); err != nil {
			return nil, err
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransferHistory returns every step recorded for one manifest in order.
func (l *Ledger) TransferHistory(ctx context.Context, id string) ([]Transfer, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT manifest_id,step,mode,from_loc,to_loc,sender,recipient,outcome,at
		FROM transfers WHERE manifest_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transfer
	for rows.Next() {
		var t Transfer
		var at string
		if err := rows.Scan(&t.ID, &t.Step, &t.Mode, &t.From, &t.To, &t.Sender, &t.Recipient, &t.Outcome, &at); err != nil {
			return nil, err
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"transfers", &s.Transfers},
		{"events", &s.Events},
		{"commands", &s.Commands},
		{"logins", &s.Logins},
	} {
		if err := l.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", q.table)).Scan(q.dst); err != nil {
			return s, err
		}
	}
	return s, nil
}
