package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/webintercept/proxycore/internal/flow"
)

// sqliteStore implements Store over a single glebarez/go-sqlite
// database file opened in WAL mode, the same driver and pragma string
// the teacher's audit index uses.
type sqliteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists.
func Open(path string) (Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			id TEXT PRIMARY KEY,
			host TEXT,
			method TEXT,
			status INTEGER,
			tags TEXT,
			timestamp TEXT,
			data TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_flows_host ON flows(host)`,
		`CREATE INDEX IF NOT EXISTS idx_flows_ts ON flows(timestamp)`,

		`CREATE TABLE IF NOT EXISTS attacks (
			id TEXT PRIMARY KEY,
			status TEXT,
			created_at TEXT,
			data TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS attack_results (
			attack_id TEXT,
			position_index INTEGER,
			fired_at TEXT,
			data TEXT,
			PRIMARY KEY (attack_id, position_index)
		)`,

		`CREATE TABLE IF NOT EXISTS spider_sessions (
			id TEXT PRIMARY KEY,
			status TEXT,
			created_at TEXT,
			data TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS spider_urls (
			session_id TEXT,
			url TEXT,
			data TEXT,
			PRIMARY KEY (session_id, url)
		)`,

		`CREATE TABLE IF NOT EXISTS scan_issues (
			id TEXT PRIMARY KEY,
			check_id TEXT,
			url TEXT,
			parameter TEXT,
			evidence TEXT,
			data TEXT,
			UNIQUE(check_id, url, parameter, evidence)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// --- FlowStore ---

func (s *sqliteStore) SaveFlow(ctx context.Context, snap flow.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling flow snapshot: %w", err)
	}
	tags := strings.Join(snap.Tags, ",")
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO flows (id, host, method, status, tags, timestamp, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID.String(), snap.Host, snap.Method, snap.ResponseStatus, tags,
		snap.Timestamp.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("saving flow %s: %w", snap.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetFlow(ctx context.Context, id string) (flow.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM flows WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return flow.Snapshot{}, fmt.Errorf("flow %s not found", id)
	}
	if err != nil {
		return flow.Snapshot{}, fmt.Errorf("fetching flow %s: %w", id, err)
	}
	var snap flow.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return flow.Snapshot{}, fmt.Errorf("decoding flow %s: %w", id, err)
	}
	return snap, nil
}

func (s *sqliteStore) ListFlows(ctx context.Context, filter FlowFilter) ([]flow.Snapshot, error) {
	query := `SELECT data FROM flows WHERE 1=1`
	var args []any

	if filter.Host != "" {
		query += ` AND host = ?`
		args = append(args, filter.Host)
	}
	if filter.Method != "" {
		query += ` AND method = ?`
		args = append(args, filter.Method)
	}
	if filter.StatusMin > 0 {
		query += ` AND status >= ?`
		args = append(args, filter.StatusMin)
	}
	if filter.StatusMax > 0 {
		query += ` AND status <= ?`
		args = append(args, filter.StatusMax)
	}
	if filter.Tag != "" {
		query += ` AND (',' || tags || ',') LIKE ?`
		args = append(args, "%,"+filter.Tag+",%")
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing flows: %w", err)
	}
	defer rows.Close()

	var out []flow.Snapshot
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning flow row: %w", err)
		}
		var snap flow.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("decoding flow row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteFlow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting flow %s: %w", id, err)
	}
	return nil
}

// --- AttackStore ---

func (s *sqliteStore) SaveAttack(ctx context.Context, a Attack) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling attack: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attacks (id, status, created_at, data) VALUES (?, ?, ?, ?)`,
		a.ID, a.Status, a.CreatedAt.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("saving attack %s: %w", a.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetAttack(ctx context.Context, id string) (Attack, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM attacks WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return Attack{}, fmt.Errorf("attack %s not found", id)
	}
	if err != nil {
		return Attack{}, fmt.Errorf("fetching attack %s: %w", id, err)
	}
	var a Attack
	if err := json.Unmarshal(data, &a); err != nil {
		return Attack{}, fmt.Errorf("decoding attack %s: %w", id, err)
	}
	return a, nil
}

func (s *sqliteStore) ListAttacks(ctx context.Context) ([]Attack, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM attacks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing attacks: %w", err)
	}
	defer rows.Close()

	var out []Attack
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning attack row: %w", err)
		}
		var a Attack
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, fmt.Errorf("decoding attack row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateAttackStatus(ctx context.Context, id, status string) error {
	a, err := s.GetAttack(ctx, id)
	if err != nil {
		return err
	}
	a.Status = status
	return s.SaveAttack(ctx, a)
}

func (s *sqliteStore) SaveResult(ctx context.Context, r AttackResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling attack result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO attack_results (attack_id, position_index, fired_at, data) VALUES (?, ?, ?, ?)`,
		r.AttackID, r.PositionIndex, r.FiredAt.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("saving attack result: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListResults(ctx context.Context, attackID string) ([]AttackResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM attack_results WHERE attack_id = ? ORDER BY position_index ASC`, attackID)
	if err != nil {
		return nil, fmt.Errorf("listing attack results: %w", err)
	}
	defer rows.Close()

	var out []AttackResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning attack result row: %w", err)
		}
		var r AttackResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decoding attack result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- SpiderStore ---

func (s *sqliteStore) SaveSession(ctx context.Context, sess SpiderSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling spider session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO spider_sessions (id, status, created_at, data) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Status, sess.CreatedAt.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("saving spider session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (SpiderSession, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM spider_sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return SpiderSession{}, fmt.Errorf("spider session %s not found", id)
	}
	if err != nil {
		return SpiderSession{}, fmt.Errorf("fetching spider session %s: %w", id, err)
	}
	var sess SpiderSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return SpiderSession{}, fmt.Errorf("decoding spider session %s: %w", id, err)
	}
	return sess, nil
}

func (s *sqliteStore) ListSessions(ctx context.Context) ([]SpiderSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM spider_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing spider sessions: %w", err)
	}
	defer rows.Close()

	var out []SpiderSession
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning spider session row: %w", err)
		}
		var sess SpiderSession
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("decoding spider session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveURL(ctx context.Context, u SpiderURL) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshaling spider url: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO spider_urls (session_id, url, data) VALUES (?, ?, ?)`,
		u.SessionID, u.URL, data)
	if err != nil {
		return fmt.Errorf("saving spider url %s: %w", u.URL, err)
	}
	return nil
}

func (s *sqliteStore) ListURLs(ctx context.Context, sessionID string) ([]SpiderURL, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM spider_urls WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing spider urls: %w", err)
	}
	defer rows.Close()

	var out []SpiderURL
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning spider url row: %w", err)
		}
		var u SpiderURL
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("decoding spider url row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- ScanStore ---

func (s *sqliteStore) SaveIssue(ctx context.Context, i ScanIssue) (bool, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return false, fmt.Errorf("marshaling scan issue: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO scan_issues (id, check_id, url, parameter, evidence, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID, i.CheckID, i.URL, i.Parameter, i.Evidence, data)
	if err != nil {
		return false, fmt.Errorf("saving scan issue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking scan issue insert result: %w", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) ListIssues(ctx context.Context, url string) ([]ScanIssue, error) {
	query := `SELECT data FROM scan_issues WHERE 1=1`
	var args []any
	if url != "" {
		query += ` AND url = ?`
		args = append(args, url)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing scan issues: %w", err)
	}
	defer rows.Close()

	var out []ScanIssue
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning scan issue row: %w", err)
		}
		var i ScanIssue
		if err := json.Unmarshal(data, &i); err != nil {
			return nil, fmt.Errorf("decoding scan issue row: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
