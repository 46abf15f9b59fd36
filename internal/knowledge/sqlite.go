package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the production Store implementation.
//
// Rows are stored document-style: the full JSON document in one column plus
// the handful of columns the query contract filters and sorts on. Mutations
// that touch nested document fields (usage bumps, feedback, principle links)
// are read-modify-write inside a transaction.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                 TEXT PRIMARY KEY,
	current_project_id TEXT NOT NULL DEFAULT '',
	device_fingerprint TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL,
	last_active        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS projects_by_session ON projects(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS fixes (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	error_type TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS fixes_by_type ON fixes(session_id, project_id, error_type, created_at DESC);

CREATE TABLE IF NOT EXISTS principles (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL,
	project_id   TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	category     TEXT NOT NULL,
	success_rate REAL NOT NULL,
	doc          TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS principles_by_category ON principles(session_id, project_id, category, success_rate DESC);
`

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// initializes the schema. The parent directory is created with 0700.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL for concurrent readers; a single writer is enough for the
	// one-session model.
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession persists a session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return ErrEmptySessionID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, current_project_id, device_fingerprint, created_at, last_active)
		VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.CurrentProjectID, sess.DeviceFingerprint,
		sess.CreatedAt.UnixNano(), sess.LastActive.UnixNano())
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, current_project_id, device_fingerprint, created_at, last_active
		FROM sessions WHERE id = ?`, sessionID)

	var sess Session
	var createdAt, lastActive int64
	err := row.Scan(&sess.ID, &sess.CurrentProjectID, &sess.DeviceFingerprint, &createdAt, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.LastActive = time.Unix(0, lastActive)
	return &sess, nil
}

// TouchSession refreshes the last-active timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active = ? WHERE id = ?`,
		time.Now().UnixNano(), sessionID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// SetCurrentProject moves the session's current-project pointer.
func (s *SQLiteStore) SetCurrentProject(ctx context.Context, sessionID, projectID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET current_project_id = ? WHERE id = ?`,
		projectID, sessionID)
	if err != nil {
		return fmt.Errorf("setting current project: %w", err)
	}
	return requireRow(res, ErrSessionNotFound)
}

// CreateProject persists a project.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) (string, error) {
	if p == nil || p.SessionID == "" {
		return "", ErrEmptySessionID
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding project: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, session_id, name, doc, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Name, string(doc), p.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("inserting project: %w", err)
	}
	return p.ID, nil
}

// GetAllProjectsForSession lists projects newest-first.
func (s *SQLiteStore) GetAllProjectsForSession(ctx context.Context, sessionID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM projects
		WHERE session_id = ?
		ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		var p Project
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decoding project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project and its owned fixes and principles.
func (s *SQLiteStore) DeleteProject(ctx context.Context, sessionID, projectID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE session_id = ? AND id = ?`, sessionID, projectID)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return requireRow(res, ErrProjectNotFound)
}

// CreateFix persists a fix document.
func (s *SQLiteStore) CreateFix(ctx context.Context, sessionID, projectID string, fix *Fix) (string, error) {
	if fix == nil || projectID == "" {
		return "", ErrEmptyProjectID
	}
	doc, err := json.Marshal(fix)
	if err != nil {
		return "", fmt.Errorf("encoding fix: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fixes (id, session_id, project_id, error_type, doc, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fix.ID, sessionID, projectID, string(fix.Error.Type), string(doc), fix.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("inserting fix: %w", err)
	}
	return fix.ID, nil
}

// GetFixesByClassification returns matching fixes newest-first.
func (s *SQLiteStore) GetFixesByClassification(ctx context.Context, sessionID, projectID string, classification Category, limit int) ([]Fix, error) {
	if limit <= 0 {
		limit = SameProjectFixLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM fixes
		WHERE session_id = ? AND project_id = ? AND error_type = ?
		ORDER BY created_at DESC
		LIMIT ?`, sessionID, projectID, string(classification), limit)
	if err != nil {
		return nil, fmt.Errorf("querying fixes: %w", err)
	}
	defer rows.Close()
	return scanFixes(rows)
}

// GetAllFixesForProject returns fixes newest-first, capped at AllFixesLimit.
func (s *SQLiteStore) GetAllFixesForProject(ctx context.Context, sessionID, projectID string) ([]Fix, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM fixes
		WHERE session_id = ? AND project_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, sessionID, projectID, AllFixesLimit)
	if err != nil {
		return nil, fmt.Errorf("querying fixes: %w", err)
	}
	defer rows.Close()
	return scanFixes(rows)
}

// BumpFixUsage increments the applied counter and stamps last-applied.
func (s *SQLiteStore) BumpFixUsage(ctx context.Context, sessionID, projectID, fixID string) error {
	return s.mutateFix(ctx, sessionID, projectID, fixID, func(f *Fix) {
		f.AppliedCount++
		f.LastAppliedAt = time.Now()
	})
}

// SetFixFeedback records the user's helpful judgement.
func (s *SQLiteStore) SetFixFeedback(ctx context.Context, sessionID, projectID, fixID string, helpful bool) error {
	return s.mutateFix(ctx, sessionID, projectID, fixID, func(f *Fix) {
		f.Feedback = &FixFeedback{Helpful: helpful}
	})
}

// LinkPrinciple appends a principle id to the fix document.
func (s *SQLiteStore) LinkPrinciple(ctx context.Context, sessionID, projectID, fixID, principleID string) error {
	return s.mutateFix(ctx, sessionID, projectID, fixID, func(f *Fix) {
		f.LinkedPrinciples = append(f.LinkedPrinciples, principleID)
	})
}

// CreatePrinciple persists a principle and back-links the originating fix.
func (s *SQLiteStore) CreatePrinciple(ctx context.Context, sessionID, projectID string, p *Principle, linkedFixID string) (string, error) {
	if p == nil || projectID == "" {
		return "", ErrEmptyProjectID
	}
	cp := *p
	if linkedFixID != "" {
		cp.LinkedFixes = append(append([]string{}, p.LinkedFixes...), linkedFixID)
	}
	doc, err := json.Marshal(&cp)
	if err != nil {
		return "", fmt.Errorf("encoding principle: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO principles (id, session_id, project_id, category, success_rate, doc, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, sessionID, projectID, string(cp.Category), cp.Context.SuccessRate,
		string(doc), cp.CreatedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("inserting principle: %w", err)
	}

	if linkedFixID != "" {
		// Advisory back-link; a missing fix does not fail principle creation.
		if err := s.LinkPrinciple(ctx, sessionID, projectID, linkedFixID, p.ID); err != nil && !errors.Is(err, ErrFixNotFound) {
			return "", err
		}
	}
	return p.ID, nil
}

// GetPrinciplesByCategory returns admitted principles by success rate desc.
func (s *SQLiteStore) GetPrinciplesByCategory(ctx context.Context, sessionID, projectID string, filter CategoryFilter, limit int) ([]Principle, error) {
	query := `
		SELECT doc FROM principles
		WHERE session_id = ? AND project_id = ?`
	args := []any{sessionID, projectID}
	if c, ok := filter.Restricted(); ok {
		query += ` AND category = ?`
		args = append(args, string(c))
	}
	query += ` ORDER BY success_rate DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying principles: %w", err)
	}
	defer rows.Close()

	var out []Principle
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning principle: %w", err)
		}
		var p Principle
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, fmt.Errorf("decoding principle: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPrinciple loads one principle by id.
func (s *SQLiteStore) GetPrinciple(ctx context.Context, sessionID, projectID, principleID string) (*Principle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc FROM principles
		WHERE session_id = ? AND project_id = ? AND id = ?`,
		sessionID, projectID, principleID)

	var doc string
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPrincipleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning principle: %w", err)
	}
	var p Principle
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decoding principle: %w", err)
	}
	return &p, nil
}

// UpdatePrincipleSuccessRate overwrites the reinforcement state in both the
// indexed column and the document.
func (s *SQLiteStore) UpdatePrincipleSuccessRate(ctx context.Context, sessionID, projectID, principleID string, newRate float64, newCount int) error {
	if newRate < 0.0 || newRate > 1.0 {
		return ErrInvalidSuccessRate
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT doc FROM principles
		WHERE session_id = ? AND project_id = ? AND id = ?`,
		sessionID, projectID, principleID)

	var doc string
	err = row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPrincipleNotFound
	}
	if err != nil {
		return fmt.Errorf("scanning principle: %w", err)
	}

	var p Principle
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return fmt.Errorf("decoding principle: %w", err)
	}
	p.Context.SuccessRate = newRate
	p.Context.AppliedCount = newCount

	updated, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("encoding principle: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE principles SET success_rate = ?, doc = ? WHERE id = ?`,
		newRate, string(updated), principleID); err != nil {
		return fmt.Errorf("updating principle: %w", err)
	}
	return tx.Commit()
}

// mutateFix applies fn to the stored fix document inside a transaction.
func (s *SQLiteStore) mutateFix(ctx context.Context, sessionID, projectID, fixID string, fn func(*Fix)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT doc FROM fixes
		WHERE session_id = ? AND project_id = ? AND id = ?`,
		sessionID, projectID, fixID)

	var doc string
	err = row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrFixNotFound
	}
	if err != nil {
		return fmt.Errorf("scanning fix: %w", err)
	}

	var f Fix
	if err := json.Unmarshal([]byte(doc), &f); err != nil {
		return fmt.Errorf("decoding fix: %w", err)
	}
	fn(&f)

	updated, err := json.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding fix: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE fixes SET doc = ? WHERE id = ?`,
		string(updated), fixID); err != nil {
		return fmt.Errorf("updating fix: %w", err)
	}
	return tx.Commit()
}

// scanFixes decodes fix documents from a result set.
func scanFixes(rows *sql.Rows) ([]Fix, error) {
	var out []Fix
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning fix: %w", err)
		}
		var f Fix
		if err := json.Unmarshal([]byte(doc), &f); err != nil {
			return nil, fmt.Errorf("decoding fix: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// requireRow converts a zero-row update into the given sentinel error.
func requireRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}
