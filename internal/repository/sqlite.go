package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

// SQLiteStore persists records in a single SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and applies
// pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Writers serialize on the file lock anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close(context.Context) error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(migrationFS, "migrations/"+name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, toUnix(s.now())); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}
	return nil
}

// Times are stored as unix nanoseconds; 0 means unset.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ==================== Projects ====================

func (s *SQLiteStore) CreateProject(ctx context.Context, p *Project) error {
	newID(&p.ID)
	stamp(&p.CreatedAt, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, title, prompt, model, stt_engine, tts_engine, api_key, archived, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Prompt, p.Model, p.STTEngine, p.TTSEngine, p.APIKey, boolInt(p.Archived), toUnix(p.CreatedAt))
	if err != nil {
		return persistence("repository.CreateProject", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, prompt, model, stt_engine, tts_engine, api_key, archived, created_at
		FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.Prompt, &p.Model, &p.STTEngine, &p.TTSEngine, &p.APIKey, &p.Archived, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository.GetProject", "project", id)
	}
	if err != nil {
		return nil, persistence("repository.GetProject", err)
	}
	p.CreatedAt = fromUnix(created)
	return &p, nil
}

// ==================== Documents ====================

const documentColumns = `id, project_id, title, type, text, url, path, mime_type, status, error, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var d Document
	var created, updated int64
	err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Type, &d.Text, &d.URL, &d.Path, &d.MIMEType,
		&d.Status, &d.Error, &created, &updated)
	d.CreatedAt = fromUnix(created)
	d.UpdatedAt = fromUnix(updated)
	return d, err
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, d *Document) error {
	newID(&d.ID)
	now := s.now()
	stamp(&d.CreatedAt, now)
	stamp(&d.UpdatedAt, now)
	if d.Status == "" {
		d.Status = DocumentPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Title, d.Type, d.Text, d.URL, d.Path, d.MIMEType,
		d.Status, d.Error, toUnix(d.CreatedAt), toUnix(d.UpdatedAt))
	if err != nil {
		return persistence("repository.CreateDocument", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository.GetDocument", "document", id)
	}
	if err != nil {
		return nil, persistence("repository.GetDocument", err)
	}
	return &d, nil
}

func (s *SQLiteStore) queryDocuments(ctx context.Context, op, query string, args ...any) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, persistence(op, fmt.Errorf("scanning document: %w", err))
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	return s.queryDocuments(ctx, "repository.ListDocuments",
		`SELECT `+documentColumns+` FROM documents WHERE project_id = ? ORDER BY created_at, id`, projectID)
}

func (s *SQLiteStore) SetDocumentStatus(ctx context.Context, id string, status DocumentStatus, errMsg string) error {
	const op = "repository.SetDocumentStatus"
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, toUnix(s.now()), id)
	if err != nil {
		return persistence(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, "document", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	const op = "repository.DeleteDocument"
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return persistence(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(op, "document", id)
	}
	return nil
}

func (s *SQLiteStore) ListStaleDocuments(ctx context.Context, cutoff time.Time) ([]Document, error) {
	return s.queryDocuments(ctx, "repository.ListStaleDocuments",
		`SELECT `+documentColumns+` FROM documents WHERE status = ? AND updated_at < ? ORDER BY created_at, id`,
		DocumentUploading, toUnix(cutoff))
}

// ==================== Chats ====================

func (s *SQLiteStore) CreateChat(ctx context.Context, c *Chat) error {
	newID(&c.ID)
	stamp(&c.CreatedAt, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, project_id, user_id, title, archived, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.UserID, c.Title, boolInt(c.Archived), toUnix(c.CreatedAt))
	if err != nil {
		return persistence("repository.CreateChat", err)
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, user_id, title, archived, created_at FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.ProjectID, &c.UserID, &c.Title, &c.Archived, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository.GetChat", "chat", id)
	}
	if err != nil {
		return nil, persistence("repository.GetChat", err)
	}
	c.CreatedAt = fromUnix(created)
	return &c, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, projectID, userID string) ([]Chat, error) {
	const op = "repository.ListChats"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, title, archived, created_at FROM chats
		WHERE project_id = ? AND (? = '' OR user_id = ?) AND archived = 0
		ORDER BY created_at, id`, projectID, userID, userID)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		var created int64
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.UserID, &c.Title, &c.Archived, &created); err != nil {
			return nil, persistence(op, err)
		}
		c.CreatedAt = fromUnix(created)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

// ==================== Messages ====================

func (s *SQLiteStore) ReserveNonce(ctx context.Context, nonce string) error {
	const op = "repository.ReserveNonce"
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nonce_reservations (nonce, reserved_at)
		SELECT ?, ? WHERE NOT EXISTS (SELECT 1 FROM chat_messages WHERE nonce = ?)
		ON CONFLICT(nonce) DO NOTHING`, nonce, toUnix(s.now()), nonce)
	if err != nil {
		return persistence(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return duplicateNonce(op, nonce)
	}
	return nil
}

func (s *SQLiteStore) ReleaseNonce(ctx context.Context, nonce string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nonce_reservations WHERE nonce = ?`, nonce); err != nil {
		return persistence("repository.ReleaseNonce", err)
	}
	return nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, m *ChatMessage) error {
	return s.SaveTurn(ctx, []*ChatMessage{m}, "")
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, msgs []*ChatMessage, title string) error {
	const op = "repository.SaveTurn"
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence(op, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := s.now()
	for _, m := range msgs {
		if err := s.insertMessageTx(ctx, tx, op, m, now); err != nil {
			return err
		}
	}
	if title != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ? AND title = ''`,
			title, msgs[0].ChatID); err != nil {
			return persistence(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence(op, err)
	}
	return nil
}

func (s *SQLiteStore) insertMessageTx(ctx context.Context, tx *sql.Tx, op string, m *ChatMessage, now time.Time) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM chats WHERE id = ?`, m.ChatID).Scan(&exists); err != nil {
		return persistence(op, err)
	}
	if exists == 0 {
		return notFound(op, "chat", m.ChatID)
	}

	newID(&m.ID)
	stamp(&m.CreatedAt, now)
	refs, err := toJSON(m.References)
	if err != nil {
		return persistence(op, err)
	}
	stats, err := toJSON(m.Stats)
	if err != nil {
		return persistence(op, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, role, message, original_message, language, refs, audio,
			model, temperature, top_k, nonce, stats, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(nonce) DO NOTHING`,
		m.ID, m.ChatID, m.Role, m.Message, m.OriginalMessage, m.Language, refs, m.Audio,
		m.Model, m.Temperature, m.TopK, nullString(m.Nonce), stats, toUnix(m.CreatedAt))
	if err != nil {
		return persistence(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return duplicateNonce(op, m.Nonce)
	}

	if m.Nonce != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM nonce_reservations WHERE nonce = ?`, m.Nonce); err != nil {
			return persistence(op, err)
		}
	}
	return nil
}

const messageColumns = `id, chat_id, role, message, original_message, language, refs, audio,
	model, temperature, top_k, nonce, stats, created_at`

func scanMessage(row interface{ Scan(...any) error }) (ChatMessage, error) {
	var m ChatMessage
	var refs, stats string
	var nonce sql.NullString
	var created int64
	if err := row.Scan(&m.ID, &m.ChatID, &m.Role, &m.Message, &m.OriginalMessage, &m.Language, &refs, &m.Audio,
		&m.Model, &m.Temperature, &m.TopK, &nonce, &stats, &created); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(refs), &m.References); err != nil {
		return m, fmt.Errorf("decoding references: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &m.Stats); err != nil {
		return m, fmt.Errorf("decoding stats: %w", err)
	}
	m.Nonce = nonce.String
	m.CreatedAt = fromUnix(created)
	return m, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*ChatMessage, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository.GetMessage", "message", id)
	}
	if err != nil {
		return nil, persistence("repository.GetMessage", err)
	}
	return &m, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	const op = "repository.ListMessages"
	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE chat_id = ? ORDER BY seq`, chatID)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, persistence(op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateChatFeedback(ctx context.Context, f *ChatFeedback) error {
	const op = "repository.CreateChatFeedback"
	if _, err := s.GetMessage(ctx, f.MessageID); err != nil {
		return err
	}
	newID(&f.ID)
	stamp(&f.CreatedAt, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_feedback (id, message_id, user_id, liked, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.MessageID, f.UserID, boolInt(f.Liked), f.Message, toUnix(f.CreatedAt))
	if err != nil {
		return persistence(op, err)
	}
	return nil
}

// ==================== Evaluation ====================

func (s *SQLiteStore) CreateSuite(ctx context.Context, ts *TestSuite) error {
	newID(&ts.ID)
	stamp(&ts.CreatedAt, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO test_suites (id, name, temperature, top_k, created_at) VALUES (?, ?, ?, ?, ?)`,
		ts.ID, ts.Name, ts.Temperature, ts.TopK, toUnix(ts.CreatedAt))
	if err != nil {
		return persistence("repository.CreateSuite", err)
	}
	return nil
}

func (s *SQLiteStore) GetSuite(ctx context.Context, id string) (*TestSuite, error) {
	var ts TestSuite
	var created int64
	err := s.db.QueryRowContext(ctx, `SELECT id, name, temperature, top_k, created_at FROM test_suites WHERE id = ?`, id).
		Scan(&ts.ID, &ts.Name, &ts.Temperature, &ts.TopK, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository.GetSuite", "test suite", id)
	}
	if err != nil {
		return nil, persistence("repository.GetSuite", err)
	}
	ts.CreatedAt = fromUnix(created)
	return &ts, nil
}

func (s *SQLiteStore) AddQuestion(ctx context.Context, q *TestQuestion) error {
	const op = "repository.AddQuestion"
	if _, err := s.GetSuite(ctx, q.SuiteID); err != nil {
		return err
	}
	newID(&q.ID)
	stamp(&q.CreatedAt, s.now())
	docs, err := toJSON(q.DocumentIDs)
	if err != nil {
		return persistence(op, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_questions (id, suite_id, question, human_answer, language, document_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.SuiteID, q.Question, q.HumanAnswer, q.Language, docs, toUnix(q.CreatedAt))
	if err != nil {
		return persistence(op, err)
	}
	return nil
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, suiteID string) ([]TestQuestion, error) {
	const op = "repository.ListQuestions"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, suite_id, question, human_answer, language, document_ids, created_at
		FROM test_questions WHERE suite_id = ? ORDER BY seq`, suiteID)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var out []TestQuestion
	for rows.Next() {
		var q TestQuestion
		var docs string
		var created int64
		if err := rows.Scan(&q.ID, &q.SuiteID, &q.Question, &q.HumanAnswer, &q.Language, &docs, &created); err != nil {
			return nil, persistence(op, err)
		}
		if err := json.Unmarshal([]byte(docs), &q.DocumentIDs); err != nil {
			return nil, persistence(op, fmt.Errorf("decoding document ids: %w", err))
		}
		q.CreatedAt = fromUnix(created)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

const runColumns = `id, suite_id, project_id, status, refs, model, error, created_at, updated_at`

func scanRun(row interface{ Scan(...any) error }) (TestRun, error) {
	var r TestRun
	var created, updated int64
	err := row.Scan(&r.ID, &r.SuiteID, &r.ProjectID, &r.Status, &r.References, &r.Model, &r.Error, &created, &updated)
	r.CreatedAt = fromUnix(created)
	r.UpdatedAt = fromUnix(updated)
	return r, err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, r *TestRun) error {
	newID(&r.ID)
	now := s.now()
	stamp(&r.CreatedAt, now)
	stamp(&r.UpdatedAt, now)
	if r.Status == "" {
		r.Status = RunRunning
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO test_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SuiteID, r.ProjectID, r.Status, boolInt(r.References), r.Model, r.Error,
		toUnix(r.CreatedAt), toUnix(r.UpdatedAt))
	if err != nil {
		return persistence("repository.CreateRun", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*TestRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM test_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository.GetRun", "test run", id)
	}
	if err != nil {
		return nil, persistence("repository.GetRun", err)
	}
	return &r, nil
}

func (s *SQLiteStore) TransitionRun(ctx context.Context, id string, to RunStatus, errMsg string) error {
	const op = "repository.TransitionRun"
	if err := validateTransition(op, to); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE test_runs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, errMsg, toUnix(s.now()), id, RunRunning)
	if err != nil {
		return persistence(op, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return invalidTransition(op, current.Status, to)
}

func (s *SQLiteStore) ListStaleRuns(ctx context.Context, cutoff time.Time) ([]TestRun, error) {
	const op = "repository.ListStaleRuns"
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM test_runs
		WHERE status = ? AND created_at < ? ORDER BY created_at, id`, RunRunning, toUnix(cutoff))
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var out []TestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, persistence(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateResult(ctx context.Context, r *TestResult) error {
	const op = "repository.CreateResult"
	if _, err := s.GetRun(ctx, r.RunID); err != nil {
		return err
	}
	newID(&r.ID)
	stamp(&r.CreatedAt, s.now())
	refs, err := toJSON(r.References)
	if err != nil {
		return persistence(op, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO test_results (id, run_id, question_id, question, human_answer, answer, cosine_sim,
			bleu_score, refs, model, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.QuestionID, r.Question, r.HumanAnswer, r.Answer, r.CosineSim,
		r.BLEUScore, refs, r.Model, r.Error, toUnix(r.CreatedAt))
	if err != nil {
		return persistence(op, err)
	}
	return nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]TestResult, error) {
	const op = "repository.ListResults"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, question_id, question, human_answer, answer, cosine_sim, bleu_score, refs,
			model, error, created_at
		FROM test_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, persistence(op, err)
	}
	defer rows.Close()

	var out []TestResult
	for rows.Next() {
		var r TestResult
		var refs string
		var created int64
		if err := rows.Scan(&r.ID, &r.RunID, &r.QuestionID, &r.Question, &r.HumanAnswer, &r.Answer,
			&r.CosineSim, &r.BLEUScore, &refs, &r.Model, &r.Error, &created); err != nil {
			return nil, persistence(op, err)
		}
		if err := json.Unmarshal([]byte(refs), &r.References); err != nil {
			return nil, persistence(op, fmt.Errorf("decoding references: %w", err))
		}
		r.CreatedAt = fromUnix(created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(op, err)
	}
	return out, nil
}

func (s *SQLiteStore) CreateFeedback(ctx context.Context, f *Feedback) error {
	newID(&f.ID)
	stamp(&f.CreatedAt, s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO result_feedback (id, result_id, user_id, rating, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.ResultID, f.UserID, f.Rating, f.Notes, toUnix(f.CreatedAt))
	if err != nil {
		return persistence("repository.CreateFeedback", err)
	}
	return nil
}
