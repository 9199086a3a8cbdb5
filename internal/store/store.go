package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pavelanni/interviewer/internal/catalog"
	"github.com/pavelanni/interviewer/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		role TEXT NOT NULL,
		type TEXT NOT NULL,
		question TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_questions_position ON questions(position);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		question_count INTEGER NOT NULL DEFAULT 0,
		imported_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const questionColumns = `id, role, type, question`

func scanQuestions(rows *sql.Rows) ([]model.Question, error) {
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Role, &q.Type, &q.Question); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// InsertQuestion appends a question at the end of the catalog order.
func (s *Store) InsertQuestion(q model.Question) error {
	_, err := s.db.Exec(
		`INSERT INTO questions (id, position, role, type, question)
		 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM questions), ?, ?, ?)`,
		q.ID, q.Role, q.Type, q.Question,
	)
	return err
}

// ImportQuestions appends questions from one source file in a single
// transaction and records the file's content hash.
func (s *Store) ImportQuestions(source, hash string, questions []model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(position), 0) FROM questions`).Scan(&next); err != nil {
		return err
	}
	for _, q := range questions {
		next++
		_, err := tx.Exec(
			`INSERT INTO questions (id, position, role, type, question, source) VALUES (?, ?, ?, ?, ?, ?)`,
			q.ID, next, q.Role, q.Type, q.Question, source,
		)
		if err != nil {
			return fmt.Errorf("insert question %q: %w", q.ID, err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO imported_files (path, hash, question_count) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, question_count = excluded.question_count,
		 imported_at = CURRENT_TIMESTAMP`,
		source, hash, len(questions),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListQuestions returns all questions in catalog order.
func (s *Store) ListQuestions() ([]model.Question, error) {
	rows, err := s.db.Query(`SELECT ` + questionColumns + ` FROM questions ORDER BY position`)
	if err != nil {
		return nil, err
	}
	return scanQuestions(rows)
}

// ListQuestionsFiltered returns questions matching the role/type filters in
// catalog order. model.AnyRole and model.AllTypes disable the respective
// filter; questions whose role is model.AnyRole match every role.
func (s *Store) ListQuestionsFiltered(role, typ string) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE 1=1`
	var args []any
	if role != model.AnyRole {
		query += ` AND (role = ? OR role = ?)`
		args = append(args, role, model.AnyRole)
	}
	if typ != model.AllTypes {
		query += ` AND type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY position`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanQuestions(rows)
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id string) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRow(
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.Role, &q.Type, &q.Question)
	return q, err
}

// QuestionCount returns the number of stored questions.
func (s *Store) QuestionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&n)
	return n, err
}

// Catalog loads every stored question into an in-memory catalog.
func (s *Store) Catalog() (*catalog.Catalog, error) {
	qs, err := s.ListQuestions()
	if err != nil {
		return nil, err
	}
	return catalog.New(qs)
}

// GetImportedFileHash returns the content hash recorded for path.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}
