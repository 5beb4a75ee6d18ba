package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/careloop/intake/internal/domain"
)

// SQLiteStore implements Store on SQLite. History, counters and the
// phase->conversation-id map are stored as JSON columns; a side table keyed
// by external conversation id makes resolution a single indexed lookup.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection so the schema survives across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			counts TEXT NOT NULL,
			history TEXT NOT NULL,
			current_report TEXT NOT NULL DEFAULT '',
			diagnoses TEXT,
			final_report TEXT NOT NULL DEFAULT '',
			conversation_ids TEXT NOT NULL,
			transition_key TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_ids (
			external_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_ids_session ON conversation_ids(session_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, session *domain.Session) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, session.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("session %s already exists", session.ID)
		}
		return s.insertTx(ctx, tx, session)
	})
}

func (s *SQLiteStore) Resolve(ctx context.Context, id string) (*domain.Session, error) {
	var session *domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		got, err := s.resolveTx(ctx, tx, id)
		if err != nil {
			return err
		}
		session = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, upd SessionUpdate) error {
	return s.mutate(ctx, id, func(session *domain.Session) {
		applyUpdate(session, upd, s.now())
	})
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, id string, speaker domain.Speaker, text string) error {
	return s.mutate(ctx, id, func(session *domain.Session) {
		now := s.now()
		session.History = append(session.History, domain.Turn{Speaker: speaker, Text: text, At: now})
		session.UpdatedAt = now
	})
}

func (s *SQLiteStore) IncrementCount(ctx context.Context, id string, phase domain.Phase) error {
	return s.mutate(ctx, id, func(session *domain.Session) {
		if session.Counts.PerPhase == nil {
			session.Counts.PerPhase = make(map[domain.Phase]int)
		}
		session.Counts.PerPhase[phase]++
		session.Counts.Total++
		session.UpdatedAt = s.now()
	})
}

func (s *SQLiteStore) Replace(ctx context.Context, session *domain.Session) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := s.resolveTx(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if err := checkReplacePhase(existing, session); err != nil {
			return err
		}
		cp := session.Clone()
		cp.UpdatedAt = s.now()
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, cp.ID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return s.insertTx(ctx, tx, cp)
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mutate runs a read-modify-write cycle on one session inside a transaction.
func (s *SQLiteStore) mutate(ctx context.Context, id string, fn func(*domain.Session)) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		session, err := s.resolveTx(ctx, tx, id)
		if err != nil {
			return err
		}
		fn(session)
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, session.ID); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return s.insertTx(ctx, tx, session)
	})
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insertTx(ctx context.Context, tx *sql.Tx, session *domain.Session) error {
	counts, err := json.Marshal(session.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}
	history, err := json.Marshal(session.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	convIDs, err := json.Marshal(session.ConversationIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation ids: %w", err)
	}

	var diagnoses any
	if session.Diagnoses != nil {
		diagnoses = string(session.Diagnoses)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO sessions
		(id, patient_id, phase, counts, history, current_report, diagnoses, final_report, conversation_ids, transition_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.PatientID, string(session.Phase), string(counts), string(history),
		session.CurrentReport, diagnoses, session.FinalReport, string(convIDs),
		session.TransitionKey, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	for _, ext := range session.ConversationIDs {
		_, err = tx.ExecContext(ctx, `INSERT INTO conversation_ids (external_id, session_id)
			VALUES (?, ?)
			ON CONFLICT(external_id) DO UPDATE SET session_id = excluded.session_id`,
			ext, session.ID)
		if err != nil {
			return fmt.Errorf("failed to index conversation id: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) resolveTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Session, error) {
	session, err := s.getTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	var primary string
	err = tx.QueryRowContext(ctx, `SELECT session_id FROM conversation_ids WHERE external_id = ?`, id).Scan(&primary)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conversation id: %w", err)
	}

	session, err = s.getTx(ctx, tx, primary)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return session, nil
}

func (s *SQLiteStore) getTx(ctx context.Context, tx *sql.Tx, id string) (*domain.Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, patient_id, phase, counts, history, current_report, diagnoses, final_report, conversation_ids, transition_key, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var (
		session   domain.Session
		phase     string
		counts    string
		history   string
		diagnoses sql.NullString
		convIDs   string
	)
	err := row.Scan(&session.ID, &session.PatientID, &phase, &counts, &history,
		&session.CurrentReport, &diagnoses, &session.FinalReport, &convIDs,
		&session.TransitionKey, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.Phase = domain.Phase(phase)
	if err := json.Unmarshal([]byte(counts), &session.Counts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal counts: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &session.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if err := json.Unmarshal([]byte(convIDs), &session.ConversationIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation ids: %w", err)
	}
	if diagnoses.Valid {
		session.Diagnoses = json.RawMessage(diagnoses.String)
	}
	return &session, nil
}
