package threads

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"github.com/vendora-assistant-go/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// pq unique_violation
const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(cfg config.PostgresConfig, logger *logrus.Logger) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &PostgresStore{db: db, logger: logger}
	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

// GetOrCreate returns the active thread for the key, creating it when
// absent. A concurrent creation for the same key is serialized by the
// partial unique index: the loser re-reads the winner's row.
func (s *PostgresStore) GetOrCreate(ctx context.Context, ownerID string, counterpart *models.Counterpart, channel models.Channel) (*models.Thread, error) {
	kind, cpID := keyParts(counterpart)

	thread, err := s.findActive(ctx, ownerID, kind, cpID)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, ErrThreadNotFound) {
		return nil, err
	}

	thread, err = s.insertThread(ctx, s.db, ownerID, kind, cpID, channel, titleFor(counterpart))
	if err == nil {
		return thread, nil
	}
	if errors.Is(err, ErrDuplicateActiveThread) {
		// Lost the creation race; the winner's thread is the thread.
		return s.findActive(ctx, ownerID, kind, cpID)
	}
	return nil, err
}

// SaveMessage appends one message to the thread.
func (s *PostgresStore) SaveMessage(ctx context.Context, threadID string, role models.Role, content string, toolCalls []models.ToolInvocation) error {
	callsJSON, err := marshalToolCalls(toolCalls)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (thread_id, role, content, tool_calls)
		VALUES ($1, $2, $3, $4)`,
		threadID, role, content, callsJSON)
	if err != nil {
		return fmt.Errorf("error saving message: %w", err)
	}
	return nil
}

// SaveTurn appends the requester and assistant messages in one
// transaction so no reader ever observes half a turn.
func (s *PostgresStore) SaveTurn(ctx context.Context, threadID, requesterText, assistantText string, toolCalls []models.ToolInvocation) error {
	callsJSON, err := marshalToolCalls(toolCalls)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting turn transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, role, content, tool_calls)
		VALUES ($1, $2, $3, '[]')`,
		threadID, models.RoleRequester, requesterText); err != nil {
		return fmt.Errorf("error saving requester message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, role, content, tool_calls)
		VALUES ($1, $2, $3, $4)`,
		threadID, models.RoleAssistant, assistantText, callsJSON); err != nil {
		return fmt.Errorf("error saving assistant message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET updated_at = now() WHERE id = $1`, threadID); err != nil {
		return fmt.Errorf("error touching thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing turn: %w", err)
	}
	return nil
}

// History returns the most recent messages in chronological order with
// roles mapped to the LLM vocabulary.
func (s *PostgresStore) History(ctx context.Context, threadID string, limit int) ([]models.ChatMessage, error) {
	query := `
		SELECT role, content FROM (
			SELECT role, content, created_at, id
			FROM messages
			WHERE thread_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) tail
		ORDER BY created_at ASC, id ASC`

	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, query, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %w", err)
	}
	defer rows.Close()

	var history []models.ChatMessage
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		history = append(history, models.ChatMessage{Role: wireRole(models.Role(role)), Content: content})
	}
	return history, rows.Err()
}

// NewConversation deactivates the current thread for the key and creates
// a fresh one in the same transaction. Retries are idempotent: if a
// racing call already created the replacement, its thread is returned.
func (s *PostgresStore) NewConversation(ctx context.Context, ownerID string, counterpart *models.Counterpart, channel models.Channel) (*models.Thread, error) {
	kind, cpID := keyParts(counterpart)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting conversation transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET active = FALSE, updated_at = now()
		WHERE owner_id = $1 AND counterpart_kind = $2 AND counterpart_id = $3 AND active`,
		ownerID, kind, cpID); err != nil {
		return nil, fmt.Errorf("error deactivating thread: %w", err)
	}

	thread, err := s.insertThread(ctx, tx, ownerID, kind, cpID, channel, titleFor(counterpart))
	if err != nil {
		if errors.Is(err, ErrDuplicateActiveThread) {
			// A concurrent NewConversation won; adopt its thread.
			return s.findActive(ctx, ownerID, kind, cpID)
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing new conversation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"owner_id":  ownerID,
		"thread_id": thread.ID,
	}).Info("Started new conversation")

	return thread, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *PostgresStore) insertThread(ctx context.Context, db execer, ownerID string, kind models.CounterpartKind, cpID string, channel models.Channel, title string) (*models.Thread, error) {
	thread := &models.Thread{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		CounterpartKind: kind,
		CounterpartID:   cpID,
		Channel:         channel,
		Title:           title,
		Active:          true,
	}

	err := db.QueryRowContext(ctx, `
		INSERT INTO threads (id, owner_id, counterpart_kind, counterpart_id, channel, title)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		thread.ID, ownerID, kind, cpID, channel, title,
	).Scan(&thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicateActiveThread
		}
		return nil, fmt.Errorf("error creating thread: %w", err)
	}
	return thread, nil
}

func (s *PostgresStore) findActive(ctx context.Context, ownerID string, kind models.CounterpartKind, cpID string) (*models.Thread, error) {
	thread := &models.Thread{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, counterpart_kind, counterpart_id, channel, title, active, created_at, updated_at
		FROM threads
		WHERE owner_id = $1 AND counterpart_kind = $2 AND counterpart_id = $3 AND active`,
		ownerID, kind, cpID,
	).Scan(&thread.ID, &thread.OwnerID, &thread.CounterpartKind, &thread.CounterpartID,
		&thread.Channel, &thread.Title, &thread.Active, &thread.CreatedAt, &thread.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying active thread: %w", err)
	}
	return thread, nil
}

func marshalToolCalls(toolCalls []models.ToolInvocation) ([]byte, error) {
	if len(toolCalls) == 0 {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(toolCalls)
	if err != nil {
		return nil, fmt.Errorf("error encoding tool calls: %w", err)
	}
	return data, nil
}

// wireRole maps the storage role to what LLM-facing consumers expect.
func wireRole(role models.Role) string {
	if role == models.RoleRequester {
		return "user"
	}
	return "assistant"
}
