package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/bubblekit/backend/internal/conversation"
)

// ConversationRepository stores conversation lists in SQLite.
type ConversationRepository struct {
	db *sql.DB
}

// NewConversationRepository creates a new ConversationRepository.
func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// List retrieves the user's conversation list in stored order.
func (r *ConversationRepository) List(ctx context.Context, userID string) ([]conversation.Entry, error) {
	query := `
		SELECT id, title, updated_at, extra
		FROM conversations
		WHERE user_id = ?
		ORDER BY position ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	entries := []conversation.Entry{}
	for rows.Next() {
		var entry conversation.Entry
		var extraJSON sql.NullString

		if err := rows.Scan(&entry.ID, &entry.Title, &entry.UpdatedAt, &extraJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}

		if extraJSON.Valid && extraJSON.String != "" {
			if err := json.Unmarshal([]byte(extraJSON.String), &entry.Extra); err != nil {
				return nil, errors.Wrapf(err, "failed to parse extra fields of conversation %s", entry.ID)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating conversations")
	}

	return entries, nil
}

// Replace stores entries as the user's whole list in one transaction.
func (r *ConversationRepository) Replace(ctx context.Context, userID string, entries []conversation.Entry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "failed to clear conversations")
	}

	query := `
		INSERT INTO conversations (user_id, position, id, title, updated_at, extra)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for i, entry := range entries {
		var extra sql.NullString
		if len(entry.Extra) > 0 {
			data, err := json.Marshal(entry.Extra)
			if err != nil {
				return errors.Wrapf(err, "failed to serialize extra fields of conversation %s", entry.ID)
			}
			extra = sql.NullString{String: string(data), Valid: true}
		}

		if _, err := tx.ExecContext(ctx, query, userID, i, entry.ID, entry.Title, entry.UpdatedAt, extra); err != nil {
			return errors.Wrapf(err, "failed to insert conversation %s", entry.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit conversations")
	}
	return nil
}
