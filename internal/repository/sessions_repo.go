package repository

import (
	"context"
	"database/sql"

	"voicechat/internal/models"
)

// SessionsRepository persists audio sessions and their messages.
type SessionsRepository struct {
	db *sql.DB
}

// NewSessionsRepository returns repository instance.
func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

// CreateSession inserts a new conversation thread.
func (r *SessionsRepository) CreateSession(ctx context.Context, session *models.AudioSession) error {
	const query = `
		INSERT INTO audio_sessions (id, user_id, thread_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	return r.db.QueryRowContext(ctx, query, session.ID, session.UserID, session.ThreadID).
		Scan(&session.CreatedAt)
}

// CreateMessage appends one turn to a session.
func (r *SessionsRepository) CreateMessage(ctx context.Context, msg *models.AudioMessage) error {
	const query = `
		INSERT INTO audio_messages (id, session_id, role, audio_url, transcript)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	return r.db.QueryRowContext(ctx, query, msg.ID, msg.SessionID, msg.Role, msg.AudioURL, msg.Transcript).
		Scan(&msg.CreatedAt)
}

// UpdateMessageTranscript sets the transcript of an existing message.
func (r *SessionsRepository) UpdateMessageTranscript(ctx context.Context, messageID, transcript string) error {
	const query = `
		UPDATE audio_messages
		SET transcript = $2
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, messageID, transcript)
	return err
}

// MessagesBySession returns all messages of one session, oldest first.
func (r *SessionsRepository) MessagesBySession(ctx context.Context, sessionID string) ([]models.AudioMessage, error) {
	const query = `
		SELECT id, session_id, role, audio_url, transcript, created_at
		FROM audio_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SessionsByUser returns the user's most recent sessions (newest first), each
// carrying up to messagesPerSession of its earliest messages.
func (r *SessionsRepository) SessionsByUser(ctx context.Context, userID int64, limit, messagesPerSession int) ([]models.AudioSession, error) {
	if limit <= 0 {
		limit = 20
	}
	if messagesPerSession <= 0 {
		messagesPerSession = 10
	}

	const query = `
		SELECT id, user_id, thread_id, created_at
		FROM audio_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []models.AudioSession{}
	for rows.Next() {
		var s models.AudioSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.ThreadID, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const msgQuery = `
		SELECT id, session_id, role, audio_url, transcript, created_at
		FROM audio_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	for i := range sessions {
		msgRows, err := r.db.QueryContext(ctx, msgQuery, sessions[i].ID, messagesPerSession)
		if err != nil {
			return nil, err
		}
		msgs, err := scanMessages(msgRows)
		msgRows.Close()
		if err != nil {
			return nil, err
		}
		sessions[i].Messages = msgs
	}
	return sessions, nil
}

func scanMessages(rows *sql.Rows) ([]models.AudioMessage, error) {
	msgs := []models.AudioMessage{}
	for rows.Next() {
		var m models.AudioMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.AudioURL, &m.Transcript, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
