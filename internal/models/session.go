package models

import "time"

// Message roles within an audio session.
const (
	MessageRoleUser      = "USER"
	MessageRoleAssistant = "ASSISTANT"
)

// AudioSession is one voice conversation: a thread of alternating user and
// assistant audio turns.
type AudioSession struct {
	ID        string         `json:"id"`
	UserID    int64          `json:"userId"`
	ThreadID  string         `json:"threadId"`
	CreatedAt time.Time      `json:"createdAt"`
	Messages  []AudioMessage `json:"messages,omitempty"`
}

// AudioMessage is a single turn inside a session.
type AudioMessage struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Role       string    `json:"role"`
	AudioURL   string    `json:"audioUrl,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
