package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"voicechat/internal/clients"
	"voicechat/internal/models"
	"voicechat/internal/redisstore"
	"voicechat/internal/ws"
)

// ErrMissingAudio rejects a relay request without an audio payload.
var ErrMissingAudio = errors.New("relay: audio payload is required")

// InsufficientCreditsError refuses a relay before any processing when the
// caller's balance cannot cover the cost of one exchange.
type InsufficientCreditsError struct {
	Balance int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("relay: insufficient credits: %d", e.Balance)
}

const (
	// RelayCost is debited from the caller per successful exchange.
	RelayCost = 1

	relayDebitDescription = "Voice chat usage"

	inboundFolder = "chat_audio"
	agentFolder   = "chat_audio_agent"

	defaultAudioFormat = "audio/webm"
)

// Uploader stores a binary payload and returns its secure URL.
type Uploader interface {
	Upload(ctx context.Context, input clients.UploadInput) (string, error)
}

// AudioProcessor sends an exchange to the external webhook and returns the
// normalized result.
type AudioProcessor interface {
	Process(ctx context.Context, payload clients.WebhookRequest) (*clients.WebhookResult, error)
}

// SessionsRepo persists conversations and their turns.
type SessionsRepo interface {
	CreateSession(ctx context.Context, session *models.AudioSession) error
	CreateMessage(ctx context.Context, msg *models.AudioMessage) error
	UpdateMessageTranscript(ctx context.Context, messageID, transcript string) error
	MessagesBySession(ctx context.Context, sessionID string) ([]models.AudioMessage, error)
	SessionsByUser(ctx context.Context, userID int64, limit, messagesPerSession int) ([]models.AudioSession, error)
}

// ConversationCache remembers which conversation a user's next call should
// continue. Optional: a nil cache means every call starts a fresh session.
type ConversationCache interface {
	Get(ctx context.Context, userID int64) (*redisstore.ActiveConversation, error)
	Save(ctx context.Context, userID int64, conv redisstore.ActiveConversation) error
}

// Ledger is the slice of the credits service the relay needs.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (*Statement, error)
	Debit(ctx context.Context, userID, amount int64, description string) (*LedgerUpdate, error)
}

// EventPublisher pushes relay progress to the user's browser. Optional.
type EventPublisher interface {
	Publish(userID int64, stage, detail string)
}

// RelayInput is one uploaded recording.
type RelayInput struct {
	Audio  []byte
	Format string
}

// RelayOutput is the normalized success payload.
type RelayOutput struct {
	Success        bool   `json:"success"`
	AgentAudioURL  string `json:"agentAudioUrl"`
	Transcript     string `json:"transcript"`
	UserTranscript string `json:"userTranscript"`
	SessionID      string `json:"sessionId"`
	ThreadID       string `json:"threadId"`
}

// RelayService moves one recorded audio turn from the caller to the external
// processor and back: store the inbound audio, dispatch to the webhook,
// normalize the answer, persist both turns and debit usage. Each request is a
// single sequential chain; every failure is terminal, nothing is retried.
type RelayService struct {
	uploader  Uploader
	processor AudioProcessor
	sessions  SessionsRepo
	cache     ConversationCache
	ledger    Ledger
	events    EventPublisher
	logger    *zap.Logger

	now func() time.Time
}

// NewRelayService builds RelayService. cache and events may be nil.
func NewRelayService(
	uploader Uploader,
	processor AudioProcessor,
	sessions SessionsRepo,
	cache ConversationCache,
	ledger Ledger,
	events EventPublisher,
	logger *zap.Logger,
) *RelayService {
	return &RelayService{
		uploader:  uploader,
		processor: processor,
		sessions:  sessions,
		cache:     cache,
		ledger:    ledger,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// Relay performs one full exchange for the user.
func (s *RelayService) Relay(ctx context.Context, userID int64, input RelayInput) (*RelayOutput, error) {
	if len(input.Audio) == 0 {
		return nil, ErrMissingAudio
	}
	format := input.Format
	if format == "" {
		format = defaultAudioFormat
	}

	s.publish(userID, ws.StageReceived, "")

	stmt, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if stmt.Balance < RelayCost {
		s.publish(userID, ws.StageFailed, "insufficient credits")
		return nil, &InsufficientCreditsError{Balance: stmt.Balance}
	}

	userAudioURL, err := s.uploader.Upload(ctx, clients.UploadInput{
		Folder:   inboundFolder,
		PublicID: fmt.Sprintf("audio-%d-%d", userID, s.now().UnixMilli()),
		Format:   formatExtension(format),
		Data:     input.Audio,
	})
	if err != nil {
		s.publish(userID, ws.StageFailed, "upload failed")
		return nil, err
	}
	s.publish(userID, ws.StageStored, userAudioURL)

	session, err := s.resolveConversation(ctx, userID)
	if err != nil {
		return nil, err
	}

	userMsg := &models.AudioMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.MessageRoleUser,
		AudioURL:  userAudioURL,
	}
	if err := s.sessions.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("relay: persist user message: %w", err)
	}

	s.publish(userID, ws.StageDispatched, "")
	result, err := s.processor.Process(ctx, clients.WebhookRequest{
		AudioURL:    userAudioURL,
		UserID:      userID,
		SessionID:   session.ID,
		ThreadID:    session.ThreadID,
		AudioFormat: format,
	})
	if err != nil {
		s.publish(userID, ws.StageFailed, "processing failed")
		return nil, err
	}

	// A binary answer is stored as-is, whatever the body length. The content
	// type alone marks the response as audio.
	agentAudioURL := result.AgentAudioURL
	if agentAudioURL == "" && result.RawContentType != "" {
		agentAudioURL, err = s.uploader.Upload(ctx, clients.UploadInput{
			Folder:   agentFolder,
			PublicID: fmt.Sprintf("agent-audio-%d-%d", userID, s.now().UnixMilli()),
			Format:   agentFormat(result.RawContentType),
			Data:     result.RawAudio,
		})
		if err != nil {
			s.publish(userID, ws.StageFailed, "agent audio upload failed")
			return nil, err
		}
	}

	agentTranscript := result.AgentTranscript
	if agentTranscript == "" {
		agentTranscript = result.Transcript
	}

	agentMsg := &models.AudioMessage{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Role:       models.MessageRoleAssistant,
		AudioURL:   agentAudioURL,
		Transcript: agentTranscript,
	}
	if err := s.sessions.CreateMessage(ctx, agentMsg); err != nil {
		return nil, fmt.Errorf("relay: persist agent message: %w", err)
	}

	// Transcript backfill is non-critical: the exchange already succeeded.
	if result.Transcript != "" {
		if err := s.sessions.UpdateMessageTranscript(ctx, userMsg.ID, result.Transcript); err != nil {
			s.logger.Warn("failed to update user transcript",
				zap.String("message_id", userMsg.ID),
				zap.Error(err),
			)
		}
	}

	// The pre-check already vouched for the balance; losing the debit race
	// after the exchange completed is logged, never surfaced.
	if _, err := s.ledger.Debit(ctx, userID, RelayCost, relayDebitDescription); err != nil {
		s.logger.Warn("failed to debit relay usage",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)
	}

	s.publish(userID, ws.StageDone, "")
	s.logger.Info("audio exchange completed",
		zap.Int64("user_id", userID),
		zap.String("session_id", session.ID),
		zap.Bool("had_transcript", result.Transcript != ""),
	)

	return &RelayOutput{
		Success:        true,
		AgentAudioURL:  agentAudioURL,
		Transcript:     agentTranscript,
		UserTranscript: result.Transcript,
		SessionID:      session.ID,
		ThreadID:       session.ThreadID,
	}, nil
}

// MessagesBySession returns one session's turns, oldest first.
func (s *RelayService) MessagesBySession(ctx context.Context, sessionID string) ([]models.AudioMessage, error) {
	return s.sessions.MessagesBySession(ctx, sessionID)
}

// RecentSessions returns the user's 20 most recent sessions, each with up to
// 10 messages.
func (s *RelayService) RecentSessions(ctx context.Context, userID int64) ([]models.AudioSession, error) {
	return s.sessions.SessionsByUser(ctx, userID, 20, 10)
}

// resolveConversation continues the cached conversation when one is active,
// otherwise starts a new session. Cache errors degrade to a fresh session.
func (s *RelayService) resolveConversation(ctx context.Context, userID int64) (*models.AudioSession, error) {
	if s.cache != nil {
		conv, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("conversation cache read failed", zap.Error(err))
		} else if conv != nil {
			return &models.AudioSession{
				ID:       conv.SessionID,
				UserID:   userID,
				ThreadID: conv.ThreadID,
			}, nil
		}
	}

	session := &models.AudioSession{
		ID:       uuid.NewString(),
		UserID:   userID,
		ThreadID: uuid.NewString(),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("relay: create session: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Save(ctx, userID, redisstore.ActiveConversation{
			SessionID: session.ID,
			ThreadID:  session.ThreadID,
		}); err != nil {
			s.logger.Warn("conversation cache write failed", zap.Error(err))
		}
	}
	return session, nil
}

func (s *RelayService) publish(userID int64, stage, detail string) {
	if s.events != nil {
		s.events.Publish(userID, stage, detail)
	}
}

// formatExtension maps a MIME type to the storage format parameter.
func formatExtension(mime string) string {
	switch {
	case strings.Contains(mime, "mp3") || strings.Contains(mime, "mpeg"):
		return "mp3"
	case strings.Contains(mime, "ogg"):
		return "ogg"
	case strings.Contains(mime, "wav"):
		return "wav"
	default:
		return "webm"
	}
}

func agentFormat(contentType string) string {
	if strings.Contains(contentType, "mp3") || strings.Contains(contentType, "mpeg") {
		return "mp3"
	}
	return "webm"
}
