package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"voicechat/internal/clients"
	"voicechat/internal/models"
	"voicechat/internal/redisstore"
)

type fakeUploader struct {
	mu     sync.Mutex
	calls  []clients.UploadInput
	err    error
	failAt int // 1-based call index that fails; 0 = use err for all
}

func (f *fakeUploader) Upload(_ context.Context, input clients.UploadInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, input)
	if f.err != nil && (f.failAt == 0 || f.failAt == len(f.calls)) {
		return "", f.err
	}
	return fmt.Sprintf("https://cdn.example/%s/%s.%s", input.Folder, input.PublicID, input.Format), nil
}

type fakeProcessor struct {
	result *clients.WebhookResult
	err    error
	got    clients.WebhookRequest
}

func (f *fakeProcessor) Process(_ context.Context, payload clients.WebhookRequest) (*clients.WebhookResult, error) {
	f.got = payload
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSessionsRepo struct {
	sessions          []*models.AudioSession
	messages          []*models.AudioMessage
	transcriptUpdates map[string]string
	transcriptErr     error
}

func newFakeSessionsRepo() *fakeSessionsRepo {
	return &fakeSessionsRepo{transcriptUpdates: make(map[string]string)}
}

func (f *fakeSessionsRepo) CreateSession(_ context.Context, session *models.AudioSession) error {
	f.sessions = append(f.sessions, session)
	return nil
}

func (f *fakeSessionsRepo) CreateMessage(_ context.Context, msg *models.AudioMessage) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSessionsRepo) UpdateMessageTranscript(_ context.Context, messageID, transcript string) error {
	if f.transcriptErr != nil {
		return f.transcriptErr
	}
	f.transcriptUpdates[messageID] = transcript
	return nil
}

func (f *fakeSessionsRepo) MessagesBySession(_ context.Context, sessionID string) ([]models.AudioMessage, error) {
	out := []models.AudioMessage{}
	for _, msg := range f.messages {
		if msg.SessionID == sessionID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (f *fakeSessionsRepo) SessionsByUser(_ context.Context, userID int64, limit, _ int) ([]models.AudioSession, error) {
	out := []models.AudioSession{}
	for _, s := range f.sessions {
		if s.UserID == userID && len(out) < limit {
			out = append(out, *s)
		}
	}
	return out, nil
}

type fakeConversationCache struct {
	conv  *redisstore.ActiveConversation
	saved []redisstore.ActiveConversation
}

func (f *fakeConversationCache) Get(_ context.Context, _ int64) (*redisstore.ActiveConversation, error) {
	return f.conv, nil
}

func (f *fakeConversationCache) Save(_ context.Context, _ int64, conv redisstore.ActiveConversation) error {
	f.saved = append(f.saved, conv)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	stages []string
}

func (f *fakeEvents) Publish(_ int64, stage, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
}

type relayFixture struct {
	uploader  *fakeUploader
	processor *fakeProcessor
	sessions  *fakeSessionsRepo
	cache     *fakeConversationCache
	ledger    *fakeLedgerRepo
	events    *fakeEvents
	svc       *RelayService
}

func newRelayFixture(t *testing.T, result *clients.WebhookResult, balance int64) *relayFixture {
	t.Helper()

	fx := &relayFixture{
		uploader:  &fakeUploader{},
		processor: &fakeProcessor{result: result},
		sessions:  newFakeSessionsRepo(),
		cache:     &fakeConversationCache{},
		ledger:    newFakeLedgerRepo(),
		events:    &fakeEvents{},
	}

	credits := newCreditsService(fx.ledger)
	if balance > 0 {
		if _, err := credits.Credit(context.Background(), 1, balance, ""); err != nil {
			t.Fatalf("seed credits: %v", err)
		}
	} else {
		if _, err := credits.GetBalance(context.Background(), 1); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}

	fx.svc = NewRelayService(fx.uploader, fx.processor, fx.sessions, fx.cache, credits, fx.events, zap.NewNop())
	return fx
}

func TestRelayRejectsEmptyAudio(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{AgentAudioURL: "https://x/a.mp3"}, 5)

	if _, err := fx.svc.Relay(context.Background(), 1, RelayInput{}); !errors.Is(err, ErrMissingAudio) {
		t.Fatalf("expected ErrMissingAudio, got %v", err)
	}
}

func TestRelayRefusesWithoutCredits(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{AgentAudioURL: "https://x/a.mp3"}, 0)

	_, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Balance != 0 {
		t.Fatalf("expected reported balance 0, got %d", insufficient.Balance)
	}
	if len(fx.uploader.calls) != 0 {
		t.Fatal("nothing should be uploaded when credits are missing")
	}
}

func TestRelayJSONResponse(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{
		AgentAudioURL: "https://x/a.mp3",
		Transcript:    "hi",
	}, 5)

	out, err := fx.svc.Relay(context.Background(), 1, RelayInput{
		Audio:  []byte("blob"),
		Format: "audio/webm",
	})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}

	if !out.Success {
		t.Fatal("expected success payload")
	}
	if out.AgentAudioURL != "https://x/a.mp3" {
		t.Fatalf("unexpected agent audio url %q", out.AgentAudioURL)
	}
	if out.UserTranscript != "hi" {
		t.Fatalf("unexpected user transcript %q", out.UserTranscript)
	}
	// No agent transcript came back, so the shared one falls back to the
	// user transcript.
	if out.Transcript != "hi" {
		t.Fatalf("unexpected transcript %q", out.Transcript)
	}
	if out.SessionID == "" || out.ThreadID == "" {
		t.Fatal("expected session and thread ids")
	}

	if len(fx.uploader.calls) != 1 {
		t.Fatalf("expected one upload, got %d", len(fx.uploader.calls))
	}
	if fx.uploader.calls[0].Folder != "chat_audio" {
		t.Fatalf("unexpected inbound folder %q", fx.uploader.calls[0].Folder)
	}

	if fx.processor.got.SessionID != out.SessionID || fx.processor.got.ThreadID != out.ThreadID {
		t.Fatal("webhook payload ids do not match the response")
	}
	if fx.processor.got.AudioFormat != "audio/webm" {
		t.Fatalf("unexpected audio format %q", fx.processor.got.AudioFormat)
	}

	if len(fx.sessions.messages) != 2 {
		t.Fatalf("expected user and agent messages, got %d", len(fx.sessions.messages))
	}
	if fx.sessions.messages[0].Role != models.MessageRoleUser {
		t.Fatalf("first message should be the user turn, got %s", fx.sessions.messages[0].Role)
	}
	if fx.sessions.messages[1].Role != models.MessageRoleAssistant {
		t.Fatalf("second message should be the agent turn, got %s", fx.sessions.messages[1].Role)
	}
	if got := fx.sessions.transcriptUpdates[fx.sessions.messages[0].ID]; got != "hi" {
		t.Fatalf("expected user transcript backfill, got %q", got)
	}

	if fx.ledger.balance(1) != 4 {
		t.Fatalf("expected one credit debited, balance %d", fx.ledger.balance(1))
	}
	if len(fx.cache.saved) != 1 {
		t.Fatalf("expected conversation cached once, got %d", len(fx.cache.saved))
	}
}

func TestRelayBinaryAudioResponse(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{
		RawAudio:       []byte("mp3-bytes"),
		RawContentType: "audio/mpeg",
	}, 5)

	out, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}

	if len(fx.uploader.calls) != 2 {
		t.Fatalf("expected inbound and agent uploads, got %d", len(fx.uploader.calls))
	}
	agent := fx.uploader.calls[1]
	if agent.Folder != "chat_audio_agent" {
		t.Fatalf("unexpected agent folder %q", agent.Folder)
	}
	if agent.Format != "mp3" {
		t.Fatalf("unexpected agent format %q", agent.Format)
	}
	if !strings.HasPrefix(agent.PublicID, "agent-audio-1-") {
		t.Fatalf("unexpected agent public id %q", agent.PublicID)
	}

	if out.AgentAudioURL == "" {
		t.Fatal("expected agent audio url from the upload")
	}
	if out.Transcript != "" || out.UserTranscript != "" {
		t.Fatal("binary responses carry no transcripts")
	}
}

func TestRelayEmptyBinaryBodyIsStillUploaded(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{
		RawContentType: "audio/mpeg",
	}, 5)

	out, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}

	if len(fx.uploader.calls) != 2 {
		t.Fatalf("expected inbound and agent uploads, got %d", len(fx.uploader.calls))
	}
	if got := len(fx.uploader.calls[1].Data); got != 0 {
		t.Fatalf("expected the empty body to be stored as-is, got %d bytes", got)
	}
	if out.AgentAudioURL == "" {
		t.Fatal("expected agent audio url from the upload")
	}
}

func TestRelayWebhookFailureSkipsDebit(t *testing.T) {
	fx := newRelayFixture(t, nil, 5)
	fx.processor.err = &clients.WebhookError{Status: 500, Message: "boom"}

	_, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	var webhookErr *clients.WebhookError
	if !errors.As(err, &webhookErr) {
		t.Fatalf("expected WebhookError, got %v", err)
	}
	if fx.ledger.balance(1) != 5 {
		t.Fatalf("failed exchange must not be debited, balance %d", fx.ledger.balance(1))
	}

	fx.events.mu.Lock()
	last := fx.events.stages[len(fx.events.stages)-1]
	fx.events.mu.Unlock()
	if last != "failed" {
		t.Fatalf("expected terminal failed event, got %q", last)
	}
}

func TestRelayContinuesCachedConversation(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{AgentAudioURL: "https://x/a.mp3"}, 5)
	fx.cache.conv = &redisstore.ActiveConversation{SessionID: "sess-1", ThreadID: "thread-1"}

	out, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if out.SessionID != "sess-1" || out.ThreadID != "thread-1" {
		t.Fatalf("expected cached conversation reuse, got %s/%s", out.SessionID, out.ThreadID)
	}
	if len(fx.sessions.sessions) != 0 {
		t.Fatal("no new session row should be created for a cached conversation")
	}
}

func TestRelayTranscriptBackfillFailureIsNonCritical(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{
		AgentAudioURL: "https://x/a.mp3",
		Transcript:    "hi",
	}, 5)
	fx.sessions.transcriptErr = errors.New("db down")

	out, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	if err != nil {
		t.Fatalf("transcript backfill failure must not fail the exchange: %v", err)
	}
	if !out.Success {
		t.Fatal("expected success despite transcript failure")
	}
}

func TestRelayUploadFailureIsTerminal(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{AgentAudioURL: "https://x/a.mp3"}, 5)
	fx.uploader.err = &clients.UploadError{Detail: "provider down"}

	_, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	var uploadErr *clients.UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if len(fx.sessions.messages) != 0 {
		t.Fatal("nothing should be persisted after a failed upload")
	}
}

func TestRelayAgentTranscriptPreferred(t *testing.T) {
	fx := newRelayFixture(t, &clients.WebhookResult{
		AgentAudioURL:   "https://x/a.mp3",
		Transcript:      "user words",
		AgentTranscript: "agent words",
	}, 5)

	out, err := fx.svc.Relay(context.Background(), 1, RelayInput{Audio: []byte("blob")})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if out.Transcript != "agent words" {
		t.Fatalf("expected agent transcript, got %q", out.Transcript)
	}
	if out.UserTranscript != "user words" {
		t.Fatalf("expected user transcript, got %q", out.UserTranscript)
	}
}
