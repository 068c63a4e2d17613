package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMalformedResponse is returned when the webhook answers with JSON that
// cannot be parsed or that carries no audio URL.
var ErrMalformedResponse = errors.New("webhook: response carries no audio URL")

// WebhookError is a non-success answer from the processing webhook. Status is
// propagated to the caller unchanged.
type WebhookError struct {
	Status  int
	Message string
	Detail  interface{}
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook: status %d: %s", e.Status, e.Message)
}

// UnsupportedFormatError is returned for response content types that are
// neither JSON nor audio/video.
type UnsupportedFormatError struct {
	ContentType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("webhook: unsupported response format: %s", e.ContentType)
}

// WebhookRequest is the JSON payload dispatched to the webhook.
type WebhookRequest struct {
	AudioURL    string `json:"audioUrl"`
	UserID      int64  `json:"userId"`
	SessionID   string `json:"sessionId"`
	ThreadID    string `json:"threadId"`
	AudioFormat string `json:"audioFormat"`
}

// WebhookResult is the normalized outcome of one webhook exchange. A JSON
// answer fills AgentAudioURL and the transcripts; a streamed audio answer
// fills RawAudio and RawContentType instead.
type WebhookResult struct {
	AgentAudioURL   string
	Transcript      string
	AgentTranscript string
	RawAudio        []byte
	RawContentType  string
}

// webhookPayload tolerates both naming conventions the processing workflow
// has been seen to emit. The normalization happens here at the boundary so
// the rest of the code deals with one schema only.
type webhookPayload struct {
	AudioURL        string `json:"audioUrl"`
	AudioURLSnake   string `json:"audio_url"`
	Transcript      string `json:"transcript"`
	Text            string `json:"text"`
	AgentTranscript string `json:"agentTranscript"`
	AgentText       string `json:"agent_text"`
}

func (p webhookPayload) normalize() WebhookResult {
	return WebhookResult{
		AgentAudioURL:   firstNonEmpty(p.AudioURL, p.AudioURLSnake),
		Transcript:      firstNonEmpty(p.Transcript, p.Text),
		AgentTranscript: firstNonEmpty(p.AgentTranscript, p.AgentText),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// WebhookClient dispatches recorded audio to the external processing webhook
// and classifies its heterogeneous responses.
type WebhookClient struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookClient builds HTTP client wrapper. The timeout bounds the whole
// exchange; there are no retries.
func NewWebhookClient(url string, timeout time.Duration, logger *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &WebhookClient{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Process sends the payload and returns the normalized result.
func (c *WebhookClient) Process(ctx context.Context, payload WebhookRequest) (*WebhookResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Warn("webhook call timed out", zap.String("url", c.url))
			return nil, &WebhookError{
				Status:  http.StatusGatewayTimeout,
				Message: "audio processing timed out",
			}
		}
		return nil, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.classifyFailure(resp)
	}

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "application/json"):
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("webhook: read response: %w", err)
		}
		var parsed webhookPayload
		if err := json.Unmarshal(body, &parsed); err != nil {
			c.logger.Warn("webhook returned invalid JSON", zap.Error(err))
			return nil, ErrMalformedResponse
		}
		result := parsed.normalize()
		if result.AgentAudioURL == "" {
			return nil, ErrMalformedResponse
		}
		return &result, nil

	case strings.Contains(contentType, "audio/") || strings.Contains(contentType, "video/"):
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("webhook: read audio response: %w", err)
		}
		return &WebhookResult{RawAudio: body, RawContentType: contentType}, nil

	default:
		return nil, &UnsupportedFormatError{ContentType: contentType}
	}
}

func (c *WebhookClient) classifyFailure(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var detail map[string]interface{}
	if err := json.Unmarshal(body, &detail); err != nil {
		detail = map[string]interface{}{"message": string(body)}
	}

	message := "audio processing failed"
	if raw, ok := detail["message"].(string); ok && raw != "" {
		switch {
		case strings.Contains(raw, "Workflow could not be started"):
			message = "The processing workflow could not be started. Check the webhook workflow configuration."
		case strings.Contains(raw, "Workflow"):
			message = fmt.Sprintf("Workflow error: %s", raw)
		default:
			message = raw
		}
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	c.logger.Warn("webhook returned non-success",
		zap.Int("status", resp.StatusCode),
		zap.String("message", message),
	)
	return &WebhookError{Status: status, Message: message, Detail: detail}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
