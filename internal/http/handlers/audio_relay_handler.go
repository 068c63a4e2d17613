package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"voicechat/internal/clients"
	"voicechat/internal/http/middleware"
	"voicechat/internal/service"
)

// maxAudioBytes bounds one uploaded recording.
const maxAudioBytes = 32 << 20

// AudioRelayHandler serves the voice-chat relay: POST forwards one recorded
// turn to the external processor, GET returns conversation history.
type AudioRelayHandler struct {
	relay      *service.RelayService
	logger     *zap.Logger
	production bool
}

// NewAudioRelayHandler builds AudioRelayHandler. In production mode internal
// error details are kept out of responses.
func NewAudioRelayHandler(relay *service.RelayService, production bool, logger *zap.Logger) *AudioRelayHandler {
	return &AudioRelayHandler{relay: relay, logger: logger, production: production}
}

func (h *AudioRelayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.relayAudio(w, r, userID)
	case http.MethodGet:
		h.history(w, r, userID)
	default:
		w.Header().Set("Allow", "GET, POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *AudioRelayHandler) relayAudio(w http.ResponseWriter, r *http.Request, userID int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	output, err := h.relay.Relay(r.Context(), userID, service.RelayInput{
		Audio:  audio,
		Format: header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.writeRelayError(w, userID, err)
		return
	}

	writeJSON(w, http.StatusOK, output)
}

func (h *AudioRelayHandler) writeRelayError(w http.ResponseWriter, userID int64, err error) {
	var (
		insufficient *service.InsufficientCreditsError
		webhookErr   *clients.WebhookError
		uploadErr    *clients.UploadError
		formatErr    *clients.UnsupportedFormatError
	)

	switch {
	case errors.Is(err, service.ErrMissingAudio):
		writeError(w, http.StatusBadRequest, "audio file is required")

	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":   "insufficient credits",
			"balance": insufficient.Balance,
		})

	case errors.As(err, &webhookErr):
		// The webhook's own status and message pass through unchanged.
		writeErrorDetails(w, webhookErr.Status, webhookErr.Message, webhookErr.Detail)

	case errors.As(err, &uploadErr):
		status := http.StatusInternalServerError
		if uploadErr.Timeout {
			status = http.StatusGatewayTimeout
		}
		writeErrorDetails(w, status, "failed to upload audio", uploadErr.Detail)

	case errors.Is(err, clients.ErrMalformedResponse):
		writeError(w, http.StatusInternalServerError, "webhook response carries no audio URL")

	case errors.As(err, &formatErr):
		writeError(w, http.StatusInternalServerError,
			"unsupported webhook response format: "+formatErr.ContentType)

	default:
		h.logger.Error("audio relay failed", zap.Int64("user_id", userID), zap.Error(err))
		var details interface{}
		if !h.production {
			details = err.Error()
		}
		writeErrorDetails(w, http.StatusInternalServerError, "failed to process audio", details)
	}
}

func (h *AudioRelayHandler) history(w http.ResponseWriter, r *http.Request, userID int64) {
	if sessionID := r.URL.Query().Get("sessionId"); sessionID != "" {
		messages, err := h.relay.MessagesBySession(r.Context(), sessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to fetch history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
		return
	}

	sessions, err := h.relay.RecentSessions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}
