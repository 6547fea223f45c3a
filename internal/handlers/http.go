// Package handlers exposes the assistant over its delivery channels: a
// JSON HTTP API and an optional Telegram bot.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/i18n"
	"github.com/vendora-assistant-go/internal/middleware"
	"github.com/vendora-assistant-go/internal/models"
	"github.com/vendora-assistant-go/internal/services/conversation"
)

// maxMessageBytes bounds inbound message text. Anything longer is
// rejected before it reaches the model.
const maxMessageBytes = 4096

// HTTPHandler serves the web and api channels.
type HTTPHandler struct {
	engine    *conversation.Engine
	limiter   middleware.RateLimiter
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewHTTPHandler creates the HTTP channel handler.
func NewHTTPHandler(engine *conversation.Engine, limiter middleware.RateLimiter, localizer *i18n.Localizer, metrics *middleware.Metrics, logger *logrus.Logger) *HTTPHandler {
	return &HTTPHandler{
		engine:    engine,
		limiter:   limiter,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// Router builds the API routes.
func (h *HTTPHandler) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/v1/messages", h.handleMessage).Methods(http.MethodPost)
	router.HandleFunc("/v1/conversations", h.handleNewConversation).Methods(http.MethodPost)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	return router
}

// messageRequest is the inbound payload for both endpoints.
type messageRequest struct {
	SubjectID   string `json:"subject_id"`
	Guest       bool   `json:"guest"`
	Timezone    string `json:"timezone"`
	Language    string `json:"language"`
	Channel     string `json:"channel"`
	Text        string `json:"text"`
	Counterpart *struct {
		Kind        string `json:"kind"`
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"counterpart"`
}

func (r *messageRequest) subject() models.Subject {
	return models.Subject{
		ID:       r.SubjectID,
		Guest:    r.Guest,
		Timezone: r.Timezone,
		Language: r.Language,
	}
}

func (r *messageRequest) counterpart() *models.Counterpart {
	if r.Counterpart == nil {
		return nil
	}
	return &models.Counterpart{
		Kind:        models.CounterpartKind(r.Counterpart.Kind),
		ID:          r.Counterpart.ID,
		DisplayName: r.Counterpart.DisplayName,
	}
}

func (h *HTTPHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	subject := req.subject()

	if req.Text == "" {
		h.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.Text) > maxMessageBytes {
		h.writeError(w, http.StatusRequestEntityTooLarge, h.localizer.Get(subject.Language, i18n.MsgMessageTooLong, nil))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(subject.QuotaKey()) {
		h.metrics.RecordRateLimitExceeded()
		h.writeError(w, http.StatusTooManyRequests, h.localizer.Get(subject.Language, i18n.MsgRateLimitExceeded, nil))
		return
	}

	reply := h.engine.HandleMessage(r.Context(), &conversation.Request{
		Subject:     subject,
		Counterpart: req.counterpart(),
		Channel:     models.Channel(req.Channel),
		Text:        req.Text,
	})

	status := http.StatusOK
	if reply.Status == conversation.StatusError {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, reply)
}

func (h *HTTPHandler) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	subject := req.subject()

	thread, err := h.engine.NewConversation(r.Context(), subject, req.counterpart(), models.Channel(req.Channel))
	if err != nil {
		h.logger.WithError(err).Error("Failed to start new conversation")
		h.writeError(w, http.StatusInternalServerError, h.localizer.Get(subject.Language, i18n.MsgGenericError, nil))
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"thread_id": thread.ID,
		"message":   h.localizer.Get(subject.Language, i18n.MsgNewConversation, nil),
	})
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*messageRequest, bool) {
	var req messageRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes*2))
	if err := decoder.Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}

	if req.SubjectID == "" {
		h.writeError(w, http.StatusBadRequest, "subject_id is required")
		return nil, false
	}
	if !models.Channel(req.Channel).Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown channel")
		return nil, false
	}
	if req.Counterpart != nil {
		kind := models.CounterpartKind(req.Counterpart.Kind)
		if kind != models.CounterpartClient && kind != models.CounterpartContact {
			h.writeError(w, http.StatusBadRequest, "unknown counterpart kind")
			return nil, false
		}
	}
	return &req, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.WithError(err).Error("Failed to write response")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"status":  "error",
		"message": message,
	})
}
