// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package webhook handles incoming message events from the chat platform.
// The platform POSTs each new message to the registered webhook URL; this
// handler validates and dedups the event, then hands it to the grouping
// engine. Buffering happens in the background so the platform sees a fast
// acknowledgement and does not redeliver.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dealdesk/intake/internal/metrics"
	"github.com/dealdesk/intake/internal/models"
)

// maxBodyBytes caps webhook request bodies. Chat messages are small; a
// megabyte of headroom covers forwarded text walls.
const maxBodyBytes = 1 << 20

// MessageEvent is the JSON body the chat platform delivers per message.
type MessageEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
	Timestamp      string `json:"timestamp"` // RFC 3339; empty means "now"
	ReplyToID      string `json:"reply_to_id,omitempty"`
	HasAttachment  bool   `json:"has_attachment,omitempty"`
	AttachmentName string `json:"attachment_name,omitempty"`
	Forwarded      bool   `json:"forwarded,omitempty"`
}

// Ingestor buffers a validated message into the grouping engine.
type Ingestor interface {
	Add(ctx context.Context, msg models.BufferedMessage)
}

// Deduper decides whether a message has been seen before.
type Deduper interface {
	IsNew(ctx context.Context, conversationID, messageID string) (bool, error)
}

// Pinger reports the health of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler processes incoming message events.
type Handler struct {
	ingestor Ingestor
	filter   Deduper
	checks   map[string]Pinger
}

// NewHandler creates a message event handler. Filter may be nil, which
// disables deduplication (replay tooling).
func NewHandler(ingestor Ingestor, filter Deduper) *Handler {
	return &Handler{
		ingestor: ingestor,
		filter:   filter,
		checks:   make(map[string]Pinger),
	}
}

// AddHealthCheck registers a named dependency for the /health endpoint.
func (h *Handler) AddHealthCheck(name string, p Pinger) {
	h.checks[name] = p
}

// ServeMessage handles POST /messages.
//
// The platform expects a fast response: we validate, dedup, and respond
// 202 Accepted, then buffer the message in the background.
func (h *Handler) ServeMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("failed to read message body", "error", err)
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var event MessageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Warn("message body not valid JSON", "body_len", len(body))
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	msg, err := event.toMessage()
	if err != nil {
		slog.Warn("rejecting invalid message event", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.filter != nil {
		isNew, err := h.filter.IsNew(r.Context(), msg.ConversationID, msg.MessageID)
		if err != nil {
			// Redis hiccups must not drop messages; proceed and let the
			// grouping engine tolerate the occasional duplicate.
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			metrics.MessagesDeduplicated.Inc()
			slog.Debug("skipping duplicate message",
				"conversation", msg.ConversationID,
				"message_id", msg.MessageID,
			)
			w.WriteHeader(http.StatusAccepted)
			return
		}
	}

	// Respond immediately; the platform expects a fast acknowledgement
	w.WriteHeader(http.StatusAccepted)

	go h.ingestor.Add(context.Background(), msg)
}

// ServeHealth handles GET /health, pinging each registered dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		"dependencies": deps,
	})
}

// toMessage validates the event and converts it to a buffered message.
func (e *MessageEvent) toMessage() (models.BufferedMessage, error) {
	if strings.TrimSpace(e.ConversationID) == "" {
		return models.BufferedMessage{}, fmt.Errorf("missing conversation_id")
	}
	if strings.TrimSpace(e.MessageID) == "" {
		return models.BufferedMessage{}, fmt.Errorf("missing message_id")
	}
	if strings.TrimSpace(e.Sender) == "" {
		return models.BufferedMessage{}, fmt.Errorf("missing sender")
	}

	ts := time.Now().UTC()
	if e.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			return models.BufferedMessage{}, fmt.Errorf("invalid timestamp %q: %w", e.Timestamp, err)
		}
		ts = parsed
	}

	return models.BufferedMessage{
		ConversationID: e.ConversationID,
		MessageID:      e.MessageID,
		Sender:         e.Sender,
		Text:           e.Text,
		Timestamp:      ts,
		ReplyToID:      e.ReplyToID,
		HasAttachment:  e.HasAttachment,
		AttachmentName: e.AttachmentName,
		Forwarded:      e.Forwarded,
	}, nil
}

// Serve starts the webhook HTTP server on the given port. Extra routes
// (metrics) may be passed as a map of pattern to handler. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler, extra map[string]http.Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/messages", handler.ServeMessage)
	mux.HandleFunc("/health", handler.ServeHealth)
	for pattern, hnd := range extra {
		mux.Handle(pattern, hnd)
	}

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
