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

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dealdesk/intake/internal/models"
)

// fakeIngestor records buffered messages.
type fakeIngestor struct {
	mu       sync.Mutex
	messages []models.BufferedMessage
	added    chan struct{}
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{added: make(chan struct{}, 16)}
}

func (f *fakeIngestor) Add(ctx context.Context, msg models.BufferedMessage) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
	f.added <- struct{}{}
}

func (f *fakeIngestor) waitForAdd(t *testing.T) models.BufferedMessage {
	t.Helper()
	select {
	case <-f.added:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message to be buffered")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[len(f.messages)-1]
}

// fakeDeduper marks specific conversation:message keys as already seen.
type fakeDeduper struct {
	seen map[string]bool
	err  error
}

func (f *fakeDeduper) IsNew(ctx context.Context, conversationID, messageID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.seen[conversationID+":"+messageID], nil
}

func postMessage(t *testing.T, h *Handler, event MessageEvent) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(event)
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeMessage(rr, req)
	return rr
}

// TestServeMessage_AcceptsAndBuffers verifies the happy path: valid events
// get a 202 and reach the grouping engine.
func TestServeMessage_AcceptsAndBuffers(t *testing.T) {
	ing := newFakeIngestor()
	h := NewHandler(ing, nil)

	rr := postMessage(t, h, MessageEvent{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Sender:         "alice",
		Text:           "check out https://docsend.com/view/abc",
		Timestamp:      "2026-04-12T09:30:00Z",
	})

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}

	msg := ing.waitForAdd(t)
	if msg.ConversationID != "conv-1" || msg.MessageID != "msg-1" {
		t.Errorf("buffered message = %+v, want conv-1/msg-1", msg)
	}
	want := time.Date(2026, 4, 12, 9, 30, 0, 0, time.UTC)
	if !msg.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, want)
	}
}

// TestServeMessage_Validation verifies required fields are enforced.
func TestServeMessage_Validation(t *testing.T) {
	tests := []struct {
		name  string
		event MessageEvent
	}{
		{"missing conversation_id", MessageEvent{MessageID: "m", Sender: "s"}},
		{"missing message_id", MessageEvent{ConversationID: "c", Sender: "s"}},
		{"missing sender", MessageEvent{ConversationID: "c", MessageID: "m"}},
		{"bad timestamp", MessageEvent{ConversationID: "c", MessageID: "m", Sender: "s", Timestamp: "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := newFakeIngestor()
			h := NewHandler(ing, nil)

			rr := postMessage(t, h, tt.event)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

// TestServeMessage_EmptyTimestampDefaultsToNow verifies events without a
// timestamp are stamped on arrival rather than rejected.
func TestServeMessage_EmptyTimestampDefaultsToNow(t *testing.T) {
	ing := newFakeIngestor()
	h := NewHandler(ing, nil)

	before := time.Now().UTC()
	rr := postMessage(t, h, MessageEvent{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Sender:         "alice",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}

	msg := ing.waitForAdd(t)
	if msg.Timestamp.Before(before) || msg.Timestamp.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("timestamp %v not stamped on arrival", msg.Timestamp)
	}
}

// TestServeMessage_Duplicate verifies duplicates are acknowledged but not
// buffered.
func TestServeMessage_Duplicate(t *testing.T) {
	ing := newFakeIngestor()
	h := NewHandler(ing, &fakeDeduper{seen: map[string]bool{"conv-1:msg-1": true}})

	rr := postMessage(t, h, MessageEvent{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Sender:         "alice",
	})

	// Still 202 — the platform should not redeliver
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}

	select {
	case <-ing.added:
		t.Error("duplicate message was buffered")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestServeMessage_DedupErrorProceeds verifies a failing dedup backend does
// not drop messages.
func TestServeMessage_DedupErrorProceeds(t *testing.T) {
	ing := newFakeIngestor()
	h := NewHandler(ing, &fakeDeduper{err: errors.New("redis down")})

	rr := postMessage(t, h, MessageEvent{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Sender:         "alice",
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
	ing.waitForAdd(t)
}

// TestServeMessage_NonPost verifies only POST is allowed.
func TestServeMessage_NonPost(t *testing.T) {
	h := NewHandler(newFakeIngestor(), nil)

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rr := httptest.NewRecorder()
	h.ServeMessage(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

// TestServeMessage_InvalidJSON verifies bad payloads are rejected.
func TestServeMessage_InvalidJSON(t *testing.T) {
	h := NewHandler(newFakeIngestor(), nil)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	h.ServeMessage(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// pinger is a health check stub.
type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

// TestServeHealth verifies dependency status reporting.
func TestServeHealth(t *testing.T) {
	h := NewHandler(newFakeIngestor(), nil)
	h.AddHealthCheck("redis", pinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHealth(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	h.AddHealthCheck("postgres", pinger{err: errors.New("connection refused")})
	rr = httptest.NewRecorder()
	h.ServeHealth(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status field = %q, want degraded", body.Status)
	}
	if body.Dependencies["redis"] != "ok" {
		t.Errorf("redis dependency = %q, want ok", body.Dependencies["redis"])
	}
	if body.Dependencies["postgres"] == "ok" {
		t.Error("postgres dependency reported ok despite failing ping")
	}
}
