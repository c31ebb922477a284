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

// Package models defines the data structures shared across the intake service.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BufferedMessage is one inbound chat message normalised by the transport
// layer. Rich-text hyperlink targets are already appended to Text by the
// transport so the link detector can see them. Immutable once captured.
type BufferedMessage struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Sender         string    `json:"sender"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	HasAttachment  bool      `json:"has_attachment"`
	AttachmentName string    `json:"attachment_name,omitempty"`
	Forwarded      bool      `json:"forwarded"`
}

// IsPDFAttachment reports whether the message carries a PDF document.
func (m *BufferedMessage) IsPDFAttachment() bool {
	return m.HasAttachment && strings.HasSuffix(strings.ToLower(m.AttachmentName), ".pdf")
}

// MessageGroup is an ordered sequence of related messages from one
// conversation, treated as a single submission. Mutated only by Append while
// open; once finalized it is handed off and never changed again.
//
// ID is unique per group and namespaces any per-group side effects
// (temp file paths in particular), so groups can process concurrently.
type MessageGroup struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	PrimarySender  string            `json:"primary_sender"`
	Messages       []BufferedMessage `json:"messages"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewMessageGroup creates an empty group for a conversation.
func NewMessageGroup(conversationID string) *MessageGroup {
	return &MessageGroup{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}
}

// Append adds a message to the group. The first message's sender becomes
// the group's primary sender.
func (g *MessageGroup) Append(msg BufferedMessage) {
	g.Messages = append(g.Messages, msg)
	if g.PrimarySender == "" {
		g.PrimarySender = msg.Sender
	}
}

// CombinedText joins the text of all messages in arrival order.
func (g *MessageGroup) CombinedText() string {
	texts := make([]string, 0, len(g.Messages))
	for _, m := range g.Messages {
		if m.Text != "" {
			texts = append(texts, m.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// MessageIDs returns the IDs of all messages in the group.
func (g *MessageGroup) MessageIDs() []string {
	ids := make([]string, 0, len(g.Messages))
	for _, m := range g.Messages {
		ids = append(ids, m.MessageID)
	}
	return ids
}

// ContainsMessage reports whether the given message ID is in the group.
func (g *MessageGroup) ContainsMessage(id string) bool {
	if id == "" {
		return false
	}
	for _, m := range g.Messages {
		if m.MessageID == id {
			return true
		}
	}
	return false
}

// HasAttachment reports whether any message in the group has an attachment.
func (g *MessageGroup) HasAttachment() bool {
	for _, m := range g.Messages {
		if m.HasAttachment {
			return true
		}
	}
	return false
}

// AttachmentMessage returns the first message with an attachment, or nil.
func (g *MessageGroup) AttachmentMessage() *BufferedMessage {
	for i := range g.Messages {
		if g.Messages[i].HasAttachment {
			return &g.Messages[i]
		}
	}
	return nil
}
