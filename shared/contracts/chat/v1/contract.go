// Package v1 defines the Bondy chat wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version embedded into every envelope.
const Version = 1

// Inbound types (client -> server). This set is closed.
const (
	// TypeSendMessage requests persisting and delivering a new message.
	TypeSendMessage = "send-message"
	// TypeSeen marks an author's messages in a conversation as read.
	TypeSeen = "seen"
)

// Outbound types (server -> client).
const (
	// TypeOnlineUsers carries the full online-user id list, broadcast on
	// every presence change.
	TypeOnlineUsers = "onlineUser"
	// TypeConversation carries a viewer-relative conversation summary.
	TypeConversation = "conversation"
	// TypeError is emitted to the originating connection only.
	TypeError = "error"

	// messageEventPrefix tags message events. The suffix is the other
	// party's user id for direct conversations and the context id for
	// group-context conversations.
	messageEventPrefix = "message-"
)

// MessageEvent returns the outbound event type for a message delivery.
func MessageEvent(otherPartyOrContextID string) string {
	return messageEventPrefix + otherPartyOrContextID
}

// IsMessageEvent reports whether typ is a message delivery event and, if so,
// returns the id it is tagged with.
func IsMessageEvent(typ string) (string, bool) {
	if !strings.HasPrefix(typ, messageEventPrefix) {
		return "", false
	}
	id := typ[len(messageEventPrefix):]
	return id, id != ""
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ValidateInbound performs strict structural validation for a client envelope.
// Outbound types are rejected here: clients never send them.
func (e Envelope) ValidateInbound() error {
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %d", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	switch e.Type {
	case TypeSendMessage, TypeSeen:
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if len(e.Payload) == 0 {
		return errors.New("missing payload")
	}
	return nil
}

// ---- Inbound payloads ----

// SendMessagePayload addresses a message by exactly one of receiver,
// projectId, groupId, or bondLinkId, and carries the message body.
type SendMessagePayload struct {
	Receiver   string `json:"receiver,omitempty"`
	ProjectID  string `json:"projectId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	BondLinkID string `json:"bondLinkId,omitempty"`

	Text     string   `json:"text,omitempty"`
	ImageURL []string `json:"imageUrl,omitempty"`
	VideoURL []string `json:"videoUrl,omitempty"`
	PDFURL   []string `json:"pdfUrl,omitempty"`
}

// SeenPayload marks all unread messages authored by MsgByUserID in the
// conversation as seen.
type SeenPayload struct {
	ConversationID string `json:"conversationId"`
	MsgByUserID    string `json:"msgByUserId"`
}

// ---- Outbound payloads ----

// UserData is the participant profile shape attached to summaries and
// message sender fields.
type UserData struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// MessagePayload is the persisted message as delivered to participants.
type MessagePayload struct {
	ID             string    `json:"_id"`
	ConversationID string    `json:"conversationId"`
	MsgByUserID    string    `json:"msgByUserId"`
	Text           string    `json:"text"`
	ImageURL       []string  `json:"imageUrl,omitempty"`
	VideoURL       []string  `json:"videoUrl,omitempty"`
	PDFURL         []string  `json:"pdfUrl,omitempty"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"createdAt"`

	// Sender display fields, attached at delivery time.
	Sender *UserData `json:"sender,omitempty"`
}

// ConversationSummaryPayload is the viewer-relative inbox projection.
type ConversationSummaryPayload struct {
	ID          string          `json:"_id"`
	UserData    *UserData       `json:"userData"`
	UnseenMsg   int64           `json:"unseenMsg"`
	LastMessage *MessagePayload `json:"lastMessage"`
	Type        string          `json:"type"`
}

// ErrorPayload is emitted to the originating connection only, never broadcast.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
}
