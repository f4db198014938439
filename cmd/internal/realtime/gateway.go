package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageBody is the user-supplied content of a message. A body with media
// references and empty text is valid.
type MessageBody struct {
	Text      string
	ImageURLs []string
	VideoURLs []string
	PDFURLs   []string
}

// Gateway persists new messages. It performs no fan-out: delivery is a
// separate concern layered on top.
type Gateway struct {
	store Store
}

// NewGateway constructs a Gateway.
func NewGateway(store Store) *Gateway {
	return &Gateway{store: store}
}

// Append persists a message against a resolved conversation, then advances
// the conversation's last-message pointer. The message write happens before
// the pointer write so a concurrent reader never observes a pointer to a
// message that does not exist yet.
func (g *Gateway) Append(ctx context.Context, conversationID, senderID string, body MessageBody, now time.Time) (Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	senderID = strings.TrimSpace(senderID)
	if conversationID == "" || senderID == "" {
		return Message{}, errors.New("realtime: missing conversation or sender id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	msg, err := g.store.CreateMessage(ctx, CreateMessageInput{
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           body.Text,
		ImageURLs:      body.ImageURLs,
		VideoURLs:      body.VideoURLs,
		PDFURLs:        body.PDFURLs,
		Now:            now,
	})
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}

	if err := g.store.SetLastMessage(ctx, conversationID, msg.ID); err != nil {
		// The message itself stays stored; accepted messages are never
		// rolled back.
		return Message{}, fmt.Errorf("set last message: %w", err)
	}

	return msg, nil
}
