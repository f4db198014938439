package realtime

import (
	"encoding/json"
	"time"

	v1 "bondy/shared/contracts/chat/v1"
)

// NewOutboundEnvelope wraps a payload in the canonical wire envelope.
func NewOutboundEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, err := NewEnvelopeID(ts)
	if err != nil {
		id = NewRandomHex(10)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

// messagePayload converts a stored message to its wire shape, optionally
// attaching sender display fields.
func messagePayload(m Message, sender *v1.UserData) v1.MessagePayload {
	return v1.MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		MsgByUserID:    m.SenderID,
		Text:           m.Text,
		ImageURL:       m.ImageURLs,
		VideoURL:       m.VideoURLs,
		PDFURL:         m.PDFURLs,
		Seen:           m.Seen,
		CreatedAt:      m.CreatedAt,
		Sender:         sender,
	}
}

func profileUserData(p Profile) *v1.UserData {
	return &v1.UserData{
		ID:           p.ID,
		Name:         p.Name,
		Email:        p.Email,
		ProfileImage: p.ProfileImage,
	}
}
