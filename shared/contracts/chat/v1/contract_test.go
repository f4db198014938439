package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValidateInbound(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{}`)

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "send-message ok", env: Envelope{V: Version, Type: TypeSendMessage, Payload: payload}},
		{name: "seen ok", env: Envelope{V: Version, Type: TypeSeen, Payload: payload}},
		{name: "wrong version", env: Envelope{V: 99, Type: TypeSendMessage, Payload: payload}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version, Payload: payload}, wantErr: true},
		{name: "outbound type rejected", env: Envelope{V: Version, Type: TypeConversation, Payload: payload}, wantErr: true},
		{name: "message event rejected", env: Envelope{V: Version, Type: MessageEvent("u2"), Payload: payload}, wantErr: true},
		{name: "missing payload", env: Envelope{V: Version, Type: TypeSeen}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.ValidateInbound()
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateInbound()=%v wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

func TestMessageEvent(t *testing.T) {
	t.Parallel()

	typ := MessageEvent("u42")
	if typ != "message-u42" {
		t.Fatalf("MessageEvent(u42)=%q", typ)
	}

	id, ok := IsMessageEvent(typ)
	if !ok || id != "u42" {
		t.Fatalf("IsMessageEvent(%q)=(%q,%v)", typ, id, ok)
	}

	if _, ok := IsMessageEvent("conversation"); ok {
		t.Fatalf("conversation must not parse as message event")
	}
	if _, ok := IsMessageEvent("message-"); ok {
		t.Fatalf("empty id must not parse as message event")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	in := Envelope{
		V:       Version,
		Type:    TypeSendMessage,
		ID:      "01J0000000000000000000000",
		TS:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload: json.RawMessage(`{"receiver":"u2","text":"hi"}`),
	}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out Envelope
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != in.Type || out.ID != in.ID || !out.TS.Equal(in.TS) {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	var p SendMessagePayload
	if err := json.Unmarshal(out.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Receiver != "u2" || p.Text != "hi" {
		t.Fatalf("payload mismatch: %+v", p)
	}
}
