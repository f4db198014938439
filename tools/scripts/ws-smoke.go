// Package main provides a CI-friendly WebSocket smoke test for the Bondy relay.
//
// It validates:
//   - handshake + subprotocol selection + token auth
//   - onlineUser presence broadcast on connect
//   - send-message -> message event fan-out to the receiver
//   - conversation summary refresh on both sides
//   - seen -> unseen count drops to zero
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "bondy/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "bondy.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		tokenA  = flag.String("token-a", "", "Access token for the sending user")
		tokenB  = flag.String("token-b", "", "Access token for the receiving user")
		userA   = flag.String("user-a", "", "User id the sender token resolves to")
		userB   = flag.String("user-b", "", "User id the receiver token resolves to")
		text    = flag.String("text", "hello bondy 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*tokenA) == "" || strings.TrimSpace(*tokenB) == "" {
		fatalf("-token-a and -token-b are required")
	}
	if strings.TrimSpace(*userA) == "" || strings.TrimSpace(*userB) == "" {
		fatalf("-user-a and -user-b are required")
	}

	root := context.Background()

	b := mustConnect(root, "B", *wsURL, *origin, *tokenB, *userB, *timeout)
	defer closeWS(b.conn)

	a := mustConnect(root, "A", *wsURL, *origin, *tokenA, *userA, *timeout)
	defer closeWS(a.conn)

	// Both ends must observe the full online set once A is in.
	mustSeeOnline(root, a, []string{*userA, *userB}, *timeout)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.userID, b.userID, *origin)
	}

	mustSend(root, a, v1.SendMessagePayload{Receiver: *userB, Text: *text}, *timeout)

	msg := mustReceiveMessage(root, b, v1.MessageEvent(*userA), *text, *timeout)

	sumB := mustReceiveSummary(root, b, msg.ConversationID, *timeout)
	if sumB.UnseenMsg < 1 {
		fatalf("B summary: unseenMsg=%d want >= 1", sumB.UnseenMsg)
	}

	echo := mustReceiveMessage(root, a, v1.MessageEvent(*userB), *text, *timeout)
	if echo.ID != msg.ID {
		fatalf("sender echo id=%s receiver id=%s want identical", echo.ID, msg.ID)
	}
	sumA := mustReceiveSummary(root, a, msg.ConversationID, *timeout)
	if sumA.UnseenMsg != 0 {
		fatalf("A summary: unseenMsg=%d want 0 for own message", sumA.UnseenMsg)
	}

	mustSend(root, b, v1.SeenPayload{ConversationID: msg.ConversationID, MsgByUserID: *userA}, *timeout)

	refreshed := mustReceiveSummary(root, b, msg.ConversationID, *timeout)
	if refreshed.UnseenMsg != 0 {
		fatalf("B summary after seen: unseenMsg=%d want 0", refreshed.UnseenMsg)
	}

	fmt.Printf("OK: A=%s B=%s conversation_id=%s message_id=%s\n", a.userID, b.userID, msg.ConversationID, msg.ID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin, token, userID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u, err := url.Parse(wsURL)
	if err != nil {
		fatalf("%s: parse url: %v", name, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("%s: dial: %v", name, err)
	}
	assertSubprotocol(name, conn)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 64),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	// The registration broadcast doubles as the auth check: a rejected
	// token closes the socket before any event arrives.
	mustSeeOnline(parent, c, []string{userID}, stepTimeout)
	return c
}

func assertSubprotocol(name string, conn *websocket.Conn) {
	if got := conn.Subprotocol(); got != defaultSubprotocol {
		fatalf("%s: subprotocol=%q want=%q", name, got, defaultSubprotocol)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				close(c.inbox)
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad frame: %w", err):
				default:
				}
				continue
			}
			c.inbox <- env
		}
	}()
}

// waitForType blocks until an envelope with the given type arrives. Error
// events fail the run immediately: the smoke scenario never triggers one on
// purpose.
func waitForType(parent context.Context, c *smokeClient, typ string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("%s: timeout waiting for %q", c.name, typ)
		case err := <-c.errCh:
			fatalf("%s: read loop: %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("%s: connection closed waiting for %q", c.name, typ)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("%s: server error: code=%d message=%q details=%q", c.name, ep.Code, ep.Message, ep.Details)
			}
			if env.Type == typ {
				return env
			}
		}
	}
}

func mustSeeOnline(parent context.Context, c *smokeClient, wantIDs []string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fatalf("%s: timeout waiting for online set %v", c.name, wantIDs)
		}

		env := waitForType(parent, c, v1.TypeOnlineUsers, remaining)

		var ids []string
		if err := json.Unmarshal(env.Payload, &ids); err != nil {
			fatalf("%s: unmarshal online users: %v", c.name, err)
		}

		present := make(map[string]bool, len(ids))
		for _, id := range ids {
			present[id] = true
		}
		all := true
		for _, want := range wantIDs {
			if !present[want] {
				all = false
				break
			}
		}
		if all {
			return
		}
		// Stale broadcast from before the last connect; keep reading.
	}
}

func mustSend(parent context.Context, c *smokeClient, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	typ := ""
	switch payload.(type) {
	case v1.SendMessagePayload:
		typ = v1.TypeSendMessage
	case v1.SeenPayload:
		typ = v1.TypeSeen
	default:
		fatalf("%s: unsupported payload %T", c.name, payload)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		fatalf("%s: marshal payload: %v", c.name, err)
	}
	env := v1.Envelope{V: v1.Version, Type: typ, Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("%s: marshal envelope: %v", c.name, err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("%s: write: %v", c.name, err)
	}
}

func mustReceiveMessage(parent context.Context, c *smokeClient, eventType, wantText string, stepTimeout time.Duration) v1.MessagePayload {
	env := waitForType(parent, c, eventType, stepTimeout)

	var mp v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &mp); err != nil {
		fatalf("%s: unmarshal message: %v", c.name, err)
	}
	if mp.Text != wantText {
		fatalf("%s: message text=%q want=%q", c.name, mp.Text, wantText)
	}
	if strings.TrimSpace(mp.ConversationID) == "" {
		fatalf("%s: message carries no conversationId", c.name)
	}
	return mp
}

func mustReceiveSummary(parent context.Context, c *smokeClient, conversationID string, stepTimeout time.Duration) v1.ConversationSummaryPayload {
	deadline := time.Now().Add(stepTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			fatalf("%s: timeout waiting for summary of %s", c.name, conversationID)
		}

		env := waitForType(parent, c, v1.TypeConversation, remaining)

		var sp v1.ConversationSummaryPayload
		if err := json.Unmarshal(env.Payload, &sp); err != nil {
			fatalf("%s: unmarshal summary: %v", c.name, err)
		}
		if sp.ID == conversationID {
			return sp
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
