package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	v1 "bondy/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "bondy.chat.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// TokenVerifier is the authentication boundary: it validates a credential
// token issued by the external identity system and yields the logical-user
// id that owns the connection.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// WSGatewayConfig carries the tunables the gateway reads at construction.
type WSGatewayConfig struct {
	OriginRequired bool
	AllowedOrigins []string
	DevInsecure    bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultWSGatewayConfig returns the secure defaults.
func DefaultWSGatewayConfig() WSGatewayConfig {
	return WSGatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   strings.Split(wsDefaultAllowedOrigins, ","),
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// WSGateway is the WebSocket entrypoint for the Bondy relay.
//
// It enforces origin policy, subprotocol selection, authentication, rate
// limits, and heartbeats, and routes validated envelopes into the resolver,
// message gateway, fan-out engine, and read-state synchronizer.
type WSGateway struct {
	log      *slog.Logger
	verifier TokenVerifier
	registry *Registry

	resolver *Resolver
	gateway  *Gateway
	fanout   *Fanout
	seen     *SeenSync

	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
	devInsecure    bool

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway wires a gateway over the given store and verifier.
// A nil store falls back to the in-memory implementation for dev.
func NewWSGateway(log *slog.Logger, verifier TokenVerifier, store Store, cfg WSGatewayConfig) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if store == nil {
		store = NewInMemoryStore()
	}

	registry := NewRegistry(log)
	projector := NewProjector(store)
	fanout := NewFanout(log, registry, projector, store)

	g := &WSGateway{
		log:      log,
		verifier: verifier,
		registry: registry,
		resolver: NewResolver(log, store),
		gateway:  NewGateway(store),
		fanout:   fanout,
		seen:     NewSeenSync(log, store, fanout),

		originRequired: cfg.OriginRequired,
		allowedOrigins: cfg.AllowedOrigins,
		devInsecure:    cfg.DevInsecure,
	}

	// IMPORTANT:
	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = nonZero(cfg.WriteTimeout, wsDefaultWriteTimeout)
	g.readIdleTimeout = nonZero(cfg.ReadIdleTimeout, wsDefaultReadIdle)

	g.sendQueueSize = cfg.SendQueueSize
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = nonZero(cfg.HeartbeatEvery, heartbeatInterval)
	g.heartbeatTimeout = nonZero(cfg.HeartbeatTimeout, heartbeatTimeout)

	g.rateEvents = cfg.RateEvents
	if g.rateEvents <= 0 {
		g.rateEvents = rateLimitEvents
	}
	g.rateWindow = nonZero(cfg.RateWindow, rateLimitWindow)

	return g
}

// Registry exposes the presence registry (used by app wiring and tests).
func (g *WSGateway) Registry() *Registry { return g.registry }

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// relay loop for one connection.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	// Authentication boundary: a missing or invalid credential closes the
	// connection before any state is registered. No error event is emitted
	// because no authenticated channel exists yet.
	userID, err := g.authenticate(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "remote", r.RemoteAddr, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "")
		return
	}

	now := time.Now().UTC()
	sessionID, err := NewSessionID(now)
	if err != nil {
		sessionID = NewRandomHex(10)
	}
	client := NewClient(userID, sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Fan-out safety: presence removal happens before client.Close, so a
	// concurrent fan-out snapshot either misses the client or enqueues into
	// a still-open channel.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.registry.Unregister(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	// Registration also broadcasts the online set to every connection,
	// including this one.
	g.registry.Register(client)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendErrorEvent(client, codeInvalidAddressing, "invalid JSON", "")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		eventNow := time.Now().UTC()
		if !rl.Allow(eventNow) {
			g.sendErrorEvent(client, codeInvalidAddressing, "too many events", "rate limited")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.ValidateInbound(); err != nil {
			g.sendErrorEvent(client, codeInvalidAddressing, "invalid envelope", err.Error())
			continue readLoop
		}

		// One inbound event runs to completion before the next read, so a
		// connection's own events never interleave with each other.
		switch env.Type {
		case v1.TypeSendMessage:
			g.onSendMessage(ctx, client, env, eventNow)
		case v1.TypeSeen:
			g.onSeen(ctx, client, env)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onSendMessage(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	var p v1.SendMessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.sendErrorEvent(client, codeInvalidAddressing, "invalid payload", err.Error())
		return
	}

	addr, err := ParseAddressing(p)
	if err != nil {
		g.replyError(client, err)
		return
	}

	text := strings.TrimSpace(p.Text)
	if len([]rune(text)) > maxMessageChars {
		g.sendErrorEvent(client, codeInvalidAddressing, fmt.Sprintf("message too long: max=%d chars", maxMessageChars), "")
		return
	}

	res, err := g.resolver.Resolve(ctx, client.UserID, addr)
	if err != nil {
		g.log.Info("ws.send.resolve_fail", "user_id", client.UserID, "kind", addr.Kind.String(), "err", err)
		g.replyError(client, err)
		return
	}

	msg, err := g.gateway.Append(ctx, res.Conversation.ID, client.UserID, MessageBody{
		Text:      text,
		ImageURLs: p.ImageURL,
		VideoURLs: p.VideoURL,
		PDFURLs:   p.PDFURL,
	}, now)
	if err != nil {
		g.log.Error("ws.send.append_fail", "user_id", client.UserID, "conversation_id", res.Conversation.ID, "err", err)
		g.replyError(client, err)
		return
	}

	metricMessages.WithLabelValues(string(res.Conversation.Type)).Inc()

	g.fanout.DeliverMessage(ctx, res, msg, client.UserID)
}

func (g *WSGateway) onSeen(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.SeenPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.sendErrorEvent(client, codeInvalidAddressing, "invalid payload", err.Error())
		return
	}
	if strings.TrimSpace(p.ConversationID) == "" || strings.TrimSpace(p.MsgByUserID) == "" {
		g.sendErrorEvent(client, codeInvalidAddressing, "conversationId and msgByUserId required", "")
		return
	}

	if err := g.seen.MarkSeen(ctx, p.ConversationID, p.MsgByUserID, client.UserID); err != nil {
		g.log.Error("ws.seen.fail", "user_id", client.UserID, "conversation_id", p.ConversationID, "err", err)
		g.replyError(client, err)
	}
}

// ---- auth ----

// authenticate extracts the credential from the upgrade request and verifies
// it. The token travels either as a bearer Authorization header or as a
// "token" query parameter (browser websocket clients cannot set headers).
func (g *WSGateway) authenticate(r *http.Request) (string, error) {
	if g.verifier == nil {
		return "", errors.New("no verifier configured")
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		h := strings.TrimSpace(r.Header.Get("Authorization"))
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		return "", errors.New("missing token")
	}

	userID, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("token resolved to empty user id")
	}
	return userID, nil
}

// ---- send helpers ----

// replyError maps a handler error to the wire taxonomy and emits it to the
// originating connection only.
func (g *WSGateway) replyError(client *Client, err error) {
	we := asWireError(err)
	g.sendErrorEvent(client, we.code, we.message, we.details)
}

func (g *WSGateway) sendErrorEvent(client *Client, code int, message, details string) {
	observeWireError(code)

	payload, _ := json.Marshal(v1.ErrorPayload{
		Code:    code,
		Message: message,
		Type:    "general",
		Details: details,
	})
	env := NewOutboundEnvelope(v1.TypeError, payload, time.Now().UTC())
	if !client.TryEnqueue(env) {
		metricFanoutDrops.Inc()
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from the allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

func nonZero(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
