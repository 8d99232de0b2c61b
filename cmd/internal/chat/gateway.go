package chat

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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "gymhub/shared/contracts/chat/v1"
)

const (
	wsSubprotocolV1 = "gymhub.chat.v1"

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

// Gateway is the WebSocket entrypoint for gymhub chat.
//
// It enforces origin policy, subprotocol selection, rate limits, and
// heartbeats, and routes validated envelopes to the Service. Identity mapping
// lives in the injected Registry, and message delivery goes through the
// injected Broadcaster, so the Gateway holds no global state.
//
// Failure contract: no event handler lets an error cross the transport
// boundary. Request/response events degrade to documented fallback payloads;
// message sends are logged and dropped.
type Gateway struct {
	log     *slog.Logger
	svc     *Service
	reg     *Registry
	bcast   Broadcaster
	metrics *Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
// Nil registry, broadcaster, or metrics fall back to local in-process defaults.
func NewGateway(log *slog.Logger, svc *Service, reg *Registry, bcast Broadcaster, metrics *Metrics) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if svc == nil {
		svc = NewService(log, NewInMemoryStore(), nil)
	}
	if reg == nil {
		reg = NewRegistry(log)
	}
	if bcast == nil {
		bcast = NewLocalBroadcaster(log, reg, metrics)
	}

	g := &Gateway{log: log, svc: svc, reg: reg, bcast: bcast, metrics: metrics}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("GYMHUB_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("GYMHUB_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("GYMHUB_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("GYMHUB_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("GYMHUB_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("GYMHUB_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("GYMHUB_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("GYMHUB_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("GYMHUB_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("GYMHUB_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the chat loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
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

	sessionID := NewSessionID(time.Now().UTC())
	client := NewClient(sessionID, g.sendQueueSize)

	if g.metrics != nil {
		g.metrics.SessionsActive.Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Delivery safety: client.Send remains open and identity removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if userID := client.UserID(); userID != "" {
				g.reg.Unregister(userID, sessionID)
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()

			if g.metrics != nil {
				g.metrics.SessionsActive.Dec()
			}
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

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
				g.trySendError(ctx, client, env.CorrID, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, env.CorrID, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, env.CorrID, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeRegister:
			g.onRegister(ctx, client, env)

		case v1.TypeUnregister:
			g.onUnregister(client, env)

		case v1.TypeMessageSend:
			g.onMessageSend(ctx, client, env, now)

		case v1.TypeHistoryFetch:
			g.onHistoryFetch(ctx, client, env)

		case v1.TypePartnersFetch:
			g.onPartnersFetch(ctx, client, env)

		case v1.TypeScopeRename:
			g.onScopeRename(ctx, client, env)

		default:
			g.trySendError(ctx, client, env.CorrID, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
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

// onRegister binds the connection to a user id. An absent or blank user id is
// ignored, matching the documented event contract.
func (g *Gateway) onRegister(ctx context.Context, client *Client, env v1.Envelope) {
	var p v1.RegisterPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.log.Info("ws.register.ignore", "session_id", client.SessionID, "err", err)
		return
	}

	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		g.log.Info("ws.register.ignore", "session_id", client.SessionID, "reason", "empty user_id")
		return
	}

	// Last registration wins for this connection; a previous binding is dropped.
	if prev := client.BindUser(userID); prev != "" && prev != userID {
		g.reg.Unregister(prev, client.SessionID)
	}
	g.reg.Register(userID, client)

	ackPayload, _ := json.Marshal(v1.RegisterAckPayload{UserID: userID, SessionID: client.SessionID})
	g.enqueue(ctx, client, newEnvelope(v1.TypeRegisterAck, env.CorrID, ackPayload, time.Now().UTC()))
}

// onUnregister removes the identity binding; the connection stays open.
func (g *Gateway) onUnregister(client *Client, env v1.Envelope) {
	var p v1.UnregisterPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return
	}

	userID := strings.TrimSpace(p.UserID)
	if userID == "" {
		return
	}

	g.reg.Unregister(userID, client.SessionID)
	client.UnbindUser(userID)
}

// onMessageSend stores the message and narrowcasts it to the live sessions of
// both participants. On any failure the event is logged and dropped; the
// sender receives no error notification.
func (g *Gateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope, now time.Time) {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.eventFailed("message_send", client, err)
		return
	}

	stored, err := g.svc.SendMessage(ctx, p.SenderID, p.RecipientID, p.Gym, p.Text)
	if err != nil {
		g.eventFailed("message_send", client, err)
		return
	}

	if g.metrics != nil {
		g.metrics.MessagesStored.Inc()
	}

	newPayload, _ := json.Marshal(v1.MessageNewPayload{
		Sender:      stored.Sender,
		RecipientID: strings.TrimSpace(p.RecipientID),
		Gym:         strings.TrimSpace(p.Gym),
		Text:        stored.Text,
		Timestamp:   stored.Timestamp,
	})
	delivery := newEnvelope(v1.TypeMessageNew, "", newPayload, now)

	g.bcast.Deliver(ctx, []string{p.SenderID, p.RecipientID}, delivery)
}

// onHistoryFetch answers with the ordered history, or an empty list when the
// lookup fails for any reason.
func (g *Gateway) onHistoryFetch(ctx context.Context, client *Client, env v1.Envelope) {
	corrID := env.CorrID

	var p v1.HistoryFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.eventFailed("history_fetch", client, err)
		g.respondHistory(ctx, client, corrID, nil)
		return
	}

	msgs, err := g.svc.GetHistory(ctx, p.UserA, p.UserB, p.Gym)
	if err != nil {
		g.eventFailed("history_fetch", client, err)
		g.respondHistory(ctx, client, corrID, nil)
		return
	}

	out := make([]v1.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, v1.HistoryMessage{Sender: m.Sender, Text: m.Text, Timestamp: m.Timestamp})
	}
	g.respondHistory(ctx, client, corrID, out)
}

// onPartnersFetch answers with the partner list, or an empty list on error.
func (g *Gateway) onPartnersFetch(ctx context.Context, client *Client, env v1.Envelope) {
	corrID := env.CorrID

	var p v1.PartnersFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.eventFailed("partners_fetch", client, err)
		g.respondPartners(ctx, client, corrID, nil)
		return
	}

	partners, err := g.svc.ListPartners(ctx, p.OwnerID, p.Gym)
	if err != nil {
		g.eventFailed("partners_fetch", client, err)
		g.respondPartners(ctx, client, corrID, nil)
		return
	}

	out := make([]v1.Partner, 0, len(partners))
	for _, pt := range partners {
		out = append(out, v1.Partner{UserID: pt.UserID, FirstName: pt.FirstName, LastName: pt.LastName})
	}
	g.respondPartners(ctx, client, corrID, out)
}

// onScopeRename answers {success,updated} and distinguishes "nothing matched"
// from an internal failure.
func (g *Gateway) onScopeRename(ctx context.Context, client *Client, env v1.Envelope) {
	corrID := env.CorrID

	var p v1.ScopeRenamePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		g.eventFailed("scope_rename", client, err)
		g.respondScopeRename(ctx, client, corrID, v1.ScopeRenameResultPayload{Success: false, Message: "internal error"})
		return
	}

	updated, err := g.svc.RenameGymScope(ctx, p.OwnerID, p.OldGym, p.NewGym)
	if err != nil {
		g.eventFailed("scope_rename", client, err)
		g.respondScopeRename(ctx, client, corrID, v1.ScopeRenameResultPayload{Success: false, Message: "internal error"})
		return
	}

	if updated == 0 {
		g.respondScopeRename(ctx, client, corrID, v1.ScopeRenameResultPayload{Success: false, Message: "no conversations found for this gym"})
		return
	}
	g.respondScopeRename(ctx, client, corrID, v1.ScopeRenameResultPayload{Success: true, Updated: updated})
}

// ---- send helpers ----

func (g *Gateway) respondHistory(ctx context.Context, client *Client, corrID string, msgs []v1.HistoryMessage) {
	if msgs == nil {
		msgs = []v1.HistoryMessage{}
	}
	payload, _ := json.Marshal(v1.HistoryChunkPayload{Messages: msgs})
	g.enqueue(ctx, client, newEnvelope(v1.TypeHistoryChunk, corrID, payload, time.Now().UTC()))
}

func (g *Gateway) respondPartners(ctx context.Context, client *Client, corrID string, partners []v1.Partner) {
	if partners == nil {
		partners = []v1.Partner{}
	}
	payload, _ := json.Marshal(v1.PartnersListPayload{Partners: partners})
	g.enqueue(ctx, client, newEnvelope(v1.TypePartnersList, corrID, payload, time.Now().UTC()))
}

func (g *Gateway) respondScopeRename(ctx context.Context, client *Client, corrID string, result v1.ScopeRenameResultPayload) {
	payload, _ := json.Marshal(result)
	g.enqueue(ctx, client, newEnvelope(v1.TypeScopeRenameResult, corrID, payload, time.Now().UTC()))
}

func (g *Gateway) eventFailed(event string, client *Client, err error) {
	if g.metrics != nil {
		g.metrics.HandlerFailures.WithLabelValues(event).Inc()
	}
	g.log.Warn("ws.event.fail", "event", event, "session_id", client.SessionID, "err", err)
}

func (g *Gateway) trySendError(ctx context.Context, client *Client, corrID, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, newEnvelope(v1.TypeError, corrID, p, time.Now().UTC()))
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		if g.metrics != nil {
			g.metrics.DeliveryDrops.Inc()
		}
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ, corrID string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		CorrID:  corrID,
		TS:      ts,
		Payload: payload,
	}
}

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
		return v1.Envelope{}, errBadJSON{err}
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

type errBadJSON struct{ err error }

func (e errBadJSON) Error() string { return e.err.Error() }
func (e errBadJSON) Unwrap() error { return e.err }

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bad errBadJSON
	if errors.As(err, &bad) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
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

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
