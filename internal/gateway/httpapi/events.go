package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/procward/internal/protocol"
	"github.com/jkaninda/procward/internal/session"
)

const (
	eventsSubprotocol = "procward-events-v1"
	writeTimeout      = 5 * time.Second
)

// handleEvents upgrades GET /v1/events to a WebSocket carrying session
// events as protocol envelopes. The API key may be sent as a bearer
// header or as the token query parameter.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if !g.validKey(token) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{eventsSubprotocol},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	if m := g.config.Metrics; m != nil {
		m.EventStreams.Inc()
		defer m.EventStreams.Dec()
	}
	g.stream(r.Context(), conn)
}

// stream pumps events until the client leaves or the session closes.
func (g *Gateway) stream(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := g.sess.Subscribe(g.config.EventBuffer)
	defer unsubscribe()

	var (
		filterMu sync.Mutex
		filter   *protocol.Filter
	)

	st := g.sess.Status()
	hello, _ := protocol.NewEnvelope(protocol.MsgHello, protocol.Hello{
		SessionID:      st.ID.String(),
		Process:        st.Process,
		NetworkBlocked: st.NetworkBlocked,
		Cores:          st.Cores,
	})
	hello.SessionID = st.ID.String()
	if err := writeEnvelope(ctx, conn, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return
	}

	// Reader: ping and filter messages from the client.
	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
					g.logger.Debug("event stream read ended", slog.String("error", err.Error()))
				}
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				g.replyError(ctx, conn, "bad_message", "message is not a JSON envelope")
				continue
			}
			switch env.Type {
			case protocol.MsgPing:
				pong, _ := protocol.NewEnvelope(protocol.MsgPong, nil)
				_ = writeEnvelope(ctx, conn, pong)
			case protocol.MsgFilter:
				var f protocol.Filter
				if err := env.Decode(&f); err != nil {
					g.replyError(ctx, conn, "bad_filter", err.Error())
					continue
				}
				filterMu.Lock()
				filter = &f
				filterMu.Unlock()
			default:
				g.replyError(ctx, conn, "unknown_type", "unsupported message type "+string(env.Type))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			env := toEnvelope(st.ID.String(), ev)
			filterMu.Lock()
			wanted := filter.Wants(env.Type)
			filterMu.Unlock()
			if !wanted {
				continue
			}
			if err := writeEnvelope(ctx, conn, env); err != nil {
				g.logger.Debug("event stream write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (g *Gateway) replyError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	env, _ := protocol.NewEnvelope(protocol.MsgError, protocol.ErrorPayload{Code: code, Message: msg})
	_ = writeEnvelope(ctx, conn, env)
}

// toEnvelope converts a session event. The envelope keeps the event ID and
// time so clients can deduplicate.
func toEnvelope(sessionID string, ev session.Event) *protocol.Envelope {
	var (
		typ     protocol.MessageType
		payload any
	)
	switch ev.Type {
	case session.EventSystemSample:
		typ, payload = protocol.MsgSystemSample, ev.System
	case session.EventProcessSample:
		typ, payload = protocol.MsgProcessSample, ev.Process
	default:
		typ, payload = protocol.MsgOutputLine, protocol.OutputLine{Line: ev.Line}
	}
	raw, _ := json.Marshal(payload)
	return &protocol.Envelope{
		Type:      typ,
		ID:        ev.ID.String(),
		SessionID: sessionID,
		Payload:   raw,
		Timestamp: ev.Time.UTC(),
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
