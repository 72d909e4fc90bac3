package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/protocol"
	"github.com/ent0n29/hrdesk/internal/taskruntime"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
)

// handleSessionWS runs turns for one session over a websocket. Turn results
// arrive through the runtime subscription, so turns posted over HTTP for
// the same session are pushed to the socket too.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.runtime.Session(r.Context(), sessionID)
	if err != nil {
		respondErr(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.log.Info("websocket connected", "session_id", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.runtime.Subscribe(sessionID)
	defer unsubscribe()
	outbound := make(chan any, 256)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var batch []any
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				batch = eventMessages(evt)
			case msg := <-outbound:
				batch = []any{msg}
			}
			for _, msg := range batch {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSMessage("outbound", "write_error")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Writes stay single-threaded; drop when the queue is saturated.
			s.metrics.ObserveWSMessage("outbound", "drop_full")
		}
	}
	send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "connected", Detail: string(sess.Status().TaskStatus)})

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for ctx.Err() == nil {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(errorEvent(sessionID, "invalid_client_message", false, err))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		switch m := parsed.(type) {
		case protocol.ClientUtterance:
			if m.SessionID != sessionID {
				send(errorEvent(sessionID, "session_mismatch", false, errors.New("session_id does not match the connection")))
				continue
			}
			res, err := s.runtime.Turn(ctx, dialogue.TurnRequest{
				SessionID: sessionID,
				UserID:    m.UserID,
				TurnID:    m.TurnID,
				Utterance: m.Text,
			})
			switch {
			case err != nil && !errors.Is(err, dialogue.ErrStorageFailure):
				_, code := errorStatus(err)
				send(errorEvent(sessionID, code, errors.Is(err, dialogue.ErrSessionNotPersisted), err))
			case res.Replayed:
				for _, msg := range protocol.TurnMessages(res) {
					send(msg)
				}
			}
		case protocol.ClientControl:
			s.handleControl(ctx, sessionID, m, send)
		}
	}

	cancel()
	<-writerDone
	s.log.Info("websocket disconnected", "session_id", sessionID)
}

func (s *Server) handleControl(ctx context.Context, sessionID string, m protocol.ClientControl, send func(any)) {
	switch strings.ToLower(m.Action) {
	case protocol.ActionFlush:
		flushed, err := s.runtime.Flush(ctx, sessionID)
		if err != nil {
			_, code := errorStatus(err)
			send(errorEvent(sessionID, code, true, err))
			return
		}
		if !flushed {
			send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: sessionID, Code: "nothing_pending"})
		}
	case protocol.ActionStatus:
		sess, err := s.runtime.Session(ctx, sessionID)
		if err != nil {
			_, code := errorStatus(err)
			send(errorEvent(sessionID, code, false, err))
			return
		}
		send(protocol.TurnEnd{
			Type:      protocol.TypeTurnEnd,
			SessionID: sessionID,
			TurnID:    sess.LastTurnID,
			Persisted: !s.runtime.Pending(sessionID),
			Status:    sess.Status(),
		})
	default:
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "unsupported_control",
			Source:    "gateway",
			Detail:    "unsupported control action " + m.Action,
		})
	}
}

func eventMessages(evt taskruntime.Event) []any {
	switch evt.Type {
	case taskruntime.EventFlushed:
		return []any{protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: evt.SessionID,
			Code:      "flushed",
			Detail:    evt.Result.TurnID,
		}}
	default:
		return protocol.TurnMessages(evt.Result)
	}
}

func errorEvent(sessionID, code string, retryable bool, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Source:    "gateway",
		Retryable: retryable,
		Detail:    err.Error(),
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientUtterance:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.DirectiveMessage:
		return m.Type, true
	case protocol.TurnEnd:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
