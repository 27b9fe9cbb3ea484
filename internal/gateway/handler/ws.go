package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"quorum/internal/gateway/run"
	"quorum/internal/gateway/service/chat"
	llmclient "quorum/internal/llm/client"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingEvery  = (wsPongWait * 9) / 10
	wsBufferSize = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

// Watch streams the session's run events and accepts send, cancel and ping
// messages.
// GET /api/sessions/{id}/ws
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, err := h.svc.Settings(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		h.logger.Printf("session ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	events, unsubscribe := h.svc.Broker().Subscribe(id, wsBufferSize)
	defer unsubscribe()

	writeCh := make(chan run.Event, wsBufferSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	pushWS(writeCh, run.Event{Type: run.EventSubscribed})

	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch msgType := strings.ToLower(strings.TrimSpace(in.Type)); msgType {
		case "ping":
			pushWS(writeCh, run.Event{Type: run.EventPong})
		case "send":
			// accepted, progress and the terminal event arrive through the broker
			if _, err := h.svc.Submit(ctx, id, in.Query); err != nil {
				pushWS(writeCh, errorEvent(err))
			}
		case "cancel":
			if _, err := h.svc.Cancel(ctx, id); err != nil {
				pushWS(writeCh, errorEvent(err))
			}
		case "":
			pushWS(writeCh, run.Event{Type: run.EventError, Code: "invalid_argument", Message: "type is required"})
		default:
			pushWS(writeCh, run.Event{Type: run.EventError, Code: "invalid_argument", Message: "unsupported type: " + msgType})
		}
	}
}

func errorEvent(err error) run.Event {
	return run.Event{Type: run.EventError, Code: chat.ErrorCode(err), Message: llmclient.ErrorMessage(err)}
}

// pushWS queues out, dropping the oldest queued message when full.
func pushWS(writeCh chan run.Event, out run.Event) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
