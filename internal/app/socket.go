package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/chat"
	"mscolab/api/internal/hub"
	"mscolab/api/internal/route"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Inbound event names.
const (
	eventConnect        = "connect"
	eventJoinOperation  = "join-operation"
	eventLeaveOperation = "leave-operation"
	eventChatMessage    = "chat-message"
	eventEditMessage    = "edit-message"
	eventDeleteMessage  = "delete-message"
	eventListMessages   = "list-messages"
	eventGetRevision    = "get-revision"
	eventResolve        = "resolve"
	eventUpdateRoute    = "update-route"
	eventAck            = "ack"
)

type inboundFrame struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

type ackFrame struct {
	Event string     `json:"event"`
	ID    string     `json:"id"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

// socketConn is one upgraded websocket. Requests are handled one at a
// time in arrival order; acks and room events share the writer goroutine.
type socketConn struct {
	server  *HTTPServer
	conn    *websocket.Conn
	session Session
	hub     *hub.Session
	acks    chan []byte
	stopped chan struct{}
}

func (s *HTTPServer) handleSocket(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.service.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hs := hub.NewSession(session.UserID, session.UserName, s.sendBuffer)
	c := &socketConn{
		server:  s,
		conn:    conn,
		session: session,
		hub:     hs,
		acks:    make(chan []byte, 16),
		stopped: make(chan struct{}),
	}
	untrack := s.service.trackSocket(session.tokenID, hs)
	defer untrack()
	rooms := s.service.hub
	rooms.Connect(hs)
	rooms.Send(hs, hub.MustEvent(hub.EventConnected, 0, map[string]string{
		"sessionId": hs.ID,
		"userId":    session.UserID,
	}))

	go c.writePump()
	c.readPump()

	rooms.Disconnect(context.Background(), hs.ID)
	<-c.stopped
}

func (c *socketConn) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.service.logger.Warn("websocket read failed", "session", c.hub.ID, "error", err)
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.ack(ackFrame{OK: false, Error: toWireError(apperr.MalformedInput("invalid frame"))})
				continue
			}
			return
		}
		c.handle(frame)
	}
}

func (c *socketConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.stopped)
	}()

	write := func(frame []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(websocket.TextMessage, frame) == nil
	}

	for {
		select {
		case frame := <-c.acks:
			if !write(frame) {
				return
			}
		case frame := <-c.hub.Outbound():
			if !write(frame) {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.hub.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *socketConn) ack(frame ackFrame) {
	frame.Event = eventAck
	payload, err := json.Marshal(frame)
	if err != nil {
		c.server.service.logger.Error("marshal ack", "event", frame.ID, "error", err)
		return
	}
	select {
	case c.acks <- payload:
	case <-c.stopped:
	}
}

func (c *socketConn) handle(frame inboundFrame) {
	ctx := context.Background()
	data, err := c.dispatch(ctx, frame)
	if err != nil {
		if apperr.KindOf(err) == "" {
			c.server.service.logger.Error("websocket request failed", "event", frame.Event, "session", c.hub.ID, "error", err)
		}
		c.ack(ackFrame{ID: frame.ID, OK: false, Error: toWireError(err)})
		return
	}
	c.ack(ackFrame{ID: frame.ID, OK: true, Data: data})
}

type opRequest struct {
	OpID int64 `json:"opId"`
}

type messageRequest struct {
	OpID      int64  `json:"opId"`
	MessageID int64  `json:"messageId"`
	Text      string `json:"text"`
}

type listRequest struct {
	OpID  int64  `json:"opId"`
	Since string `json:"since"`
}

type routeRequest struct {
	OpID    int64       `json:"opId"`
	Route   route.Route `json:"route"`
	Summary string      `json:"summary"`
}

type socketResolveRequest struct {
	OpID int64 `json:"opId"`
	resolveRequest
}

func (c *socketConn) dispatch(ctx context.Context, frame inboundFrame) (any, error) {
	svc := c.server.service
	actor := c.session.Actor()

	switch frame.Event {
	case eventConnect:
		if err := svc.Recheck(ctx, c.session); err != nil {
			return nil, err
		}
		ops, err := svc.ops.List(ctx, actor)
		if err != nil {
			return nil, err
		}
		joined := make([]int64, 0, len(ops))
		for _, op := range ops {
			if _, err := svc.hub.Join(ctx, c.hub, op.ID); err != nil {
				// Access may have been revoked since the listing.
				if errors.Is(err, apperr.ErrPermissionDenied) || errors.Is(err, apperr.ErrInvalidReference) {
					continue
				}
				return nil, err
			}
			joined = append(joined, op.ID)
		}
		return map[string]any{"sessionId": c.hub.ID, "joined": joined}, nil

	case eventJoinOperation:
		var req opRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		if err := svc.Recheck(ctx, c.session); err != nil {
			return nil, err
		}
		level, err := svc.hub.Join(ctx, c.hub, req.OpID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"opId": req.OpID, "accessLevel": level}, nil

	case eventLeaveOperation:
		var req opRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		return map[string]any{"opId": req.OpID, "left": svc.hub.Leave(ctx, c.hub.ID, req.OpID)}, nil

	case eventChatMessage:
		var req chat.PostInput
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		return svc.chat.Post(ctx, actor, req)

	case eventEditMessage:
		var req messageRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		return svc.chat.Edit(ctx, actor, req.OpID, req.MessageID, req.Text)

	case eventDeleteMessage:
		var req messageRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		if err := svc.chat.Delete(ctx, actor, req.OpID, req.MessageID); err != nil {
			return nil, err
		}
		return chat.Deleted{OpID: req.OpID, ID: req.MessageID}, nil

	case eventListMessages:
		var req listRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		since, err := parseTimestamp(req.Since)
		if err != nil {
			return nil, apperr.MalformedInput("%v", err)
		}
		msgs, err := svc.chat.List(ctx, actor, req.OpID, since)
		if err != nil {
			return nil, err
		}
		return map[string]any{"messages": msgs}, nil

	case eventGetRevision:
		var req opRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		return svc.ops.Current(ctx, actor, req.OpID)

	case eventResolve:
		var req socketResolveRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		return c.server.resolve(ctx, c.session, req.OpID, req.resolveRequest)

	case eventUpdateRoute:
		var req routeRequest
		if err := decodeFrame(frame, &req); err != nil {
			return nil, err
		}
		return svc.ops.Commit(ctx, actor, req.OpID, req.Route, req.Summary)

	default:
		return nil, apperr.MalformedInput("unknown event %q", frame.Event)
	}
}

func decodeFrame(frame inboundFrame, target any) error {
	if len(frame.Data) == 0 || bytes.Equal(frame.Data, []byte("null")) {
		return apperr.MalformedInput("%s requires data", frame.Event)
	}
	if err := json.Unmarshal(frame.Data, target); err != nil {
		return apperr.MalformedInput("invalid %s data: %v", frame.Event, err)
	}
	return nil
}
