package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/auth"
	"mscolab/api/internal/authpw"
	"mscolab/api/internal/chat"
	"mscolab/api/internal/conflict"
	"mscolab/api/internal/operation"
	"mscolab/api/internal/rbac"
	"mscolab/api/internal/route"
	"mscolab/api/internal/store"
	"mscolab/api/internal/util"
)

// legacyTimeLayout is the "since" format older clients send.
const legacyTimeLayout = "2006-01-02, 15:04:05"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		sendBuffer: service.cfg.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(s.routes())
}

type authedHandler func(w http.ResponseWriter, r *http.Request, session Session)

type operationHandler func(w http.ResponseWriter, r *http.Request, session Session, opID int64)

func (s *HTTPServer) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/auth/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", s.authed(s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/api/session", s.authed(s.handleSession)).Methods(http.MethodGet)

	r.HandleFunc("/api/operations", s.authed(s.handleListOperations)).Methods(http.MethodGet)
	r.HandleFunc("/api/operations", s.authed(s.handleCreateOperation)).Methods(http.MethodPost)

	op := func(p string, h operationHandler, methods ...string) {
		r.HandleFunc("/api/operations/{id:[0-9]+}"+p, s.authed(s.withOperation(h))).Methods(methods...)
	}
	op("", s.handleGetOperation, http.MethodGet)
	op("/revision", s.handleGetRevision, http.MethodGet)
	op("/route", s.handleUpdateRoute, http.MethodPut)
	op("/route/invert", s.handleInvertRoute, http.MethodPost)
	op("/route/hexagon", s.handleInsertHexagon, http.MethodPost)
	op("/route/hexagon/{index:[0-9]+}", s.handleRemoveHexagon, http.MethodDelete)
	op("/resolve", s.handleResolve, http.MethodPost)
	op("/ftml", s.handleFTML, http.MethodGet)
	op("/history", s.handleHistory, http.MethodGet)
	op("/history/{hash:[0-9a-f]{4,40}}", s.handleRouteAt, http.MethodGet)
	op("/history/{hash:[0-9a-f]{4,40}}/restore", s.handleRestore, http.MethodPost)
	op("/permissions", s.handleListPermissions, http.MethodGet)
	op("/permissions", s.handleGrant, http.MethodPost)
	op("/permissions", s.handleRevoke, http.MethodDelete)
	op("/messages", s.handleListMessages, http.MethodGet)
	op("/messages", s.handlePostMessage, http.MethodPost)
	op("/attachments", s.handleUpload, http.MethodPost)
	op("/search", s.handleSearch, http.MethodGet)

	r.HandleFunc("/api/attachments/{key:.+}", s.authed(s.handleGetAttachment)).Methods(http.MethodGet)

	r.HandleFunc("/messages", s.authed(s.handleLegacyMessages)).Methods(http.MethodGet)
	r.HandleFunc("/message_attachment", s.authed(s.handleLegacyUpload)).Methods(http.MethodPost)

	r.HandleFunc("/ws", s.handleSocket).Methods(http.MethodGet)
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body authpw.RegisterRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Register(r.Context(), body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.Logout(r.Context(), session); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, _ *http.Request, session Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"userName":      session.UserName,
		"expiresAt":     session.ExpiresAt,
	})
}

func (s *HTTPServer) handleListOperations(w http.ResponseWriter, r *http.Request, session Session) {
	ops, err := s.service.ops.List(r.Context(), session.Actor())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (s *HTTPServer) handleCreateOperation(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Path        string      `json:"path"`
		Description string      `json:"description"`
		Category    string      `json:"category"`
		Route       route.Route `json:"route"`
		FTML        string      `json:"ftml"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	in := operation.CreateInput{
		Path:        body.Path,
		Description: body.Description,
		Category:    body.Category,
		Route:       body.Route,
	}
	if body.FTML != "" {
		parsed, err := route.UnmarshalFTML([]byte(body.FTML))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		in.Route = parsed
	}
	op, err := s.service.ops.Create(r.Context(), session.Actor(), in)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"operation": op})
}

func (s *HTTPServer) handleGetOperation(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	op, err := s.service.ops.Get(r.Context(), session.Actor(), opID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	level, err := s.service.ops.AccessLevel(r.Context(), session.UserID, opID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operation": store.OperationAccess{Operation: op, Level: level}})
}

func (s *HTTPServer) handleGetRevision(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	rev, err := s.service.ops.Current(r.Context(), session.Actor(), opID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *HTTPServer) handleUpdateRoute(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	var body struct {
		Route   route.Route `json:"route"`
		Summary string      `json:"summary"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rev, err := s.service.ops.Commit(r.Context(), session.Actor(), opID, body.Route, body.Summary)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *HTTPServer) handleInvertRoute(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	rev, err := s.service.ops.Invert(r.Context(), session.Actor(), opID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *HTTPServer) handleInsertHexagon(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	var body struct {
		After int `json:"after"`
		route.HexagonParams
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	rev, err := s.service.ops.InsertHexagon(r.Context(), session.Actor(), opID, body.After, body.HexagonParams)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *HTTPServer) handleRemoveHexagon(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", "invalid waypoint index", nil)
		return
	}
	rev, err := s.service.ops.RemoveHexagon(r.Context(), session.Actor(), opID, index)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

type resolveRequest struct {
	Strategy     string      `json:"strategy"`
	BaseRevision int64       `json:"baseRevision"`
	Route        route.Route `json:"route"`
}

func (s *HTTPServer) handleResolve(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	var body resolveRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.resolve(r.Context(), session, opID, body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) resolve(ctx context.Context, session Session, opID int64, body resolveRequest) (conflict.Result, error) {
	strategy, err := conflict.ParseStrategy(body.Strategy)
	if err != nil {
		return conflict.Result{}, err
	}
	wc := conflict.WorkingCopy{OpID: opID, BaseRevision: body.BaseRevision, Route: body.Route}
	return s.service.conflict.Resolve(ctx, session.Actor(), opID, strategy, wc)
}

func (s *HTTPServer) handleFTML(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	data, rev, err := s.service.ops.FTML(r.Context(), session.Actor(), opID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="operation-%d.ftml"`, opID))
	w.Header().Set("X-Revision", strconv.FormatInt(rev.Revision, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	commits, err := s.service.ops.History(r.Context(), session.Actor(), opID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
}

func (s *HTTPServer) handleRouteAt(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	hash := mux.Vars(r)["hash"]
	rt, err := s.service.ops.RouteAt(r.Context(), session.Actor(), opID, hash)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hash": hash, "route": rt})
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	rev, err := s.service.ops.Restore(r.Context(), session.Actor(), opID, mux.Vars(r)["hash"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *HTTPServer) handleListPermissions(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	perms, err := s.service.ops.Permissions(r.Context(), session.Actor(), opID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (s *HTTPServer) handleGrant(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	var body struct {
		UserID string `json:"userId"`
		Level  string `json:"accessLevel"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	level := rbac.Parse(strings.TrimSpace(body.Level))
	if err := s.service.ops.Grant(r.Context(), session.Actor(), opID, strings.TrimSpace(body.UserID), level); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRevoke(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		userID = strings.TrimSpace(body.UserID)
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "userId is required", nil)
		return
	}
	if err := s.service.ops.Revoke(r.Context(), session.Actor(), opID, userID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	since, err := parseSince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", err.Error(), nil)
		return
	}
	msgs, err := s.service.chat.List(r.Context(), session.Actor(), opID, since)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *HTTPServer) handleLegacyMessages(w http.ResponseWriter, r *http.Request, session Session) {
	opID, err := strconv.ParseInt(formValue(r, "op_id"), 10, 64)
	if err != nil || opID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "op_id is required", nil)
		return
	}
	s.handleListMessages(w, r, session, opID)
}

func (s *HTTPServer) handlePostMessage(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	var body chat.PostInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	body.OpID = opID
	msg, err := s.service.chat.Post(r.Context(), session.Actor(), body)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	s.upload(w, r, session, opID)
}

func (s *HTTPServer) handleLegacyUpload(w http.ResponseWriter, r *http.Request, session Session) {
	opID, err := strconv.ParseInt(r.FormValue("op_id"), 10, 64)
	if err != nil || opID <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "op_id is required", nil)
		return
	}
	s.upload(w, r, session, opID)
}

func (s *HTTPServer) upload(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	if r.MultipartForm == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file is required", nil)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	msgType := store.MessageDocument
	if strings.HasPrefix(contentType, "image/") {
		msgType = store.MessageImage
	}
	if raw := strings.TrimSpace(r.FormValue("message_type")); raw != "" {
		parsed, err := store.ParseMessageType(raw)
		if err != nil {
			s.writeDomainError(w, apperr.MalformedInput("%v", err))
			return
		}
		msgType = parsed
	}

	msg, err := s.service.chat.Attach(r.Context(), session.Actor(), chat.AttachInput{
		OpID:        opID,
		Type:        msgType,
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg, "path": "/api/attachments/" + msg.Attachment})
}

func (s *HTTPServer) handleGetAttachment(w http.ResponseWriter, r *http.Request, session Session) {
	key := mux.Vars(r)["key"]
	body, info, err := s.service.chat.OpenAttachment(r.Context(), session.Actor(), key)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, path.Base(key)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		s.service.logger.Warn("stream attachment", "key", key, "error", err)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, opID int64) {
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	resp, err := s.service.chat.Search(r.Context(), session.Actor(), opID, r.URL.Query().Get("q"), limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// authed resolves the caller's token before calling h. Form bodies are
// parsed first so the token may also come from a form field.
func (s *HTTPServer) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			limit := s.service.chat.MaxUploadBytes()
			r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
			if err := r.ParseMultipartForm(limit); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "upload too large", nil)
					return
				}
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
				return
			}
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
			if err := parseFormBody(w, r); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid form body", nil)
				return
			}
		}
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		h(w, r, session)
	}
}

func (s *HTTPServer) withOperation(h operationHandler) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, session Session) {
		opID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil || opID <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_PATH", "invalid operation id", nil)
			return
		}
		h(w, r, session, opID)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.logger.Error("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		s.service.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// requestToken looks for the token in the Authorization header, then the
// query string, then an already parsed form.
func requestToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if r.MultipartForm != nil || r.PostForm != nil {
		return strings.TrimSpace(r.PostFormValue("token"))
	}
	return ""
}

// parseFormBody fills r.Form and r.PostForm from a urlencoded body on any
// method. net/http only reads the body for POST, PUT and PATCH, and older
// clients send their GET parameters there.
func parseFormBody(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return err
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return nil
	}
	if r.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return err
	}
	for key, vs := range values {
		r.PostForm[key] = append(r.PostForm[key], vs...)
		r.Form[key] = append(vs, r.Form[key]...)
	}
	return nil
}

// formValue reads key from the parsed form, which includes the query,
// or from the query alone when no form was parsed.
func formValue(r *http.Request, key string) string {
	if r.Form != nil {
		return strings.TrimSpace(r.Form.Get(key))
	}
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// parseSince reads "since" (or the older "timestamp") from the query or form.
func parseSince(r *http.Request) (time.Time, error) {
	raw := formValue(r, "since")
	if raw == "" {
		raw = formValue(r, "timestamp")
	}
	return parseTimestamp(raw)
}

// parseTimestamp accepts RFC 3339 or the legacy "2006-01-02, 15:04:05" UTC
// layout. Empty means the zero time, i.e. the full history.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, legacyTimeLayout, "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid since timestamp %q", raw)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("invalid %s", key), nil)
		return 0, false
	}
	return n, true
}
