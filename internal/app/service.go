// Package app exposes the collaboration services over HTTP and websocket.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/auth"
	"mscolab/api/internal/authpw"
	"mscolab/api/internal/blob"
	"mscolab/api/internal/chat"
	"mscolab/api/internal/config"
	"mscolab/api/internal/conflict"
	"mscolab/api/internal/hub"
	"mscolab/api/internal/logging"
	"mscolab/api/internal/operation"
	"mscolab/api/internal/search"
	"mscolab/api/internal/session"
	"mscolab/api/internal/store"
)

// Session is an authenticated caller.
type Session struct {
	Token     string    `json:"token,omitempty"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ExpiresAt time.Time `json:"expiresAt"`

	tokenID string
}

func (s Session) Actor() operation.Actor {
	return operation.Actor{UserID: s.UserID, Username: s.UserName}
}

// Deps are the infrastructure pieces NewService wires together.
type Deps struct {
	Store        store.Store
	Archive      operation.Archive
	Blobs        blob.Store
	SearchEngine search.Engine
	Bus          hub.Bus
	Revocations  session.Revocations
	Logger       logging.Logger
}

type Service struct {
	cfg      config.Config
	store    store.Store
	ops      *operation.Service
	chat     *chat.Service
	conflict *conflict.Engine
	hub      *hub.Hub
	accounts *authpw.Service
	search   *search.Service
	revoked  session.Revocations
	logger   logging.Logger

	socketsMu sync.Mutex
	sockets   map[string]map[*hub.Session]struct{}
}

func NewService(cfg config.Config, deps Deps) *Service {
	logger := logging.OrNop(deps.Logger)
	ops := operation.NewService(deps.Store, deps.Archive, nil, logger)
	rooms := hub.New(ops, deps.Bus, logger)
	ops.SetRooms(rooms)

	index := search.NewService(deps.SearchEngine, search.NewStoreSearcher(deps.Store), logger)

	chatSvc := chat.NewService(deps.Store, ops, rooms, deps.Blobs, index, logger)
	chatSvc.SetMaxUploadBytes(cfg.MaxUploadBytes)

	revocations := deps.Revocations
	if revocations == nil {
		revocations = session.NewMemoryStore()
	}

	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		ops:      ops,
		chat:     chatSvc,
		conflict: conflict.NewEngine(ops, logger),
		hub:      rooms,
		accounts: authpw.NewService(deps.Store),
		search:   index,
		revoked:  revocations,
		logger:   logger,
		sockets:  map[string]map[*hub.Session]struct{}{},
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Operations() *operation.Service { return s.ops }
func (s *Service) Chat() *chat.Service            { return s.chat }
func (s *Service) Conflict() *conflict.Engine     { return s.conflict }
func (s *Service) Hub() *hub.Hub                  { return s.hub }
func (s *Service) Search() *search.Service        { return s.search }

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (Session, error) {
	user, err := s.accounts.Register(ctx, req)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", "user", user.ID)
	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issue(user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), strings.TrimSpace(token))
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.revoked.Revoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		UserID:    claims.Subject,
		UserName:  claims.Name,
		ExpiresAt: claims.ExpiresAt.Time,
		tokenID:   claims.ID,
	}, nil
}

// Logout revokes the token the session was opened with.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.tokenID == "" {
		return nil
	}
	if err := s.revoked.Revoke(ctx, session.tokenID, session.ExpiresAt); err != nil {
		return err
	}
	closed := s.closeSockets(session.tokenID)
	s.logger.Info("user logged out", "user", session.UserID, "sockets", closed)
	return nil
}

// Recheck fails with Unauthorized once the session's token was revoked,
// possibly by another instance.
func (s *Service) Recheck(ctx context.Context, session Session) error {
	if session.tokenID == "" {
		return nil
	}
	revoked, err := s.revoked.Revoked(ctx, session.tokenID)
	if err != nil {
		return fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return apperr.New(apperr.KindUnauthorized, "session was logged out")
	}
	return nil
}

// CloseSockets closes every live websocket. It is meant for server
// shutdown, which does not reach hijacked connections.
func (s *Service) CloseSockets() {
	if n := s.hub.CloseAll(); n > 0 {
		s.logger.Info("closed live sockets", "count", n)
	}
}

// trackSocket remembers which token opened hs so logout can close it.
func (s *Service) trackSocket(tokenID string, hs *hub.Session) (untrack func()) {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	if s.sockets[tokenID] == nil {
		s.sockets[tokenID] = map[*hub.Session]struct{}{}
	}
	s.sockets[tokenID][hs] = struct{}{}
	return func() {
		s.socketsMu.Lock()
		defer s.socketsMu.Unlock()
		delete(s.sockets[tokenID], hs)
		if len(s.sockets[tokenID]) == 0 {
			delete(s.sockets, tokenID)
		}
	}
}

func (s *Service) closeSockets(tokenID string) int {
	s.socketsMu.Lock()
	defer s.socketsMu.Unlock()
	for hs := range s.sockets[tokenID] {
		hs.Close()
	}
	return len(s.sockets[tokenID])
}

func (s *Service) issue(user store.User) (Session, error) {
	claims := auth.NewClaims(user.ID, user.DisplayName, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		ExpiresAt: claims.ExpiresAt.Time,
		tokenID:   claims.ID,
	}, nil
}
