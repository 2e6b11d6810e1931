// Package gitrepo archives every accepted route revision as a commit of
// flight.ftml in a per-operation git repository.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mscolab/api/internal/apperr"
	"mscolab/api/internal/route"
)

const (
	routeFile      = "flight.ftml"
	revisionMarker = "revision: "
	mainBranch     = "main"
)

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Revision  int64     `json:"revision"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[int64]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[int64]*sync.Mutex),
	}
}

// CommitRevision records r as the given revision of the operation,
// initialising the repository on first use.
func (s *Service) CommitRevision(opID, revision int64, r route.Route, author, summary string) (CommitInfo, error) {
	lock := s.operationLock(opID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(opID)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := route.MarshalFTML(r)
	if err != nil {
		return CommitInfo{}, err
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), routeFile), payload, 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", routeFile, err)
	}
	if _, err := worktree.Add(routeFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add route: %w", err)
	}

	if summary == "" {
		summary = "Update flight route"
	}
	message := fmt.Sprintf("%s\n\n%s%d\n", summary, revisionMarker, revision)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@mscolab.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit route: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists archived revisions, newest first. An operation that was
// never archived has an empty history.
func (s *Service) History(opID int64, limit int) ([]CommitInfo, error) {
	lock := s.operationLock(opID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(opID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// RouteAt returns the route stored by the commit hash (full or abbreviated).
func (s *Service) RouteAt(opID int64, hash string) (route.Route, error) {
	lock := s.operationLock(opID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(opID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, apperr.InvalidReference("operation %d has no archive", opID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, apperr.InvalidReference("commit %s not found", hash)
	}
	file, err := commitObj.File(routeFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", routeFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open route reader: %w", err)
	}
	defer reader.Close()
	return route.DecodeFTML(reader)
}

func (s *Service) openOrInit(opID int64) (*git.Repository, error) {
	path := s.repoPath(opID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(mainBranch)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(opID int64) string {
	return filepath.Join(s.baseDir, strconv.FormatInt(opID, 10))
}

func (s *Service) operationLock(opID int64) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[opID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[opID] = lock
	return lock
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	summary, _, _ := strings.Cut(commitObj.Message, "\n")
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Revision:  revisionFromMessage(commitObj.Message),
		Message:   summary,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func revisionFromMessage(message string) int64 {
	for _, line := range strings.Split(message, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), revisionMarker); ok {
			n, err := strconv.ParseInt(rest, 10, 64)
			if err == nil {
				return n
			}
		}
	}
	return 0
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, apperr.InvalidReference("commit %s not found", hash)
	}
	return *resolved, nil
}
