// Package gitrepo keeps a git history of every rule set published for a
// provider, one repository per provider.
package gitrepo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const ruleSetFile = "provider.json"

var ErrNoHistory = errors.New("provider has no published history")

type Commit struct {
	Hash      string    `json:"hash"`
	FullHash  string    `json:"fullHash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type PublishResult struct {
	Commit    Commit `json:"commit"`
	Unchanged bool   `json:"unchanged"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Publish commits ruleSet as the provider's new head. Publishing a rule set
// identical to the head returns the head commit with Unchanged set.
func (s *Service) Publish(providerID string, ruleSet json.RawMessage, author, message string) (PublishResult, error) {
	normalized, err := normalize(ruleSet)
	if err != nil {
		return PublishResult{}, err
	}

	lock := s.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(providerID)
	if err != nil {
		return PublishResult{}, err
	}

	if head, err := headCommit(repo); err == nil {
		current, err := readRuleSet(head)
		if err != nil {
			return PublishResult{}, err
		}
		previous, _ := normalize(current)
		if bytes.Equal(previous, normalized) {
			return PublishResult{Commit: toCommit(head), Unchanged: true}, nil
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return PublishResult{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return PublishResult{}, fmt.Errorf("open worktree: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, normalized, "", "  "); err != nil {
		return PublishResult{}, fmt.Errorf("format rule set: %w", err)
	}
	pretty.WriteByte('\n')
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), ruleSetFile), pretty.Bytes(), 0o644); err != nil {
		return PublishResult{}, fmt.Errorf("write %s: %w", ruleSetFile, err)
	}
	if _, err := worktree.Add(ruleSetFile); err != nil {
		return PublishResult{}, fmt.Errorf("git add rule set: %w", err)
	}
	if message == "" {
		message = "Publish provider " + providerID
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@providers.cord.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return PublishResult{}, fmt.Errorf("commit rule set: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return PublishResult{}, fmt.Errorf("read commit object: %w", err)
	}
	return PublishResult{Commit: toCommit(commitObj)}, nil
}

func (s *Service) History(providerID string, limit int) ([]Commit, error) {
	lock := s.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(providerID)
	if errors.Is(err, ErrNoHistory) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
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

// GetByHash returns the rule set committed at hash, which may be abbreviated.
func (s *Service) GetByHash(providerID, hash string) (json.RawMessage, Commit, error) {
	lock := s.providerLock(providerID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(providerID)
	if err != nil {
		return nil, Commit{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, Commit{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, Commit{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	ruleSet, err := readRuleSet(commitObj)
	if err != nil {
		return nil, Commit{}, err
	}
	return ruleSet, toCommit(commitObj), nil
}

func (s *Service) repoPath(providerID string) string {
	return filepath.Join(s.baseDir, providerID)
}

func (s *Service) providerLock(providerID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[providerID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[providerID] = lock
	return lock
}

func (s *Service) open(providerID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(providerID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(providerID string) (*git.Repository, error) {
	repo, err := s.open(providerID)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, ErrNoHistory) {
		return nil, err
	}
	path := s.repoPath(providerID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.Main, true)
	if err != nil {
		return nil, err
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readRuleSet(commitObj *object.Commit) (json.RawMessage, error) {
	file, err := commitObj.File(ruleSetFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", ruleSetFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open rule set reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read rule set bytes: %w", err)
	}
	return json.RawMessage(bytes.TrimSpace(raw)), nil
}

func toCommit(commitObj *object.Commit) Commit {
	full := commitObj.Hash.String()
	return Commit{
		Hash:      full[:7],
		FullHash:  full,
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
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
		return "provider"
	}
	return string(out)
}

// normalize re-encodes JSON so key order and whitespace do not count as
// changes.
func normalize(raw json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("rule set is empty")
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode rule set: %w", err)
	}
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("encode rule set: %w", err)
	}
	return normalized, nil
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
