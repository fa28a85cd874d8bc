// Package gitrepo keeps the generated public site artifacts in a git
// repository and optionally pushes them to a remote.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

const remoteName = "origin"

var (
	ErrNoCommits    = errors.New("gitrepo: no commits yet")
	ErrInvalidPath  = errors.New("gitrepo: invalid artifact path")
	ErrFileNotFound = errors.New("gitrepo: file not in head commit")
)

type Options struct {
	Branch      string
	RemoteURL   string
	Username    string
	Token       string
	AuthorName  string
	AuthorEmail string
}

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// File is one artifact written at Path relative to the repository root.
type File struct {
	Path string
	Data []byte
}

type Service struct {
	dir  string
	opts Options
	mu   sync.Mutex
}

func New(dir string, opts Options) *Service {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.AuthorName == "" {
		opts.AuthorName = "Marketplace"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = fmt.Sprintf("%s@local.marketplace.dev", sanitizeEmail(opts.AuthorName))
	}
	return &Service{dir: dir, opts: opts}
}

func (s *Service) Dir() string {
	return s.dir
}

// Publish writes files and commits them on the configured branch. When the
// tree is unchanged no commit is made and changed is false.
func (s *Service) Publish(ctx context.Context, files []File, message string) (commit Commit, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return Commit{}, false, err
	}
	if err := checkoutBranch(repo, s.opts.Branch); err != nil {
		return Commit{}, false, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, false, fmt.Errorf("open worktree: %w", err)
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return Commit{}, false, err
		}
		rel, err := cleanPath(file.Path)
		if err != nil {
			return Commit{}, false, err
		}
		target := filepath.Join(s.dir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Commit{}, false, fmt.Errorf("create dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, file.Data, 0o644); err != nil {
			return Commit{}, false, fmt.Errorf("write %s: %w", rel, err)
		}
		if _, err := worktree.Add(filepath.ToSlash(rel)); err != nil {
			return Commit{}, false, fmt.Errorf("git add %s: %w", rel, err)
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return Commit{}, false, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := s.head(repo)
		if errors.Is(err, ErrNoCommits) {
			return Commit{}, false, nil
		}
		return head, false, err
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.opts.AuthorName,
			Email: s.opts.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return Commit{}, false, fmt.Errorf("commit artifacts: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), true, nil
}

// Push sends the branch to the configured remote. Without a remote it does
// nothing.
func (s *Service) Push(ctx context.Context) error {
	if s.opts.RemoteURL == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return err
	}
	if err := s.ensureRemote(repo); err != nil {
		return err
	}
	branch := plumbing.NewBranchReferenceName(s.opts.Branch)
	pushOpts := &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("%s:%s", branch, branch))},
	}
	if s.opts.Token != "" {
		pushOpts.Auth = &githttp.BasicAuth{Username: s.opts.Username, Password: s.opts.Token}
	}
	err = repo.PushContext(ctx, pushOpts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push %s: %w", s.opts.Branch, err)
	}
	return nil
}

// ReadFile returns the committed content of path at the branch head.
func (s *Service) ReadFile(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	commitObj, err := s.headObject(repo)
	if err != nil {
		return nil, err
	}
	file, err := commitObj.File(filepath.ToSlash(rel))
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", rel, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// History lists up to limit commits of the branch, newest first. A branch
// without commits yields an empty list.
func (s *Service) History(limit int) ([]Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(s.opts.Branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", s.opts.Branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
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

// open opens the repository, initialising it on first use.
func (s *Service) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(s.dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(s.opts.Branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", s.opts.Branch, err)
	}
	return repo, nil
}

func (s *Service) ensureRemote(repo *git.Repository) error {
	remote, err := repo.Remote(remoteName)
	if err == nil {
		urls := remote.Config().URLs
		if len(urls) > 0 && urls[0] == s.opts.RemoteURL {
			return nil
		}
		if err := repo.DeleteRemote(remoteName); err != nil {
			return fmt.Errorf("replace remote: %w", err)
		}
	} else if !errors.Is(err, git.ErrRemoteNotFound) {
		return fmt.Errorf("read remote: %w", err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: remoteName, URLs: []string{s.opts.RemoteURL}}); err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	return nil
}

func (s *Service) head(repo *git.Repository) (Commit, error) {
	commitObj, err := s.headObject(repo)
	if err != nil {
		return Commit{}, err
	}
	return toCommit(commitObj), nil
}

func (s *Service) headObject(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(s.opts.Branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNoCommits
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", s.opts.Branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn branch: HEAD already points at it.
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}
	head, err := repo.Head()
	if err == nil && head.Name() == branchRef {
		return nil
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func cleanPath(path string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if rel == "." || rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) ||
		rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w %q", ErrInvalidPath, path)
	}
	return rel, nil
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "site"
	}
	return string(out)
}
