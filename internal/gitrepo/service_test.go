package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

func TestPublishCommitsOnlyChanges(t *testing.T) {
	svc := New(t.TempDir(), Options{})
	ctx := context.Background()

	if _, err := svc.ReadFile("sitemap.xml"); !errors.Is(err, ErrNoCommits) {
		t.Fatalf("expected ErrNoCommits before first publish, got %v", err)
	}
	if history, err := svc.History(10); err != nil || len(history) != 0 {
		t.Fatalf("expected empty history before first publish, got %v %v", history, err)
	}

	first, changed, err := svc.Publish(ctx, []File{{Path: "sitemap.xml", Data: []byte("<urlset/>")}}, "Regenerate sitemap")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !changed || first.Hash == "" {
		t.Fatalf("expected first publish to commit, got changed=%v commit=%+v", changed, first)
	}
	if first.Author != "Marketplace" || first.Message != "Regenerate sitemap" {
		t.Fatalf("unexpected commit metadata: %+v", first)
	}

	again, changed, err := svc.Publish(ctx, []File{{Path: "sitemap.xml", Data: []byte("<urlset/>")}}, "Regenerate sitemap")
	if err != nil {
		t.Fatalf("Publish() unchanged error = %v", err)
	}
	if changed || again.Hash != first.Hash {
		t.Fatalf("expected unchanged tree to keep head %s, got changed=%v head=%s", first.Hash, changed, again.Hash)
	}

	if _, changed, err := svc.Publish(ctx, []File{{Path: "feeds/agency.json", Data: []byte(`[]`)}}, "Add feed"); err != nil || !changed {
		t.Fatalf("expected nested file commit, changed=%v err=%v", changed, err)
	}

	history, err := svc.History(10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}

	data, err := svc.ReadFile("feeds/agency.json")
	if err != nil || string(data) != "[]" {
		t.Fatalf("ReadFile() = %q, %v", data, err)
	}
}

func TestReadFileErrors(t *testing.T) {
	svc := New(t.TempDir(), Options{})
	if _, _, err := svc.Publish(context.Background(), []File{{Path: "sitemap.xml", Data: []byte("<urlset/>")}}, "Regenerate sitemap"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if _, err := svc.ReadFile("feeds/missing.json"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	for _, path := range []string{"../sitemap.xml", ".git/HEAD"} {
		if _, err := svc.ReadFile(path); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("expected ErrInvalidPath for %q, got %v", path, err)
		}
	}
}

func TestPublishRejectsEscapingPaths(t *testing.T) {
	svc := New(t.TempDir(), Options{})
	for _, path := range []string{"../outside.xml", ".git/config", ""} {
		if _, _, err := svc.Publish(context.Background(), []File{{Path: path, Data: []byte("x")}}, "bad"); err == nil {
			t.Fatalf("expected %q to be rejected", path)
		}
	}
}

func TestPushToLocalRemote(t *testing.T) {
	// Local pushes go through the git binary.
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	remoteDir := filepath.Join(t.TempDir(), "site.git")
	if _, err := git.PlainInit(remoteDir, true); err != nil {
		t.Fatalf("init bare remote: %v", err)
	}

	svc := New(filepath.Join(t.TempDir(), "work"), Options{RemoteURL: remoteDir, Branch: "site"})
	ctx := context.Background()
	commit, _, err := svc.Publish(ctx, []File{{Path: "sitemap.xml", Data: []byte("<urlset/>")}}, "Regenerate sitemap")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := svc.Push(ctx); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := svc.Push(ctx); err != nil {
		t.Fatalf("second Push() should be a no-op, got %v", err)
	}

	remote, err := git.PlainOpen(remoteDir)
	if err != nil {
		t.Fatalf("open remote: %v", err)
	}
	ref, err := remote.Reference(plumbing.NewBranchReferenceName("site"), true)
	if err != nil {
		t.Fatalf("remote branch missing: %v", err)
	}
	if ref.Hash().String()[:7] != commit.Hash {
		t.Fatalf("remote head %s, want %s", ref.Hash(), commit.Hash)
	}
}

func TestPushWithoutRemoteIsNoop(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir, Options{})
	if err := svc.Push(context.Background()); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); !os.IsNotExist(err) {
		t.Fatalf("push without remote should not touch the repo, stat err = %v", err)
	}
}

func TestConcurrentPublish(t *testing.T) {
	svc := New(t.TempDir(), Options{})
	ctx := context.Background()

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			file := File{Path: fmt.Sprintf("entries/%02d.json", idx), Data: []byte(fmt.Sprintf(`{"n":%d}`, idx))}
			if _, _, err := svc.Publish(ctx, []File{file}, fmt.Sprintf("Entry %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("Publish() concurrent error = %v", err)
	}

	history, err := svc.History(100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}

func TestSanitizeEmail(t *testing.T) {
	if got := sanitizeEmail("Site Bot"); got != "site.bot" {
		t.Fatalf("sanitizeEmail() = %q", got)
	}
	if got := sanitizeEmail("!!"); got != "site" {
		t.Fatalf("sanitizeEmail() fallback = %q", got)
	}
}
