package threadstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loom-platform/loom/infrastructure/errors"
	"github.com/loom-platform/loom/infrastructure/logging"
)

// Store persists threads as individual JSON files under a directory.
type Store struct {
	dir    string
	logger *logging.Logger
}

// Config configures a Store.
type Config struct {
	Dir    string
	Logger *logging.Logger
}

// New creates a Store rooted at cfg.Dir, creating it if necessary.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("threadstore: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("threadstore: create dir: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("threadstore", "info", "json")
	}
	return &Store{dir: cfg.Dir, logger: cfg.Logger}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes a thread atomically: write <id>.json.tmp, then rename over
// <id>.json, so a reader never observes a partially-written file.
func (s *Store) Save(ctx context.Context, thread Thread) error {
	data, err := json.MarshalIndent(&thread, "", "  ")
	if err != nil {
		return fmt.Errorf("threadstore: marshal %s: %w", thread.ID, err)
	}

	final := s.path(thread.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("threadstore: write %s: %w", thread.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("threadstore: rename %s: %w", thread.ID, err)
	}
	return nil
}

// Get loads a single thread by id.
func (s *Store) Get(ctx context.Context, id string) (Thread, error) {
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return Thread{}, errors.NotFound("thread", id)
	}
	if err != nil {
		return Thread{}, fmt.Errorf("threadstore: read %s: %w", id, err)
	}
	var thread Thread
	if err := json.Unmarshal(data, &thread); err != nil {
		return Thread{}, fmt.Errorf("threadstore: parse %s: %w", id, err)
	}
	return thread, nil
}

// Delete removes a thread's file. It fails with a NotFound ServiceError
// if the file does not exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return errors.NotFound("thread", id)
	}
	return err
}

// List returns up to limit thread summaries, sorted by last_activity_at
// descending. Entries that fail to parse are logged and skipped.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("threadstore: read dir: %w", err)
	}

	summaries := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		thread, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "skipping unparseable thread file", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		summaries = append(summaries, Summary{
			ID:             thread.ID,
			Title:          thread.Title,
			GitBranch:      thread.GitBranch,
			LastActivityAt: thread.LastActivityAt,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastActivityAt.After(summaries[j].LastActivityAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Search is a local fallback, matching case-insensitive substrings in
// title, git branch, git remote url, message content, and tags; a git SHA
// match is a case-insensitive prefix match instead.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Thread, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("threadstore: read dir: %w", err)
	}

	lowerQuery := strings.ToLower(query)
	var matches []Thread
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		thread, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "skipping unparseable thread file", map[string]interface{}{
				"file":  name,
				"error": err.Error(),
			})
			continue
		}
		if threadMatches(thread, lowerQuery) {
			matches = append(matches, thread)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastActivityAt.After(matches[j].LastActivityAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func threadMatches(thread Thread, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(thread.Title), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(thread.GitBranch), lowerQuery) {
		return true
	}
	if strings.Contains(strings.ToLower(thread.GitRemoteURL), lowerQuery) {
		return true
	}
	if strings.HasPrefix(strings.ToLower(thread.GitSHA), lowerQuery) {
		return true
	}
	for _, tag := range thread.Tags {
		if strings.Contains(strings.ToLower(tag), lowerQuery) {
			return true
		}
	}
	for _, msg := range thread.Messages {
		if strings.Contains(strings.ToLower(msg.Content), lowerQuery) {
			return true
		}
	}
	return false
}
