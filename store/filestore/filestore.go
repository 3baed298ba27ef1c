// Package filestore keeps quests and progress as two JSON documents on disk,
// mirrored in memory. Every write rewrites the whole document atomically.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kasuganosora/aiquest/model"
)

const (
	QuestsFile   = "quests.json"
	ProgressFile = "progress.json"
)

// Store is the JSON-document backend.
type Store struct {
	mu           sync.RWMutex
	questsPath   string
	progressPath string
	quests       map[string]*model.Quest
	progress     map[string]*model.Progress
}

// Open loads (or initialises) the documents under dir. A missing file is an
// empty collection; an unparseable one is an error.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create data dir: %w", err)
	}
	s := &Store{
		questsPath:   filepath.Join(dir, QuestsFile),
		progressPath: filepath.Join(dir, ProgressFile),
		quests:       map[string]*model.Quest{},
		progress:     map[string]*model.Progress{},
	}
	if err := readDocument(s.questsPath, s.quests); err != nil {
		return nil, err
	}
	if err := readDocument(s.progressPath, s.progress); err != nil {
		return nil, err
	}
	return s, nil
}

// readDocument accepts either {"key": record} or the older [["key", record], ...] layout.
func readDocument[T any](path string, into map[string]*T) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("filestore: read %s: %w", path, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	if raw[0] == '[' {
		var pairs [][2]json.RawMessage
		if err := json.Unmarshal(raw, &pairs); err != nil {
			return fmt.Errorf("filestore: parse %s: %w", path, err)
		}
		for _, pair := range pairs {
			var key string
			if err := json.Unmarshal(pair[0], &key); err != nil {
				return fmt.Errorf("filestore: parse %s key: %w", path, err)
			}
			var rec T
			if err := json.Unmarshal(pair[1], &rec); err != nil {
				return fmt.Errorf("filestore: parse %s record %q: %w", path, key, err)
			}
			into[key] = &rec
		}
		return nil
	}

	var doc map[string]*T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("filestore: parse %s: %w", path, err)
	}
	for k, v := range doc {
		if v != nil {
			into[k] = v
		}
	}
	return nil
}

// writeDocument replaces path via a temp file in the same directory.
func writeDocument(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func cloneQuest(q *model.Quest) *model.Quest {
	cp := *q
	cp.Steps = append([]model.Step(nil), q.Steps...)
	if cp.Steps == nil {
		cp.Steps = []model.Step{}
	}
	return &cp
}

func (s *Store) ListQuests(_ context.Context) ([]model.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Quest, 0, len(s.quests))
	for _, q := range s.quests {
		out = append(out, *cloneQuest(q))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetQuest(_ context.Context, id string) (*model.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quests[id]
	if !ok {
		return nil, nil
	}
	return cloneQuest(q), nil
}

func (s *Store) UpsertQuest(_ context.Context, q *model.Quest) (*model.Quest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.quests[q.ID]
	s.quests[q.ID] = cloneQuest(q)
	if err := writeDocument(s.questsPath, s.quests); err != nil {
		if existed {
			s.quests[q.ID] = prev
		} else {
			delete(s.quests, q.ID)
		}
		return nil, fmt.Errorf("filestore: write quests: %w", err)
	}
	return cloneQuest(q), nil
}

func (s *Store) DeleteQuest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.quests[id]
	if !existed {
		return nil
	}
	delete(s.quests, id)
	if err := writeDocument(s.questsPath, s.quests); err != nil {
		s.quests[id] = prev
		return fmt.Errorf("filestore: write quests: %w", err)
	}
	return nil
}

func (s *Store) GetProgress(_ context.Context, sessionID, questID string) (*model.Progress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[model.ProgressKey(sessionID, questID)]
	if !ok {
		return nil, nil
	}
	// "a-b"+"c" and "a"+"b-c" share a key; only the pair that wrote it may read it.
	if (p.SessionID != "" && p.SessionID != sessionID) || (p.QuestID != "" && p.QuestID != questID) {
		return nil, nil
	}
	out := p.Clone()
	out.SessionID = sessionID
	out.QuestID = questID
	return out, nil
}

func (s *Store) UpsertProgress(_ context.Context, p *model.Progress) (*model.Progress, error) {
	key := model.ProgressKey(p.SessionID, p.QuestID)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.progress[key]
	s.progress[key] = p.Clone()
	if err := writeDocument(s.progressPath, s.progress); err != nil {
		if existed {
			s.progress[key] = prev
		} else {
			delete(s.progress, key)
		}
		return nil, fmt.Errorf("filestore: write progress: %w", err)
	}
	return p.Clone(), nil
}

func (s *Store) Close(_ context.Context) error { return nil }
