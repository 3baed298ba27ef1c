package quest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/kasuganosora/aiquest/model"
	"go.uber.org/zap"
)

// Import loads quests from every *.json file in dir. A file holds one quest
// object or an array of them. Quests whose id already exists are skipped, so
// importing the same directory twice is harmless. It returns how many quests
// were written.
func (s *Service) Import(ctx context.Context, dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	imported := 0
	for _, path := range files {
		raws, err := loadSeedFile(path)
		if err != nil {
			return imported, err
		}
		for i, raw := range raws {
			if err := validatePayload(raw, true); err != nil {
				return imported, fmt.Errorf("%s[%d]: %w", filepath.Base(path), i, err)
			}
			var q model.Quest
			if err := json.Unmarshal(raw, &q); err != nil {
				return imported, fmt.Errorf("%s[%d]: %w", filepath.Base(path), i, err)
			}
			if q.ID == "" {
				q.ID = uuid.NewString()
			} else if s.quests.GetByID(ctx, q.ID) != nil {
				continue
			}
			ts := s.now()
			if q.CreatedAt.IsZero() {
				q.CreatedAt = ts
			}
			q.UpdatedAt = ts
			normalize(&q)
			if _, err := s.quests.Upsert(ctx, &q); err != nil {
				return imported, err
			}
			imported++
		}
	}
	s.logger.Info("quest seed imported", zap.String("dir", dir), zap.Int("quests", imported))
	return imported, nil
}

func loadSeedFile(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return list, nil
	}
	return []json.RawMessage{data}, nil
}
