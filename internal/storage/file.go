package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "craftybot/pkg/logx"
)

// fileStore is the dependency-free backend.
//
// Files:
//   - <prefix>.snapshot.json (full map, rewritten on compaction)
//   - <prefix>.journal.jsonl (append-only upsert/delete records)
//
// Open replays the journal over the snapshot; every compactEvery writes the
// map is flushed into a fresh snapshot and the journal truncated.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	states       map[int64]RecipientState
	writes       int
	compactEvery int
}

type journalRecord struct {
	Op            string    `json:"op"` // "put" | "del"
	ChatID        int64     `json:"chat_id"`
	LastMessageID int       `json:"last_message_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	states := map[int64]RecipientState{}
	if err := loadSnapshot(snapPath, states); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, states); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Info("file store opened", logx.String("prefix", prefix), logx.Int("recipients", len(states)))
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		states:       states,
		compactEvery: 500,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) All(ctx context.Context) ([]RecipientState, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return sortedStates(s.states), nil
}

func (s *fileStore) Upsert(ctx context.Context, st RecipientState) error {
	_ = ctx
	if err := validState(st); err != nil {
		return err
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "put", ChatID: st.ChatID, LastMessageID: st.LastMessageID, UpdatedAt: st.UpdatedAt}); err != nil {
		return err
	}
	s.states[st.ChatID] = st
	return nil
}

func (s *fileStore) Delete(ctx context.Context, chatID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[chatID]; !ok {
		if s.journal == nil {
			return ErrClosed
		}
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", ChatID: chatID}); err != nil {
		return err
	}
	delete(s.states, chatID)
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(sortedStates(s.states)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[int64]RecipientState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []RecipientState
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, st := range list {
		out[st.ChatID] = st
	}
	return nil
}

func replayJournal(path string, out map[int64]RecipientState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		// a torn tail line after a crash is skipped
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ChatID == 0 {
			continue
		}
		switch r.Op {
		case "put":
			out[r.ChatID] = RecipientState{ChatID: r.ChatID, LastMessageID: r.LastMessageID, UpdatedAt: r.UpdatedAt}
		case "del":
			delete(out, r.ChatID)
		}
	}
	return sc.Err()
}
