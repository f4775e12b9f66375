package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"wasend/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.sessions.jsonl   (append-only JSON Lines)
//   - <prefix>.dispatches.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	sessionFile  *os.File
	dispatchFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	sf, err := os.OpenFile(prefix+".sessions.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	df, err := os.OpenFile(prefix+".dispatches.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = sf.Close()
		return nil, err
	}

	return &fileStore{log: log, sessionFile: sf, dispatchFile: df}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.sessionFile != nil {
		err1 = s.sessionFile.Close()
		s.sessionFile = nil
	}
	if s.dispatchFile != nil {
		err2 = s.dispatchFile.Close()
		s.dispatchFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendSessionEvent(ctx context.Context, e SessionEvent) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionFile == nil {
		return errors.New("session audit file closed")
	}
	return json.NewEncoder(s.sessionFile).Encode(e)
}

func (s *fileStore) AppendDispatchSummary(ctx context.Context, e DispatchSummary) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatchFile == nil {
		return errors.New("dispatch audit file closed")
	}
	return json.NewEncoder(s.dispatchFile).Encode(e)
}
