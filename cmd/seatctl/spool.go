package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	seatbridge "github.com/opengovern/seat-bridge"
)

// spool is an OfflineQueue backed by a JSON-lines file. Operations are
// appended as they are queued and rewritten on replay.
type spool struct {
	mu   sync.Mutex
	path string
}

func newSpool(path string) *spool { return &spool{path: path} }

func (s *spool) AddOperation(op seatbridge.OfflineOperation) error {
	line, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode spooled operation: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open spool: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write spool: %w", err)
	}
	return f.Close()
}

// Operations returns the spooled operations in queue order.
func (s *spool) Operations() ([]seatbridge.OfflineOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *spool) read() ([]seatbridge.OfflineOperation, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	defer f.Close()

	var ops []seatbridge.OfflineOperation
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for n := 1; sc.Scan(); n++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var op seatbridge.OfflineOperation
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			return nil, fmt.Errorf("spool line %d: %w", n, err)
		}
		ops = append(ops, op)
	}
	return ops, sc.Err()
}

// Replace rewrites the spool with ops; an empty list removes the file.
func (s *spool) Replace(ops []seatbridge.OfflineOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ops) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("rewrite spool: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			f.Close()
			return fmt.Errorf("rewrite spool: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
