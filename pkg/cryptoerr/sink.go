// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pqkeys.
//
// go-pqkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cryptoerr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// EventSink receives security events.
type EventSink interface {
	Emit(event SecurityEvent) error
	Close() error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(SecurityEvent) error { return nil }
func (NopSink) Close() error             { return nil }

// LogSink writes events to a structured logger. Critical and High events are
// logged at error level, Medium at warn and Low at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink backed by logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event SecurityEvent) error {
	s.logger.LogAttrs(context.Background(), event.Severity.Level(),
		"security event: "+event.Details, event.Attrs()...)
	return nil
}

func (s *LogSink) Close() error { return nil }

// FileSink appends events to a file in JSON lines format.
type FileSink struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileSink opens (or creates) the events file at path.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("cryptoerr: events file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{path: path, file: f}, nil
}

func openAppend(path string) (*os.File, error) {
	// #nosec G304 - events path is provided by the operator
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open events file: %w", err)
	}
	return f, nil
}

func (s *FileSink) Emit(event SecurityEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize security event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if s.file, err = openAppend(s.path); err != nil {
			return err
		}
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write security event: %w", err)
	}
	return s.file.Sync()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// MemorySink keeps the most recent events in a bounded ring.
type MemorySink struct {
	mu     sync.RWMutex
	events []SecurityEvent
	limit  int
}

// NewMemorySink returns a sink holding at most limit events. A limit of zero
// or less defaults to 1000.
func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 1000
	}
	return &MemorySink{limit: limit}
}

func (s *MemorySink) Emit(event SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if over := len(s.events) - s.limit; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	return nil
}

// Events returns a copy of the retained events, oldest first.
func (s *MemorySink) Events() []SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Close() error { return nil }

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(event SecurityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
