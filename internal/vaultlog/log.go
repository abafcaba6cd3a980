// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vaultlog wires a single btclog backend to every subsystem's
// logger, following the UseLogger/DisableLog registration idiom used
// throughout the teacher's mining subsystems.
package vaultlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem is satisfied by every package that exposes a UseLogger hook,
// so NewBackend can fan a single backend out to all of them.
type Subsystem struct {
	Tag       string
	UseLogger func(btclog.Logger)
}

// logWriter sends logged bytes to both stdout and, when one is
// configured, a rotating log file, the same split the teacher's own
// node logging performs.
type logWriter struct {
	rotator io.Writer
}

func (w logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.rotator != nil {
		w.rotator.Write(p)
	}
	return len(p), nil
}

// InitLogRotator creates the rotating log file at logFile, rolling it
// over at 10 MiB and keeping the most recent 3 rolls.
func InitLogRotator(logFile string) (*rotator.Rotator, error) {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", logDir, err)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return nil, fmt.Errorf("creating log rotator: %w", err)
	}
	return r, nil
}

// NewBackend creates a btclog.Backend writing to stdout and, when r is
// non-nil, the rotating log file, then assigns each subsystem its own
// tagged logger at level.
func NewBackend(r *rotator.Rotator, level btclog.Level, subsystems []Subsystem) *btclog.Backend {
	var w io.Writer
	if r != nil {
		w = r
	}
	backend := btclog.NewBackend(logWriter{rotator: w})
	for _, s := range subsystems {
		l := backend.Logger(s.Tag)
		l.SetLevel(level)
		s.UseLogger(l)
	}
	return backend
}

// DisableAll points every subsystem's logger at btclog.Disabled, the
// default state before any backend is wired in.
func DisableAll(subsystems []Subsystem) {
	for _, s := range subsystems {
		s.UseLogger(btclog.Disabled)
	}
}
