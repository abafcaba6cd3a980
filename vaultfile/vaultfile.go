// Copyright (c) 2024 go-vaults developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vaultfile implements the version-stamped sentinel marker file
// (spec.md §6): its presence in a directory indicates a vault has already
// been initialized there, and re-initialization must be refused.
package vaultfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kanzure/go-vaults/persist"
)

// Name is the sentinel file's name within a vault directory.
const Name = "vaultfile.json"

// Marker is the sentinel file's contents.
type Marker struct {
	Version string `json:"version"`
}

// ErrAlreadyInitialized is returned by Create when a sentinel file
// already exists in dir.
var ErrAlreadyInitialized = errors.New("vault already initialized in this directory")

// Create writes a fresh sentinel marker into dir, refusing to overwrite
// an existing one.
func Create(dir string) error {
	path := filepath.Join(dir, Name)
	if _, err := os.Stat(path); err == nil {
		return ErrAlreadyInitialized
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking for existing vault file: %w", err)
	}

	marker := Marker{Version: persist.FormatVersion}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding vault marker: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing vault marker: %w", err)
	}
	return nil
}

// Exists reports whether a sentinel marker is present in dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, Name))
	return err == nil
}

// Read loads and validates the sentinel marker in dir.
func Read(dir string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, Name))
	if err != nil {
		return nil, fmt.Errorf("reading vault marker: %w", err)
	}
	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("parsing vault marker: %w", err)
	}
	if marker.Version != persist.FormatVersion {
		return nil, fmt.Errorf("vault marker has format version %q, want %q", marker.Version, persist.FormatVersion)
	}
	return &marker, nil
}
