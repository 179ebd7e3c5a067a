// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sourceconfig records the last-synced datetime of each ingestion
// source in source-config.json at the knowledge base root.
package sourceconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pdiddy/kbforge/internal/rollback"
	"github.com/pdiddy/kbforge/pkg/types"
)

// Load reads the source config at path. A missing file is an empty config.
func Load(path string) (types.SourceConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return types.SourceConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading source config: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing source config %s: %w", path, err)
	}
	cfg := make(types.SourceConfig, len(raw))
	for name, v := range raw {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", name, err)
		}
		cfg[name] = t.UTC()
	}
	return cfg, nil
}

// Update sets source's last-synced datetime to at and writes the config
// through fsys. Other sources are kept as they are.
func Update(path, source string, at time.Time, fsys rollback.FS) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	cfg[source] = at.UTC()
	data, err := Encode(cfg)
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, data); err != nil {
		return fmt.Errorf("writing source config: %w", err)
	}
	return nil
}

// Encode renders cfg as indented JSON with RFC 3339 datetimes at full precision, keys sorted.
func Encode(cfg types.SourceConfig) ([]byte, error) {
	raw := make(map[string]string, len(cfg))
	for name, t := range cfg {
		raw[name] = t.UTC().Format(time.RFC3339Nano)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding source config: %w", err)
	}
	return append(data, '\n'), nil
}
