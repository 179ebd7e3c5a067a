// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys from a directory of plain-text files. Each
// file in the directory is one secret: the filename is the key name and the
// trimmed file contents are the value.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
)

// AnthropicAPIKey names the file holding the Claude API key.
const AnthropicAPIKey = "anthropic-api-key"

// AnthropicEnv is the environment variable consulted when no key file exists.
const AnthropicEnv = "ANTHROPIC_API_KEY"

// Load reads all files in dir and returns a map of filename to trimmed
// contents. A missing directory is not an error; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, logger *zap.Logger) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logging.OrNop(logger).Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		if value := strings.TrimSpace(string(data)); value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// APIKey returns the Claude API key from the loaded secrets, falling back to
// the ANTHROPIC_API_KEY environment variable.
func APIKey(s map[string]string) string {
	if v := s[AnthropicAPIKey]; v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(AnthropicEnv))
}
