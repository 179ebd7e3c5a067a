// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/kbforge/internal/logging"
	"github.com/pdiddy/kbforge/internal/rollback"
)

// Maintain runs fn against the knowledge base at output under the run lock,
// with every change journaled. If fn fails its changes are rolled back; an
// incomplete rollback is joined to the returned error.
func Maintain(output string, logger *zap.Logger, fn func(fsys rollback.FS) error) error {
	logger = logging.OrNop(logger)
	lock, err := acquireLock(output)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.release(); err != nil {
			logger.Warn("releasing lock", zap.Error(err))
		}
	}()

	j := rollback.NewJournal(logger)
	if err := fn(j); err != nil {
		if rbErr := j.Rollback(); rbErr != nil {
			return fmt.Errorf("%w; rollback incomplete: %w", err, rbErr)
		}
		return err
	}
	j.Commit()
	return nil
}
