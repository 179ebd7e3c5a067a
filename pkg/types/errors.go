// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

// Error taxonomy shared by all pipeline stages. Stages wrap these with %w so
// callers can classify a failure with errors.Is.
var (
	// ErrInput reports a missing or unreadable raw file. Fatal.
	ErrInput = errors.New("input error")

	// ErrAnalysis reports an AI analysis failure or unparseable result. Fatal.
	ErrAnalysis = errors.New("analysis error")

	// ErrValidation marks an entry dropped for missing required fields. Recovered.
	ErrValidation = errors.New("validation error")

	// ErrMapping marks a failed mapping call, treated as no mapping. Recovered.
	ErrMapping = errors.New("mapping error")

	// ErrStructureWrite reports an I/O failure while persisting entities or indices. Fatal.
	ErrStructureWrite = errors.New("structure write error")

	// ErrAggregation reports a failed narrative generation. Fatal.
	ErrAggregation = errors.New("aggregation error")

	// ErrRollback reports that at least one undo step failed during rollback.
	ErrRollback = errors.New("rollback incomplete")

	// ErrLocked reports another run holding the output directory.
	ErrLocked = errors.New("output directory locked by another run")
)
