// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// State is a step of the run state machine.
type State string

const (
	StateInit           State = "INIT"
	StateRawCopied      State = "RAW_COPIED"
	StateContextLoaded  State = "CONTEXT_LOADED"
	StateAnalyzed       State = "ANALYZED"
	StateValidated      State = "VALIDATED"
	StateMapped         State = "MAPPED"
	StateStructureBuilt State = "STRUCTURE_BUILT"
	StateAggregated     State = "AGGREGATED"
	StateIndexed        State = "INDEXED"
	StateDone           State = "DONE"
	StateRolledBack     State = "ROLLED_BACK"
)

// transitions lists the forward moves. Any state except DONE may also move
// to ROLLED_BACK.
var transitions = map[State][]State{
	// DONE directly: input already processed. AGGREGATED directly: aggregate-only mode.
	StateInit:           {StateRawCopied, StateAggregated, StateDone},
	StateRawCopied:      {StateContextLoaded},
	StateContextLoaded:  {StateAnalyzed},
	StateAnalyzed:       {StateValidated},
	StateValidated:      {StateMapped},
	StateMapped:         {StateStructureBuilt},
	StateStructureBuilt: {StateAggregated, StateIndexed},
	StateAggregated:     {StateIndexed},
	StateIndexed:        {StateDone},
}

// machine tracks the current state of one run.
type machine struct {
	state   State
	history []State
	logger  *zap.Logger
}

func newMachine(logger *zap.Logger) *machine {
	return &machine{state: StateInit, history: []State{StateInit}, logger: logger}
}

// advance moves to next, rejecting moves the state machine does not allow.
func (m *machine) advance(next State) error {
	allowed := next == StateRolledBack && m.state != StateDone && m.state != StateRolledBack
	if !allowed {
		allowed = slices.Contains(transitions[m.state], next)
	}
	if !allowed {
		return fmt.Errorf("invalid state transition %s -> %s", m.state, next)
	}
	m.logger.Debug("state", zap.String("from", string(m.state)), zap.String("to", string(next)))
	m.state = next
	m.history = append(m.history, next)
	return nil
}
