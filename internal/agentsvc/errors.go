package agentsvc

import (
	"fmt"

	"github.com/jmerrifield20/propwatch/internal/agent/model"
)

// TerminalStateError is returned when a lifecycle command targets an agent
// that has already reached a terminal status (cancelled or completed).
type TerminalStateError struct {
	AgentID string
	Status  model.AgentStatus
}

func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("agent %s is in terminal state %s", e.AgentID, e.Status)
}

// IllegalTransitionError is returned when a lifecycle command would move an
// agent between two non-terminal statuses that are not connected by an
// allowed edge (e.g. pausing an already-paused agent).
type IllegalTransitionError struct {
	AgentID string
	From    model.AgentStatus
	To      model.AgentStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("agent %s cannot transition from %s to %s", e.AgentID, e.From, e.To)
}

// BusyError is returned by ForceCheck when a check is already running for
// the given agent. Callers should not block and retry; a concurrently
// running check already covers the request.
type BusyError struct {
	AgentID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("agent %s has a check already in progress", e.AgentID)
}
