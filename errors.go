package vigil

import "fmt"

// ErrLLM reports a provider-side failure (transport, decode, contract).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-200 response from an LLM endpoint.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrAlreadyRunning is returned by Scheduler.Start when the loop is
// already active (running, waiting, or stopping).
type ErrAlreadyRunning struct {
	State State
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("agent is already running (state %s)", e.State)
}

// ErrSnapshotUpdate reports that both the auditor model and the fallback
// model failed to produce a usable snapshot delta. The scheduler treats
// this as fatal: stale structural awareness is worse than stopping.
type ErrSnapshotUpdate struct {
	Primary  error
	Fallback error
}

func (e *ErrSnapshotUpdate) Error() string {
	if e.Fallback != nil {
		return fmt.Sprintf("snapshot update failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
	}
	return fmt.Sprintf("snapshot update failed: %v", e.Primary)
}
