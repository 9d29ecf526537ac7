package workflow

import (
	"workshop/internal/fleet"
	"workshop/internal/partition"
	"workshop/internal/stage"
	"workshop/internal/worker"
)

// SlotStatus is a point-in-time view of one slot.
type SlotStatus struct {
	Index     int    `json:"index"`
	Worker    string `json:"worker"`
	Driver    string `json:"driver"`
	State     string `json:"state"`
	Job       string `json:"job,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Assigned  int    `json:"assigned"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	LastError string `json:"last_error,omitempty"`
}

type slotState struct {
	slot      fleet.Slot
	session   *worker.Session
	assigned  int
	job       string
	stage     string
	succeeded int
	failed    int
	skipped   int
	lastError string
	done      bool
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (m *Manager) initSlots(slots []fleet.Slot, total int) {
	assignments := partition.Assignments(total, len(slots), 0)
	states := make([]*slotState, len(slots))
	for i, slot := range slots {
		states[i] = &slotState{slot: slot, assigned: len(assignments[i])}
	}
	m.mu.Lock()
	m.slots = states
	m.mu.Unlock()
}

func (m *Manager) slotUpdate(index int, fn func(*slotState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.slots) {
		return
	}
	fn(m.slots[index])
}

func (m *Manager) setSession(index int, session *worker.Session) {
	m.slotUpdate(index, func(s *slotState) { s.session = session })
}

func (m *Manager) setCurrent(index int, job string, stageName stage.Name) {
	m.slotUpdate(index, func(s *slotState) {
		s.job = job
		s.stage = string(stageName)
	})
}

func (m *Manager) recordOutcome(index int, result outcome, reason string) {
	m.slotUpdate(index, func(s *slotState) {
		switch result {
		case outcomeSucceeded:
			s.succeeded++
		case outcomeFailed:
			s.failed++
			s.lastError = reason
		case outcomeSkipped:
			s.skipped++
		}
		s.job = ""
		s.stage = ""
	})
}

func (m *Manager) markDone(index int) {
	m.slotUpdate(index, func(s *slotState) {
		s.done = true
		s.session = nil
	})
}

// Snapshot returns the current state of every slot.
func (m *Manager) Snapshot() []SlotStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SlotStatus, 0, len(m.slots))
	for _, s := range m.slots {
		state := string(worker.StateUnknown)
		switch {
		case s.session != nil:
			state = string(s.session.State())
		case s.done:
			state = "done"
		}
		out = append(out, SlotStatus{
			Index:     s.slot.Index,
			Worker:    s.slot.Label(),
			Driver:    string(s.slot.Driver),
			State:     state,
			Job:       s.job,
			Stage:     s.stage,
			Assigned:  s.assigned,
			Succeeded: s.succeeded,
			Failed:    s.failed,
			Skipped:   s.skipped,
			LastError: s.lastError,
		})
	}
	return out
}

func (m *Manager) summarize(plan []stage.Spec, total int) Summary {
	summary := Summary{
		RunID:      m.runID,
		Jobs:       total,
		Stages:     stage.Names(plan),
		LedgerPath: m.ledger.Path(),
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		summary.Succeeded += s.succeeded
		summary.Failed += s.failed
		summary.Skipped += s.skipped
		summary.Slots = append(summary.Slots, SlotSummary{
			Index:     s.slot.Index,
			Worker:    s.slot.Label(),
			Assigned:  s.assigned,
			Succeeded: s.succeeded,
			Failed:    s.failed,
			Skipped:   s.skipped,
		})
	}
	return summary
}
