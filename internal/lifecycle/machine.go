// Package lifecycle holds the transition table that governs instance status
// changes, soft delete, restore and purge.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/rpattn/metarepo/internal/domain"
)

// ErrTombstoned is returned when an operation that needs a live instance is
// applied to a soft-deleted one. Callers report it as not known.
var ErrTombstoned = errors.New("lifecycle: instance is soft-deleted")

// Operation names a lifecycle operation.
type Operation string

const (
	OpUpdateStatus     Operation = "updateStatus"
	OpUpdateProperties Operation = "updateProperties"
	OpUndo             Operation = "undoUpdate"
	OpDelete           Operation = "delete"
	OpRestore          Operation = "restore"
	OpPurge            Operation = "purge"
	OpClassify         Operation = "classify"
	OpReclassify       Operation = "reclassify"
	OpDeclassify       Operation = "declassify"
)

// State is the coarse lifecycle state. Purged instances are absent and have
// no state.
type State int

const (
	StateActive State = iota
	StateDeleted
)

func (s State) String() string {
	if s == StateDeleted {
		return "DELETED"
	}
	return "ACTIVE"
}

// StateOf derives the state from the header status.
func StateOf(h domain.InstanceHeader) State {
	if h.IsDeleted() {
		return StateDeleted
	}
	return StateActive
}

// Capabilities are the optional functions an instance may support.
type Capabilities struct {
	SoftDelete bool
	Undo       bool
}

// And returns the capabilities supported by both sides.
func (c Capabilities) And(other Capabilities) Capabilities {
	return Capabilities{SoftDelete: c.SoftDelete && other.SoftDelete, Undo: c.Undo && other.Undo}
}

type transition struct {
	from []State
	// purgeFromActive allows the operation from ACTIVE when soft delete is
	// unavailable.
	purgeFromActive bool
}

var table = map[Operation]transition{
	OpUpdateStatus:     {from: []State{StateActive}},
	OpUpdateProperties: {from: []State{StateActive}},
	OpUndo:             {from: []State{StateActive}},
	OpDelete:           {from: []State{StateActive}},
	OpRestore:          {from: []State{StateDeleted}},
	OpPurge:            {from: []State{StateDeleted}, purgeFromActive: true},
	OpClassify:         {from: []State{StateActive}},
	OpReclassify:       {from: []State{StateActive}},
	OpDeclassify:       {from: []State{StateActive}},
}

// Machine applies the transition table. The repository capabilities it is
// built with are combined with each type's own flags.
type Machine struct {
	repository Capabilities
}

// New creates a machine for a repository with the given capabilities.
func New(repository Capabilities) *Machine {
	return &Machine{repository: repository}
}

// Capabilities returns the effective capabilities for instances of def.
func (m *Machine) Capabilities(def domain.TypeDef) Capabilities {
	return m.repository.And(Capabilities{SoftDelete: def.SupportsSoftDelete, Undo: def.SupportsUndo})
}

// Check reports whether op may be applied to the instance. target is only
// used by OpUpdateStatus.
func (m *Machine) Check(op Operation, def domain.TypeDef, h domain.InstanceHeader, target domain.InstanceStatus) error {
	t, ok := table[op]
	if !ok {
		return fmt.Errorf("lifecycle: unknown operation %q", op)
	}
	caps := m.Capabilities(def)
	state := StateOf(h)

	allowed := false
	for _, from := range t.from {
		if from == state {
			allowed = true
			break
		}
	}
	if !allowed && t.purgeFromActive && state == StateActive && !caps.SoftDelete {
		allowed = true
	}
	if !allowed {
		if state == StateDeleted {
			return ErrTombstoned
		}
		return domain.InvalidTransition(string(op), h)
	}

	switch op {
	case OpUpdateStatus:
		// DELETED is only reachable through delete, even when a type lists it.
		if target == domain.StatusDeleted || !def.IsValidStatus(target) {
			return domain.StatusNotSupported(string(op), h, target)
		}
	case OpDelete:
		if !caps.SoftDelete {
			return domain.FunctionNotSupported(string(op), h)
		}
	case OpUndo:
		if !caps.Undo {
			return domain.FunctionNotSupported(string(op), h)
		}
	}
	return nil
}

// Apply checks op and then moves the header to its new status. Version and
// audit fields are left to the ledger.
func (m *Machine) Apply(op Operation, def domain.TypeDef, h *domain.InstanceHeader, target domain.InstanceStatus) error {
	if err := m.Check(op, def, *h, target); err != nil {
		return err
	}
	switch op {
	case OpUpdateStatus:
		h.Status = target
	case OpDelete:
		h.StatusOnDelete = h.Status
		h.Status = domain.StatusDeleted
	case OpRestore:
		restored := h.StatusOnDelete
		if restored == "" || restored == domain.StatusDeleted {
			restored = def.InitialStatus
		}
		h.Status = restored
		h.StatusOnDelete = ""
	}
	return nil
}
