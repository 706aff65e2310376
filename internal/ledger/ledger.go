// Package ledger advances instance versions, stamps audit fields and keeps
// the bounded property snapshots used by undo.
package ledger

import (
	"errors"
	"slices"
	"time"

	"github.com/rpattn/metarepo/internal/domain"
)

var (
	// ErrHistoryDisabled is returned by Undo when no snapshots are retained.
	ErrHistoryDisabled = errors.New("ledger: property history is disabled")
	// ErrNoSnapshot is returned by Undo when there is nothing to go back to.
	ErrNoSnapshot = errors.New("ledger: no retained snapshot")
)

// Ledger is safe for concurrent use. It never holds instance state itself.
type Ledger struct {
	retention int
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a ledger that retains up to retention snapshots per instance.
// A retention of zero disables undo.
func New(retention int, opts ...Option) *Ledger {
	if retention < 0 {
		retention = 0
	}
	l := &Ledger{retention: retention, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Retention returns the number of snapshots kept per instance.
func (l *Ledger) Retention() int {
	return l.retention
}

// Now returns the ledger clock reading in UTC.
func (l *Ledger) Now() time.Time {
	return l.now().UTC()
}

// StampNew initialises the version and audit fields of a new instance.
func (l *Ledger) StampNew(h *domain.InstanceHeader, user string) {
	now := l.Now()
	h.Version = 1
	h.CreatedBy = user
	h.CreateTime = now
	h.UpdatedBy = user
	h.UpdateTime = now
	h.MaintainedBy = []string{user}
}

// Stamp advances the version by one and records who changed the instance.
func (l *Ledger) Stamp(h *domain.InstanceHeader, user string) {
	h.Version++
	h.UpdatedBy = user
	h.UpdateTime = l.Now()
	if user != "" && !slices.Contains(h.MaintainedBy, user) {
		h.MaintainedBy = append(slices.Clone(h.MaintainedBy), user)
	}
}

// Snapshot captures the current properties of an instance.
func (l *Ledger) Snapshot(h domain.InstanceHeader, properties domain.InstanceProperties) domain.PropertySnapshot {
	return domain.PropertySnapshot{
		Version:    h.Version,
		Properties: properties.Clone(),
		UpdatedBy:  h.UpdatedBy,
		UpdateTime: h.UpdateTime,
	}
}

// Retain appends a snapshot to history, dropping the oldest entries beyond
// the retention bound. It returns a new slice.
func (l *Ledger) Retain(history []domain.PropertySnapshot, snap domain.PropertySnapshot) []domain.PropertySnapshot {
	if l.retention == 0 {
		return nil
	}
	out := append(slices.Clone(history), snap)
	if len(out) > l.retention {
		out = out[len(out)-l.retention:]
	}
	return out
}

// Undo pops the newest snapshot. The returned history no longer contains it,
// so repeated undo steps further back while snapshots remain.
func (l *Ledger) Undo(history []domain.PropertySnapshot) (domain.PropertySnapshot, []domain.PropertySnapshot, error) {
	if l.retention == 0 {
		return domain.PropertySnapshot{}, nil, ErrHistoryDisabled
	}
	if len(history) == 0 {
		return domain.PropertySnapshot{}, history, ErrNoSnapshot
	}
	last := len(history) - 1
	return history[last].Clone(), slices.Clone(history[:last]), nil
}
