package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rpattn/metarepo/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStampNewAndStamp(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := New(1, WithClock(fixedClock(created)))

	var h domain.InstanceHeader
	l.StampNew(&h, "alice")
	assert.Equal(t, int64(1), h.Version)
	assert.Equal(t, "alice", h.CreatedBy)
	assert.Equal(t, created, h.CreateTime)
	assert.Equal(t, created, h.UpdateTime)
	assert.Equal(t, []string{"alice"}, h.MaintainedBy)

	updated := created.Add(time.Hour)
	l.now = fixedClock(updated)
	l.Stamp(&h, "bob")
	l.Stamp(&h, "alice")
	assert.Equal(t, int64(3), h.Version)
	assert.Equal(t, "alice", h.UpdatedBy)
	assert.Equal(t, updated, h.UpdateTime)
	assert.Equal(t, created, h.CreateTime, "create time must not change")
	assert.Equal(t, "alice", h.CreatedBy, "creator must not change")
	assert.Equal(t, []string{"alice", "bob"}, h.MaintainedBy)
}

func TestRetainBoundsHistory(t *testing.T) {
	l := New(2)
	var history []domain.PropertySnapshot
	for v := int64(1); v <= 4; v++ {
		history = l.Retain(history, domain.PropertySnapshot{Version: v})
	}
	require.Len(t, history, 2)
	assert.Equal(t, int64(3), history[0].Version)
	assert.Equal(t, int64(4), history[1].Version)
}

func TestUndoPopsNewest(t *testing.T) {
	l := New(2)
	p1 := domain.InstanceProperties{"qualifiedName": domain.StringValue("t1")}
	history := l.Retain(nil, domain.PropertySnapshot{Version: 1, Properties: p1})
	history = l.Retain(history, domain.PropertySnapshot{Version: 2})

	snap, rest, err := l.Undo(history)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	require.Len(t, rest, 1)

	snap, rest, err = l.Undo(rest)
	require.NoError(t, err)
	assert.True(t, snap.Properties.Equal(p1))
	assert.Empty(t, rest)

	_, _, err = l.Undo(rest)
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Len(t, history, 2, "undo must not modify the caller's slice")
}

func TestUndoDisabled(t *testing.T) {
	l := New(0)
	assert.Nil(t, l.Retain(nil, domain.PropertySnapshot{Version: 1}))
	_, _, err := l.Undo(nil)
	assert.ErrorIs(t, err, ErrHistoryDisabled)
}

func TestStampIsMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(rapid.IntRange(0, 4).Draw(t, "retention"))
		var h domain.InstanceHeader
		l.StampNew(&h, "creator")
		users := rapid.SliceOf(rapid.SampledFrom([]string{"a", "b", "c"})).Draw(t, "users")
		for i, u := range users {
			before := h.Version
			l.Stamp(&h, u)
			if h.Version != before+1 {
				t.Fatalf("step %d: version %d -> %d", i, before, h.Version)
			}
		}
		if h.Version != int64(len(users))+1 {
			t.Fatalf("expected version %d, got %d", len(users)+1, h.Version)
		}
		if len(h.MaintainedBy) > 4 {
			t.Fatalf("maintainedBy holds duplicates: %v", h.MaintainedBy)
		}
	})
}
