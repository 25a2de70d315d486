// Package checkpoint provides an append-only, time-indexed history of a single
// numeric series with point-in-time lookups.
package checkpoint

import (
	"math"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	// ErrDecreasingTimepoint is returned by Push when the timepoint is older
	// than the latest stored checkpoint.
	ErrDecreasingTimepoint = errors.New("checkpoint: decreasing timepoint")
	// ErrInvalidTimepoint is returned by clock-aware callers when a past lookup
	// targets the current (not yet final) timepoint or a future one.
	ErrInvalidTimepoint = errors.New("checkpoint: invalid timepoint")
)

// Checkpoint records Value from Timepoint onward until superseded.
type Checkpoint struct {
	Timepoint uint64
	Value     uint256.Int
}

// Trace is an ordered sequence of checkpoints. The zero value is an empty trace
// ready for use. A Trace is not safe for concurrent use.
type Trace struct {
	checkpoints []Checkpoint
}

// Push stores value at timepoint and returns the previous latest value and the
// new one. A write at the latest timepoint overwrites it.
func (t *Trace) Push(timepoint uint64, value *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	n := len(t.checkpoints)
	if n > 0 {
		last := &t.checkpoints[n-1]
		if last.Timepoint > timepoint {
			return nil, nil, errors.Wrapf(ErrDecreasingTimepoint, "push at %d after %d", timepoint, last.Timepoint)
		}
		old := last.Value.Clone()
		if last.Timepoint == timepoint {
			last.Value.Set(value)
			return old, value.Clone(), nil
		}
		t.checkpoints = append(t.checkpoints, Checkpoint{Timepoint: timepoint, Value: *value})
		return old, value.Clone(), nil
	}
	t.checkpoints = append(t.checkpoints, Checkpoint{Timepoint: timepoint, Value: *value})
	return new(uint256.Int), value.Clone(), nil
}

// CanPush reports whether a Push at timepoint would succeed.
func (t *Trace) CanPush(timepoint uint64) bool {
	n := len(t.checkpoints)
	return n == 0 || t.checkpoints[n-1].Timepoint <= timepoint
}

// Latest returns the value of the most recent checkpoint, or zero if empty.
func (t *Trace) Latest() *uint256.Int {
	n := len(t.checkpoints)
	if n == 0 {
		return new(uint256.Int)
	}
	return t.checkpoints[n-1].Value.Clone()
}

// LatestCheckpoint returns the most recent checkpoint and whether one exists.
func (t *Trace) LatestCheckpoint() (Checkpoint, bool) {
	n := len(t.checkpoints)
	if n == 0 {
		return Checkpoint{}, false
	}
	return t.checkpoints[n-1], true
}

// Len returns the number of stored checkpoints.
func (t *Trace) Len() int {
	return len(t.checkpoints)
}

// At returns the checkpoint at position i.
func (t *Trace) At(i int) Checkpoint {
	return t.checkpoints[i]
}

// UpperLookup returns the value at the greatest timepoint lower than or equal
// to timepoint, or zero if there is none.
func (t *Trace) UpperLookup(timepoint uint64) *uint256.Int {
	pos := t.upperBinaryLookup(timepoint, 0, len(t.checkpoints))
	if pos == 0 {
		return new(uint256.Int)
	}
	return t.checkpoints[pos-1].Value.Clone()
}

// UpperLookupRecent is UpperLookup tuned for queries near the end of the
// trace: it narrows the search window to the last sqrt(n) entries first.
func (t *Trace) UpperLookupRecent(timepoint uint64) *uint256.Int {
	n := len(t.checkpoints)
	low, high := 0, n
	if n > 5 {
		mid := n - int(math.Sqrt(float64(n)))
		if timepoint < t.checkpoints[mid].Timepoint {
			high = mid
		} else {
			low = mid + 1
		}
	}
	pos := t.upperBinaryLookup(timepoint, low, high)
	if pos == 0 {
		return new(uint256.Int)
	}
	return t.checkpoints[pos-1].Value.Clone()
}

// LowerLookup returns the value at the first checkpoint whose timepoint is
// greater than or equal to timepoint, or zero if there is none.
func (t *Trace) LowerLookup(timepoint uint64) *uint256.Int {
	n := len(t.checkpoints)
	pos := t.lowerBinaryLookup(timepoint, 0, n)
	if pos == n {
		return new(uint256.Int)
	}
	return t.checkpoints[pos].Value.Clone()
}

// Checkpoints returns a copy of the stored history.
func (t *Trace) Checkpoints() []Checkpoint {
	out := make([]Checkpoint, len(t.checkpoints))
	copy(out, t.checkpoints)
	return out
}

// upperBinaryLookup returns the index of the first checkpoint in [low, high)
// with a timepoint strictly greater than timepoint, or high if none.
func (t *Trace) upperBinaryLookup(timepoint uint64, low, high int) int {
	for low < high {
		mid := int(uint(low+high) >> 1)
		if t.checkpoints[mid].Timepoint > timepoint {
			high = mid
		} else {
			low = mid + 1
		}
	}
	return high
}

// lowerBinaryLookup returns the index of the first checkpoint in [low, high)
// with a timepoint greater than or equal to timepoint, or high if none.
func (t *Trace) lowerBinaryLookup(timepoint uint64, low, high int) int {
	for low < high {
		mid := int(uint(low+high) >> 1)
		if t.checkpoints[mid].Timepoint < timepoint {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return high
}

// RequirePast fails with ErrInvalidTimepoint unless timepoint is strictly
// before now.
func RequirePast(timepoint, now uint64) error {
	if timepoint >= now {
		return errors.Wrapf(ErrInvalidTimepoint, "lookup at %d, current timepoint %d", timepoint, now)
	}
	return nil
}
