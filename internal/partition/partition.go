// Package partition statically stripes manifest positions across worker slots.
//
// Assignment is a pure function of (position, slot count): re-running the
// same manifest against the same fleet reproduces the same split, which is
// what makes re-running a partially failed batch safe.
package partition

import (
	"iter"

	"workshop/internal/manifest"
)

// Assign returns the slot index that owns a manifest position.
func Assign(position, slots int) int {
	if slots <= 0 || position < 0 {
		return -1
	}
	return position % slots
}

// Limit returns how many manifest positions are considered for a manifest of
// total rows. The limit counts from the top of the full manifest and is
// applied before partitioning; limit <= 0 means unlimited.
func Limit(total, limit int) int {
	if total < 0 {
		return 0
	}
	if limit <= 0 || limit > total {
		return total
	}
	return limit
}

// Positions yields the manifest positions owned by slot index, in order.
// Invalid slot arguments yield nothing.
func Positions(total, slots, index, limit int) iter.Seq[int] {
	return func(yield func(int) bool) {
		if slots <= 0 || index < 0 || index >= slots {
			return
		}
		end := Limit(total, limit)
		for pos := index; pos < end; pos += slots {
			if !yield(pos) {
				return
			}
		}
	}
}

// Jobs lazily yields (position, job) pairs assigned to slot index. The
// sequence holds no cursor, so ranging over it twice yields the same jobs.
func Jobs(jobs []manifest.Job, slots, index, limit int) iter.Seq2[int, manifest.Job] {
	return func(yield func(int, manifest.Job) bool) {
		for pos := range Positions(len(jobs), slots, index, limit) {
			if !yield(pos, jobs[pos]) {
				return
			}
		}
	}
}

// Assignments returns the positions owned by every slot, indexed by slot.
func Assignments(total, slots, limit int) [][]int {
	if slots <= 0 {
		return nil
	}
	table := make([][]int, slots)
	for index := range slots {
		for pos := range Positions(total, slots, index, limit) {
			table[index] = append(table[index], pos)
		}
	}
	return table
}
