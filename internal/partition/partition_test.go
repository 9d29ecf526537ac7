package partition_test

import (
	"fmt"
	"slices"
	"testing"

	"workshop/internal/manifest"
	"workshop/internal/partition"
)

func makeJobs(n int) []manifest.Job {
	jobs := make([]manifest.Job, n)
	for i := range jobs {
		jobs[i] = manifest.Job{ID: fmt.Sprintf("J%02d", i)}
	}
	return jobs
}

func TestAssignmentsCoverAndAreDisjoint(t *testing.T) {
	for _, total := range []int{0, 1, 2, 7, 20} {
		for _, slots := range []int{1, 2, 3, 8} {
			for _, limit := range []int{0, 1, 5, 100} {
				name := fmt.Sprintf("L=%d/S=%d/limit=%d", total, slots, limit)
				table := partition.Assignments(total, slots, limit)
				if len(table) != slots {
					t.Fatalf("%s: expected %d slots, got %d", name, slots, len(table))
				}
				seen := make(map[int]int)
				for index, positions := range table {
					for _, pos := range positions {
						if prev, dup := seen[pos]; dup {
							t.Fatalf("%s: position %d owned by slots %d and %d", name, pos, prev, index)
						}
						seen[pos] = index
						if partition.Assign(pos, slots) != index {
							t.Fatalf("%s: position %d in slot %d but Assign says %d", name, pos, index, partition.Assign(pos, slots))
						}
					}
				}
				want := partition.Limit(total, limit)
				if len(seen) != want {
					t.Fatalf("%s: expected %d positions covered, got %d", name, want, len(seen))
				}
				for pos := range want {
					if _, ok := seen[pos]; !ok {
						t.Fatalf("%s: position %d not covered", name, pos)
					}
				}
			}
		}
	}
}

func TestJobsIsDeterministicAndRestartable(t *testing.T) {
	jobs := makeJobs(10)
	seq := partition.Jobs(jobs, 3, 1, 0)

	collect := func() []string {
		var ids []string
		for _, job := range seq {
			ids = append(ids, job.ID)
		}
		return ids
	}
	first := collect()
	second := collect()
	want := []string{"J01", "J04", "J07"}
	if !slices.Equal(first, want) {
		t.Fatalf("unexpected assignment %v, want %v", first, want)
	}
	if !slices.Equal(first, second) {
		t.Fatalf("expected identical re-iteration, got %v then %v", first, second)
	}
}

func TestLimitAppliesBeforePartitioning(t *testing.T) {
	jobs := makeJobs(10)
	var slot1 []int
	for pos := range partition.Jobs(jobs, 2, 1, 4) {
		slot1 = append(slot1, pos)
	}
	if !slices.Equal(slot1, []int{1, 3}) {
		t.Fatalf("expected positions [1 3] under limit 4, got %v", slot1)
	}
}

func TestTwoJobsTwoSlots(t *testing.T) {
	jobs := []manifest.Job{{ID: "A"}, {ID: "B"}}
	for index, want := range []string{"A", "B"} {
		var got []string
		for _, job := range partition.Jobs(jobs, 2, index, 0) {
			got = append(got, job.ID)
		}
		if !slices.Equal(got, []string{want}) {
			t.Fatalf("slot %d: expected [%s], got %v", index, want, got)
		}
	}
}

func TestInvalidSlotArgumentsYieldNothing(t *testing.T) {
	jobs := makeJobs(3)
	for _, args := range [][2]int{{0, 0}, {2, -1}, {2, 2}} {
		for range partition.Jobs(jobs, args[0], args[1], 0) {
			t.Fatalf("expected no jobs for slots=%d index=%d", args[0], args[1])
		}
	}
	if partition.Assign(3, 0) != -1 {
		t.Fatal("expected -1 for zero slots")
	}
	if partition.Assignments(3, 0, 0) != nil {
		t.Fatal("expected nil table for zero slots")
	}
}

func TestEarlyBreakStopsIteration(t *testing.T) {
	jobs := makeJobs(9)
	count := 0
	for range partition.Jobs(jobs, 1, 0, 0) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("expected iteration to stop after break, got %d", count)
	}
}
