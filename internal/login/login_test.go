package login

import "testing"

func TestUserSetContains(t *testing.T) {
	set := newUserSet(map[int]struct{}{1000: {}, 1002: {}, 1001: {}})

	if len(set) != 3 || set[0] != 1000 || set[1] != 1001 || set[2] != 1002 {
		t.Fatalf("newUserSet did not produce a sorted set: %v", set)
	}

	if !set.Contains(1001) {
		t.Error("expected set to contain 1001")
	}

	if set.Contains(9999) {
		t.Error("expected set not to contain 9999")
	}
}

func TestSnapshotGraphicalSubsetOfAll(t *testing.T) {
	snap := Snapshot{
		All:       newUserSet(map[int]struct{}{1000: {}, 1001: {}}),
		Graphical: newUserSet(map[int]struct{}{1000: {}}),
	}

	for _, uid := range snap.Graphical {
		if !snap.All.Contains(uid) {
			t.Fatalf("graphical uid %d missing from all_users", uid)
		}
	}
}
