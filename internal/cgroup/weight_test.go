package cgroup

import "testing"

func TestWeightClamp(t *testing.T) {
	cases := []struct {
		in   Weight
		want Weight
	}{
		{0, MinWeight},
		{99999, MaxWeight},
		{5000, 5000},
		{WeightIgnore, WeightIgnore},
	}

	for _, tc := range cases {
		if got := tc.in.Clamp(); got != tc.want {
			t.Errorf("Weight(%d).Clamp() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestWeightIsIgnore(t *testing.T) {
	if !WeightIgnore.IsIgnore() {
		t.Error("WeightIgnore.IsIgnore() = false, want true")
	}

	if Weight(100).IsIgnore() {
		t.Error("Weight(100).IsIgnore() = true, want false")
	}
}
