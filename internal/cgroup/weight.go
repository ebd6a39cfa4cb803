// Package cgroup implements the small set of control-group v2 path,
// weight and memory helpers shared by the arbiter, the app monitor/policy
// engine, and cgroupify.
package cgroup

import "fmt"

// Weight is a CPU or I/O controller weight, or the sentinel WeightIgnore
// meaning "leave the service manager's current value alone".
//
// The original C implementation represents this sentinel as
// WEIGHT_IGNORE = G_MININT stashed in a plain gint; this module gives it
// its own type so call sites read as intent rather than arithmetic.
type Weight int64

// WeightIgnore means the field is omitted from the bus call entirely.
const WeightIgnore Weight = -1

// MinWeight and MaxWeight bound every other weight value.
const (
	MinWeight Weight = 1
	MaxWeight Weight = 10000
)

// IsIgnore reports whether w is the ignore sentinel.
func (w Weight) IsIgnore() bool {
	return w == WeightIgnore
}

// Clamp restricts w to [MinWeight, MaxWeight], leaving WeightIgnore untouched.
func (w Weight) Clamp() Weight {
	if w.IsIgnore() {
		return w
	}

	if w < MinWeight {
		return MinWeight
	}

	if w > MaxWeight {
		return MaxWeight
	}

	return w
}

// String renders the weight, or "ignore" for the sentinel.
func (w Weight) String() string {
	if w.IsIgnore() {
		return "ignore"
	}

	return fmt.Sprintf("%d", int64(w))
}
