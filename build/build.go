// Package build holds the handful of compile-time/run-time knobs voxelsched
// needs: which Release variant is running, and a Select helper for picking
// per-variant constants (default capacity limits in
// scheduler.DefaultBudgets, the progress reporter's default tick interval).
// Release is also consulted directly by Critical, below, to decide whether
// an invariant violation panics or merely logs.
package build

// Release identifies which build variant is running. It defaults to
// "standard"; callers embedding voxelsched in a test binary should set it to
// "testing" during TestMain so that Critical panics fail tests immediately
// instead of being silently logged.
var Release = "standard"

// DEBUG, when true, makes Critical panic even outside of the testing
// release.
var DEBUG = false

// Var represents a value that depends on which Release is active. None of
// the fields may be nil, and all fields must share an underlying type.
type Var struct {
	Standard interface{}
	Dev      interface{}
	Testing  interface{}
}

// Select returns the field of v corresponding to the current Release.
func Select(v Var) interface{} {
	if v.Standard == nil || v.Dev == nil || v.Testing == nil {
		panic("nil value in build variable")
	}
	switch Release {
	case "standard":
		return v.Standard
	case "dev":
		return v.Dev
	case "testing":
		return v.Testing
	default:
		panic("unrecognized Release: " + Release)
	}
}
