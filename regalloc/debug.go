package regalloc

// LoggingEnabled and ValidationEnabled gate verbose tracing and the extra
// invariant re-checks in validate.go: compile-time switches an embedder
// flips, never load-bearing for the algorithm itself. Logging defaults
// off; validation defaults on, since its cost is small next to the
// confidence it buys until this allocator has enough production mileage
// to turn it off.
const (
	LoggingEnabled    = false
	ValidationEnabled = true
)

// Logf, when non-nil, receives every trace line gated by LoggingEnabled.
// Left nil by default so a production build pays nothing for it.
var Logf func(format string, args ...any)

func logf(format string, args ...any) {
	if LoggingEnabled && Logf != nil {
		Logf(format, args...)
	}
}
