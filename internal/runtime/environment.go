// Package runtime carries the injected capabilities the original system
// inferred from ambient global flags: test/demo mode, the clock, and the ID
// source. Passing these in keeps the orchestration components deterministic
// under test.
package runtime

import (
	"time"

	"github.com/google/uuid"
)

type Environment struct {
	// TestMode disables outbound side effects that tests should not trigger.
	TestMode bool
	// DemoMode makes the rectification orchestrator synthesize results
	// locally instead of calling the engine.
	DemoMode bool

	Now   func() time.Time
	NewID func() string
}

func Default() *Environment {
	return &Environment{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// Fixed returns an environment with a frozen clock and sequential IDs, for
// tests.
func Fixed(at time.Time, ids ...string) *Environment {
	i := 0
	return &Environment{
		TestMode: true,
		Now:      func() time.Time { return at },
		NewID: func() string {
			if i < len(ids) {
				id := ids[i]
				i++
				return id
			}
			return uuid.NewString()
		},
	}
}
