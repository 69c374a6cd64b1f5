package recovery

import (
	"runtime/debug"

	"github.com/rs/zerolog"
)

// SafeGo runs fn in a goroutine and logs instead of crashing if it panics.
func SafeGo(log zerolog.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("goroutine", name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
			}
		}()
		fn()
	}()
}

// SafeGoWithCleanup is SafeGo with a cleanup that runs even after a panic.
func SafeGoWithCleanup(log zerolog.Logger, name string, fn func(), cleanup func()) {
	go func() {
		defer func() {
			if cleanup != nil {
				cleanup()
			}
			if r := recover(); r != nil {
				log.Error().
					Str("goroutine", name).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
			}
		}()
		fn()
	}()
}
