package debug

import (
	"fmt"
	"log"
	"time"
)

// DebugHeader prints a section header for a traced operation
func DebugHeader(enabled bool) {
	if enabled {
		log.Printf("=== DEBUG START ===")
	}
}

// DebugFooter closes a section opened with DebugHeader
func DebugFooter(enabled bool) {
	if enabled {
		log.Printf("=== DEBUG END ===")
	}
}

// DebugOutput prints a timestamped trace line when enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if !enabled {
		return
	}
	timestamp := time.Now().Format("15:04:05.000")
	log.Printf("[%s] %s", timestamp, fmt.Sprintf(format, args...))
}

// DebugTiming logs how long an operation took. Call the returned func when
// the operation completes.
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	DebugOutput(enabled, "Starting: %s", operation)

	return func() {
		DebugOutput(enabled, "Completed: %s (took %v)", operation, time.Since(start))
	}
}
