// Package recovery keeps a panicking goroutine from taking the daemon down.
package recovery

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/semihalev/zlog/v2"
)

// Guard recovers a panic in the calling goroutine, logs it with the stack
// and calls cleanup. It must be called directly by a deferred statement.
func Guard(where string, cleanup func()) {
	r := recover()
	if r == nil {
		return
	}

	zlog.Error("Recovered in "+where, "recover", r)

	_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", r))
	debug.PrintStack()

	if cleanup != nil {
		cleanup()
	}
}
