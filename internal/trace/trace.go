// Package trace provides functions to read environment variables for enabling
// trace targets in go-git-bridge.
package trace

import (
	"os"
	"strconv"

	"github.com/go-git/go-git-bridge/utils/trace"
)

// envToTarget maps what environment variables can be used
// to enable specific trace targets.
var envToTarget = map[string]trace.Target{
	"GIT_BRIDGE_TRACE":          trace.General,
	"GIT_BRIDGE_TRACE_LOCK":     trace.Lock,
	"GIT_BRIDGE_TRACE_TASK":     trace.Task,
	"GIT_BRIDGE_TRACE_CALLBACK": trace.Callback,
}

// ReadEnv reads the environment variables and sets the trace targets.
func ReadEnv() {
	var target trace.Target
	for k, v := range envToTarget {
		env := os.Getenv(k)
		if val, _ := strconv.ParseBool(env); val {
			target |= v
		}
	}
	trace.SetTarget(target)
}
