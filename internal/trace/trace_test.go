package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-git/go-git-bridge/utils/trace"
)

func TestReadEnv(t *testing.T) {
	t.Cleanup(func() { trace.SetTarget(0) })

	t.Setenv("GIT_BRIDGE_TRACE_LOCK", "true")
	t.Setenv("GIT_BRIDGE_TRACE_TASK", "1")
	t.Setenv("GIT_BRIDGE_TRACE_CALLBACK", "nope")
	ReadEnv()

	assert.True(t, trace.Enabled(trace.Lock))
	assert.True(t, trace.Enabled(trace.Task))
	assert.False(t, trace.Enabled(trace.Callback))
	assert.False(t, trace.Enabled(trace.General))
}
