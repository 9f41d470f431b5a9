package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsSentinel(t *testing.T) {
	err := Engine("repository.open", CodeNotFound, io.EOF)

	assert.True(t, Is(err, ErrNotFound))
	assert.True(t, Is(err, io.EOF))
	assert.False(t, Is(err, ErrAuth))
	assert.False(t, Is(err, ErrType))
}

func TestErrorIsWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", Typef("callback", "got %T", 42))

	assert.True(t, Is(err, ErrType))
	assert.False(t, Is(err, ErrNotFound))
	assert.Equal(t, KindType, KindOf(err))
	assert.Equal(t, CodeGeneric, CodeOf(err))
}

func TestErrorIsNotSentinel(t *testing.T) {
	a := Engine("a", CodeNotFound, io.EOF)
	b := Engine("b", CodeNotFound, io.EOF)

	assert.False(t, Is(a, b))
	assert.True(t, Is(a, a))
}

func TestEngineNil(t *testing.T) {
	assert.NoError(t, Engine("op", CodeIo, nil))
}

func TestKindAndCode(t *testing.T) {
	err := Engine("remote.connect", CodeAuth, io.ErrUnexpectedEOF)
	assert.Equal(t, KindEngine, KindOf(err))
	assert.Equal(t, CodeAuth, CodeOf(err))

	assert.Equal(t, Kind(0), KindOf(io.EOF))
	assert.Equal(t, CodeGeneric, CodeOf(FatalLockState("op", io.EOF)))
}

func TestErrorString(t *testing.T) {
	err := Engine("repository.open", CodeNotFound, New("repository does not exist"))
	assert.Equal(t, "repository.open: engine/not-found: repository does not exist", err.Error())

	err = Scheduling("dispatch.submit", New("queue is full"))
	assert.Equal(t, "dispatch.submit: scheduling: queue is full", err.Error())

	assert.Equal(t, "fatal-lock-state", ErrFatalLockState.Error())
}

func TestFault(t *testing.T) {
	err := Fault("task", "boom")
	assert.True(t, Is(err, ErrFault))
	assert.Contains(t, err.Error(), "panic: boom")
}
