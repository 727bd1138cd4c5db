package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithStageTimeout(t *testing.T) {
	ctx := context.Background()

	// No deadline by default
	ctx2, cancel := WithStageTimeout(ctx, 0)
	defer cancel()
	_, ok := ctx2.Deadline()
	assert.False(t, ok)

	// Custom timeout
	ctx3, cancel2 := WithStageTimeout(ctx, 5*time.Second)
	defer cancel2()
	deadline, ok := ctx3.Deadline()
	assert.True(t, ok)
	assert.True(t, deadline.Before(time.Now().Add(10*time.Second)))
}

func TestAnnotateDeadline(t *testing.T) {
	cause := errors.New("create interrupted")

	parent := context.Background()
	expired, cancel := context.WithTimeout(parent, time.Nanosecond)
	defer cancel()
	<-expired.Done()

	err := annotateDeadline(parent, expired, time.Minute, cause)
	assert.EqualError(t, err, "exceeded stage deadline of 1m0s: create interrupted")
	assert.ErrorIs(t, err, cause)

	// A cancelled parent is an interruption, not a stage deadline.
	cancelled, cancelParent := context.WithCancel(parent)
	cancelParent()
	assert.Equal(t, cause, annotateDeadline(cancelled, expired, time.Minute, cause))

	live, cancelLive := context.WithCancel(parent)
	defer cancelLive()
	assert.Equal(t, cause, annotateDeadline(parent, live, time.Minute, cause))
	assert.NoError(t, annotateDeadline(parent, expired, time.Minute, nil))
}
