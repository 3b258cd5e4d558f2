package gatekit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gatekit/gatekit"
)

func TestRetryDelay(t *testing.T) {
	seq := []time.Duration{
		100 * time.Millisecond,
		500 * time.Millisecond,
		2 * time.Second,
	}

	assert.Equal(t, 100*time.Millisecond, gatekit.RetryDelay(0, seq))
	assert.Equal(t, 500*time.Millisecond, gatekit.RetryDelay(1, seq))
	assert.Equal(t, 2*time.Second, gatekit.RetryDelay(2, seq))

	// Past the end of the sequence the last entry applies.
	assert.Equal(t, 2*time.Second, gatekit.RetryDelay(3, seq))
	assert.Equal(t, 2*time.Second, gatekit.RetryDelay(100, seq))
}

func TestRetryDelay_Degenerate(t *testing.T) {
	assert.Equal(t, time.Duration(0), gatekit.RetryDelay(0, nil))
	assert.Equal(t, time.Duration(0), gatekit.RetryDelay(5, []time.Duration{}))
	assert.Equal(t, time.Duration(0), gatekit.RetryDelay(-1, []time.Duration{time.Second}))
}
