//go:build linux && evdp_io_uring

package evdp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOURing_timeoutReplacesArmedOne(t *testing.T) {
	var r ioURing
	if err := r.open(4); err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	defer r.close()

	// an interrupted wait leaves its timeout armed
	require.NoError(t, r.prepTimeout(time.Hour))
	require.NoError(t, r.submit())
	require.Equal(t, 1, r.timeouts)

	require.NoError(t, r.prepTimeout(time.Hour))
	require.NoError(t, r.submit())

	out := make([]completion, 8)
	var got []completion
	require.Eventually(t, func() bool {
		if atomic.LoadUint32(r.cqTail) == *r.cqHead {
			return false
		}
		n, err := r.wait(-1, out)
		require.NoError(t, err)
		got = append(got, out[:n]...)
		return len(got) >= 2
	}, 2*time.Second, time.Millisecond)

	assert.Len(t, got, 2)
	for _, c := range got {
		assert.Equal(t, pollInternal, c.id)
	}
	assert.Equal(t, 1, r.timeouts)
}
