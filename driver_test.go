package evdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitMillis(t *testing.T) {
	for _, tc := range []struct {
		in   time.Duration
		want int
	}{
		{-1, -1},
		{-time.Hour, -1},
		{0, 0},
		{1, 1},
		{time.Millisecond, 1},
		{time.Millisecond + 1, 2},
		{1500 * time.Millisecond, 1500},
		{1000 * time.Hour, 1<<31 - 1},
	} {
		assert.Equal(t, tc.want, waitMillis(tc.in), tc.in.String())
	}
}
