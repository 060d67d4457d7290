package evdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerdict_String(t *testing.T) {
	for v, want := range map[Verdict]string{
		Continue:      "continue",
		Remove:        "remove",
		Close:         "close",
		BreakExpected: "break_expected",
		BreakError:    "break_error",
		EndForeach:    "end_foreach",
		Verdict(-1):   "verdict(-1)",
	} {
		assert.Equal(t, want, v.String())
	}
}

func TestVerdict_predicates(t *testing.T) {
	assert.True(t, Remove.removes())
	assert.True(t, Close.removes())
	assert.False(t, Continue.removes())
	assert.False(t, BreakError.removes())

	assert.True(t, BreakExpected.breaks())
	assert.True(t, BreakError.breaks())
	assert.False(t, EndForeach.breaks())
}
