package arm32

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCondOpposite(t *testing.T) {
	for c := CondEQ; c < CondAL; c++ {
		c := c
		t.Run(c.String(), func(t *testing.T) {
			opp := c.Opposite()
			require.NotEqual(t, c, opp)
			// The table is an involution away from AL.
			require.Equal(t, c, opp.Opposite())
		})
	}
}

func TestCondOppositeOfALPanics(t *testing.T) {
	require.Panics(t, func() { CondAL.Opposite() })
}

func TestCondString(t *testing.T) {
	require.Equal(t, "eq", CondEQ.String())
	require.Equal(t, "ls", CondLS.String())
	require.Equal(t, "", CondAL.String())
}
