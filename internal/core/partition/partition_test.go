package partition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForIsStable(t *testing.T) {
	for _, key := range []string{"order-1", "product-42", ""} {
		first := For(key)
		for i := 0; i < 10; i++ {
			require.Equal(t, first, For(key))
		}
	}
}

func TestForStaysInRange(t *testing.T) {
	for i := 0; i < 10000; i++ {
		p := For(fmt.Sprintf("key-%d", i))
		require.GreaterOrEqual(t, p, 0)
		require.Less(t, p, Count)
	}
}

func TestForSpreadsKeys(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 10000; i++ {
		seen[For(fmt.Sprintf("key-%d", i))] = true
	}
	// With 10k keys over 64 partitions every partition should be hit.
	require.Len(t, seen, Count)
}
