package bench

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karasz/sms"
)

func testScheme(t *testing.T) *sms.Scheme {
	t.Helper()
	s, err := sms.New(sms.MustGroup(sms.GroupMODP1536, sms.HashSHA256), sms.Secp256k1())
	require.NoError(t, err)
	return s
}

func TestRun(t *testing.T) {
	results, err := Run(context.Background(), testScheme(t), []int{1, 3}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for i, n := range []int{1, 3} {
		assert.Equal(t, n, results[i].N)
		assert.Equal(t, 2, results[i].Rounds)
		assert.Greater(t, int64(results[i].Resign), int64(0))
		assert.Greater(t, int64(results[i].Sanitize), int64(0))
	}
}

func TestRun_Errors(t *testing.T) {
	_, err := Run(context.Background(), testScheme(t), []int{0}, 1)
	assert.ErrorIs(t, err, sms.ErrNoEndorsers)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := Run(ctx, testScheme(t), DefaultSizes, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}

func TestSpeedup(t *testing.T) {
	assert.InDelta(t, 4.0, Result{Resign: 4 * time.Millisecond, Sanitize: time.Millisecond}.Speedup(), 1e-9)
	assert.True(t, math.IsInf(Result{Resign: time.Millisecond}.Speedup(), 1))
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, []Result{
		{N: 3, Resign: 1500 * time.Microsecond, Sanitize: 150 * time.Microsecond},
		{N: 100, Resign: 50 * time.Millisecond, Sanitize: 150 * time.Microsecond},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "re-sign")
	assert.True(t, strings.HasPrefix(lines[1], "3 "))
	assert.Contains(t, lines[1], "1.500 ms")
	assert.Contains(t, lines[1], "10.0x")
	assert.Contains(t, lines[2], "50.00 ms")
	assert.Contains(t, lines[2], "333.3x")
}
