package driveops

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestNewBandwidthLimiter_Unlimited(t *testing.T) {
	assert.Nil(t, NewBandwidthLimiter(0, nil))
	assert.Nil(t, NewBandwidthLimiter(-5, nil))
}

func TestBandwidthLimiter_NilWrapReturnsOriginal(t *testing.T) {
	var bl *BandwidthLimiter

	r := strings.NewReader("x")
	assert.Same(t, r, bl.WrapReader(context.Background(), r))
}

func TestBandwidthLimiter_WrapReaderPassesData(t *testing.T) {
	bl := NewBandwidthLimiter(1<<30, nil)
	require.NotNil(t, bl)

	data := bytes.Repeat([]byte("a"), 4096)
	got, err := io.ReadAll(bl.WrapReader(context.Background(), bytes.NewReader(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBandwidthLimiter_CanceledContext(t *testing.T) {
	// Tiny rate: the second read must wait and sees the canceled context.
	bl := &BandwidthLimiter{limiter: rate.NewLimiter(1, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := io.ReadAll(bl.WrapReader(ctx, bytes.NewReader(make([]byte, 64))))
	assert.Error(t, err)
}

func TestWaitN_SplitsAboveBurst(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 10)
	assert.NoError(t, waitN(context.Background(), limiter, 35))
}
