package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheSettleRequest(nonce string) SettleRequest {
	return SettleRequest{
		PaymentPayload: PaymentPayload{
			X402Version: 2,
			Scheme:      SchemeExact,
			Network:     "eip155:8453",
			Signature:   "0xabcdef",
			Authorization: Authorization{
				From:  "0x1111111111111111111111111111111111111111",
				To:    "0x2222222222222222222222222222222222222222",
				Value: "100",
				Nonce: nonce,
			},
		},
		PaymentRequirements: PaymentRequirements{Scheme: SchemeExact, Network: "eip155:8453"},
	}
}

func TestSettlementKeyDeterministic(t *testing.T) {
	k1, err := SettlementKey(cacheSettleRequest("1"))
	require.NoError(t, err)
	k2, err := SettlementKey(cacheSettleRequest("1"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := SettlementKey(cacheSettleRequest("2"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestCacheCheckAndMarkLifecycle(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	key := "k1"

	status, cached, done := c.CheckAndMark(key)
	require.Equal(t, StatusNotFound, status)
	assert.Nil(t, cached)
	require.NotNil(t, done)

	// A duplicate while in flight waits on the first caller's channel.
	status2, cached2, done2 := c.CheckAndMark(key)
	assert.Equal(t, StatusInFlight, status2)
	assert.Nil(t, cached2)
	assert.Equal(t, done, done2)

	resp := &SettleResponse{Success: true, Reference: "ref-1"}
	c.Complete(key, resp, done)

	status3, cached3, _ := c.CheckAndMark(key)
	assert.Equal(t, StatusCached, status3)
	assert.Equal(t, resp, cached3)
	assert.Equal(t, resp, c.Get(key))
}

func TestCacheFailAllowsRetry(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	key := "k2"

	_, _, done := c.CheckAndMark(key)
	c.Fail(key, done)

	assert.Nil(t, c.Get(key))
	status, _, done2 := c.CheckAndMark(key)
	assert.Equal(t, StatusNotFound, status)
	require.NotNil(t, done2)
}

func TestCacheWaitForResult(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	key := "k3"

	_, _, done := c.CheckAndMark(key)

	resultCh := make(chan *SettleResponse, 1)
	go func() {
		result, err := c.WaitForResult(context.Background(), key, done)
		require.NoError(t, err)
		resultCh <- result
	}()

	resp := &SettleResponse{Success: true}
	c.Complete(key, resp, done)

	select {
	case result := <-resultCh:
		assert.Equal(t, resp, result)
	case <-time.After(time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestCacheWaitForResultContextCancel(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	key := "k4"

	_, _, done := c.CheckAndMark(key)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.WaitForResult(ctx, key, done)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCacheExpiry(t *testing.T) {
	c := NewSettlementCache(10 * time.Millisecond)
	key := "k5"

	_, _, done := c.CheckAndMark(key)
	c.Complete(key, &SettleResponse{Success: true}, done)
	require.NotNil(t, c.Get(key))

	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get(key))

	status, _, _ := c.CheckAndMark(key)
	assert.Equal(t, StatusNotFound, status)
}

func TestCacheCoalescesConcurrentDuplicates(t *testing.T) {
	c := NewSettlementCache(time.Minute)
	key := "k6"

	const n = 16
	var owners int
	var mu sync.Mutex
	var wg sync.WaitGroup

	resp := &SettleResponse{Success: true, Reference: "ref-coalesced"}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, cached, done := c.CheckAndMark(key)
			switch status {
			case StatusNotFound:
				mu.Lock()
				owners++
				mu.Unlock()
				time.Sleep(5 * time.Millisecond) // hold the in-flight slot
				c.Complete(key, resp, done)
			case StatusInFlight:
				result, err := c.WaitForResult(context.Background(), key, done)
				require.NoError(t, err)
				assert.Equal(t, resp, result)
			case StatusCached:
				assert.Equal(t, resp, cached)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, owners, "exactly one caller runs the settlement")
}
