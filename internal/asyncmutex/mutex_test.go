package asyncmutex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesCallers(t *testing.T) {
	m := New()
	var counter int
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			require := assert.New(t)
			require.NoError(m.Lock(ctx))
			defer m.Unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestLockRespectsContextCancellation(t *testing.T) {
	m := New()
	ctx := context.Background()
	assert.NoError(t, m.Lock(ctx))
	defer m.Unlock()

	cctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Lock(cctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnlockOfUnlockedPanics(t *testing.T) {
	m := New()
	assert.Panics(t, func() { m.Unlock() })
}
