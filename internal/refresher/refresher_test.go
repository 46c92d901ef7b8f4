package refresher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigateway/aigateway/internal/credential"
)

func TestIsExpiryNear(t *testing.T) {
	pool := credential.NewManager(3)
	r := New(pool, time.Minute, nil)

	c := credential.New("anthropic", "")
	c.TokenExpiry = time.Now().Add(30 * time.Second)
	assert.True(t, r.IsExpiryNear(c))

	c.TokenExpiry = time.Now().Add(time.Hour)
	assert.False(t, r.IsExpiryNear(c))
}

func TestRefreshSkipsWhenNotNearExpiry(t *testing.T) {
	pool := credential.NewManager(3)
	r := New(pool, time.Minute, nil)
	var calls int32
	r.Register("anthropic", func(ctx context.Context, c *credential.Credential) (Refreshed, error) {
		atomic.AddInt32(&calls, 1)
		return Refreshed{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	c := credential.New("anthropic", "")
	c.TokenExpiry = time.Now().Add(time.Hour)
	require.NoError(t, r.Refresh(context.Background(), c))
	assert.Equal(t, int32(0), calls)
}

func TestRefreshCollapsesConcurrentCalls(t *testing.T) {
	pool := credential.NewManager(3)
	r := New(pool, time.Minute, nil)
	var calls int32
	release := make(chan struct{})
	r.Register("anthropic", func(ctx context.Context, c *credential.Credential) (Refreshed, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Refreshed{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	c := credential.New("anthropic", "")
	c.TokenExpiry = time.Now().Add(-time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Refresh(context.Background(), c)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, "new", c.AccessToken)
}

func TestForceRefreshIgnoresExpiryWindow(t *testing.T) {
	pool := credential.NewManager(3)
	r := New(pool, time.Minute, nil)
	var calls int32
	r.Register("anthropic", func(ctx context.Context, c *credential.Credential) (Refreshed, error) {
		atomic.AddInt32(&calls, 1)
		return Refreshed{AccessToken: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	c := credential.New("anthropic", "")
	c.TokenExpiry = time.Now().Add(time.Hour)
	require.NoError(t, r.ForceRefresh(context.Background(), c))
	assert.Equal(t, int32(1), calls)
}

func TestRefreshFailureIncrementsErrorCountWithoutQuarantine(t *testing.T) {
	pool := credential.NewManager(3)
	r := New(pool, time.Minute, nil)
	r.Register("anthropic", func(ctx context.Context, c *credential.Credential) (Refreshed, error) {
		return Refreshed{}, assertErr
	})

	c := credential.New("anthropic", "")
	pool.Add(c)
	c.TokenExpiry = time.Now().Add(-time.Second)

	err := r.Refresh(context.Background(), c)
	assert.Error(t, err)
	assert.False(t, c.Health.Quarantined)
	assert.Equal(t, 1, c.Health.ErrorCount)
}

var assertErr = errRefreshFailed{}

type errRefreshFailed struct{}

func (errRefreshFailed) Error() string { return "refresh failed" }
