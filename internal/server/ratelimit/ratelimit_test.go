package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualClock is advanced explicitly by tests
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewLimiter(cfg)
	l.now = clock.Now
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiter_Allow(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: time.Minute})

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/records", "GET")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 10, info.Limit)
		assert.Equal(t, 9-i, info.Remaining)
	}

	allowed, info := limiter.Allow("127.0.0.1", "/records", "GET")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, 6*time.Second, info.RetryAfter, "one token refills every six seconds")
}

func TestLimiter_Refill(t *testing.T) {
	limiter, clock := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 60, DefaultWindow: time.Minute})

	for i := 0; i < 60; i++ {
		limiter.Allow("c", "/stats", "GET")
	}
	allowed, _ := limiter.Allow("c", "/stats", "GET")
	require.False(t, allowed)

	clock.Advance(time.Second)
	allowed, _ = limiter.Allow("c", "/stats", "GET")
	assert.True(t, allowed)

	allowed, _ = limiter.Allow("c", "/stats", "GET")
	assert.False(t, allowed)
}

func TestLimiter_ResetTime(t *testing.T) {
	limiter, clock := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 10, DefaultWindow: 10 * time.Second})

	for i := 0; i < 5; i++ {
		limiter.Allow("c", "/records", "GET")
	}
	_, info := limiter.Allow("c", "/records", "GET")
	assert.Equal(t, 4, info.Remaining)
	assert.Equal(t, clock.Now().Add(6*time.Second), info.ResetTime)
}

func TestLimiter_AllowAndDenyLists(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Allowlist:     map[string]bool{"10.0.0.1": true},
		Denylist:      map[string]bool{"10.0.0.2": true},
	})

	for i := 0; i < 5; i++ {
		allowed, info := limiter.Allow("10.0.0.1", "/records", "GET")
		assert.True(t, allowed)
		assert.Zero(t, info.Limit)
	}

	allowed, _ := limiter.Allow("10.0.0.2", "/records", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{Enabled: false, DefaultLimit: 1})

	for i := 0; i < 10; i++ {
		allowed, _ := limiter.Allow("c", "/uploads", "POST")
		assert.True(t, allowed)
	}
}

func TestLimiter_UploadTier(t *testing.T) {
	cfg := DefaultConfig()
	limiter, _ := newTestLimiter(t, cfg)

	for i := 0; i < 3; i++ {
		allowed, info := limiter.Allow("c", "/uploads", "POST")
		require.True(t, allowed)
		assert.Equal(t, 30, info.Limit)
	}
	allowed, info := limiter.Allow("c", "/uploads", "POST")
	assert.False(t, allowed, "burst of three exhausted")
	assert.Equal(t, 2*time.Minute, info.RetryAfter)

	allowed, _ = limiter.Allow("c", "/uploads/current", "GET")
	assert.True(t, allowed, "reads use the default tier")
}

func TestLimiter_HealthUnlimited(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute})

	for i := 0; i < 20; i++ {
		allowed, _ := limiter.Allow("c", "/health", "GET")
		assert.True(t, allowed)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{Enabled: true, DefaultLimit: 100, DefaultWindow: time.Hour})

	var allowedCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow("c", "/records", "GET"); ok {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(100), allowedCount.Load())
}

func TestLimiter_PruneIdleBuckets(t *testing.T) {
	limiter, clock := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Minute,
		IdleTTL:       time.Minute,
	})

	for i := 0; i < 4; i++ {
		limiter.Allow(fmt.Sprintf("10.0.0.%d", i), "/records", "GET")
	}
	clock.Advance(45 * time.Second)
	limiter.Allow("10.0.0.0", "/records", "GET")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 3, limiter.prune())
	assert.Len(t, limiter.buckets, 1)
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	l := NewLimiter(&Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Minute, CleanupInterval: time.Millisecond})
	l.Stop()
	assert.NotPanics(t, l.Stop)
}

func TestNewLimiter_NilConfig(t *testing.T) {
	limiter, _ := newTestLimiter(t, nil)

	allowed, info := limiter.Allow("127.0.0.1", "/records", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)
}

func TestMatchEndpoint(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/records/", Method: "DELETE", Limit: 5},
		{Path: "/records/pinned", Method: "DELETE", Limit: 1},
		{Path: "/uploads", Method: "POST", Limit: 2},
	}

	tests := []struct {
		name      string
		path      string
		method    string
		wantLimit int
		wantNil   bool
	}{
		{"exact", "/uploads", "POST", 2, false},
		{"exact beats prefix", "/records/pinned", "DELETE", 1, false},
		{"prefix", "/records/resume-1", "DELETE", 5, false},
		{"method mismatch", "/uploads", "GET", 0, true},
		{"no match", "/stats", "GET", 0, true},
		{"health", "/health", "GET", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantLimit, got.Limit)
		})
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	env := map[string]string{
		EnvDefaultLimit:  "50",
		EnvDefaultWindow: "30s",
		EnvUploadLimit:   "5",
		EnvAllowlist:     "10.0.0.1, 10.0.0.2,",
		EnvDenylist:      "bad-value-is-kept",
	}
	cfg := loadConfig(func(k string) string { return env[k] })

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.DefaultWindow)
	assert.Len(t, cfg.Allowlist, 2)
	assert.True(t, cfg.Denylist["bad-value-is-kept"])

	upload := MatchEndpoint("/uploads", "POST", cfg.Endpoints)
	require.NotNil(t, upload)
	assert.Equal(t, 5, upload.Limit)
}

func TestLoadConfig_Disabled(t *testing.T) {
	cfg := loadConfig(func(k string) string {
		if k == EnvEnabled {
			return "false"
		}
		return ""
	})
	assert.False(t, cfg.Enabled)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	cfg := loadConfig(func(k string) string {
		switch k {
		case EnvDefaultLimit:
			return "lots"
		case EnvDefaultWindow:
			return "forever"
		}
		return ""
	})
	assert.Equal(t, 1000, cfg.DefaultLimit)
	assert.Equal(t, time.Minute, cfg.DefaultWindow)
}
