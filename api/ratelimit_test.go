package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(policy backoffPolicy) (*backoffLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := newBackoffLimiter(policy)
	rl.now = clock.now
	return rl, clock
}

func TestBackoffLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl, _ := newTestLimiter(accountPolicy)
	for i := 0; i < accountPolicy.threshold-1; i++ {
		rl.recordFailure("acct-1")
		blocked, _ := rl.check("acct-1")
		assert.False(t, blocked, "should not block before reaching the threshold")
	}
}

func TestBackoffLimiter_BlocksAtThreshold(t *testing.T) {
	rl, _ := newTestLimiter(accountPolicy)
	for i := 0; i < accountPolicy.threshold; i++ {
		rl.recordFailure("acct-1")
	}
	blocked, retryAfter := rl.check("acct-1")
	require.True(t, blocked)
	assert.Equal(t, accountPolicy.base, retryAfter)
}

func TestBackoffLimiter_ExponentialBackoff(t *testing.T) {
	rl, _ := newTestLimiter(accountPolicy)
	for i := 0; i < accountPolicy.threshold; i++ {
		rl.recordFailure("acct-1")
	}
	_, first := rl.check("acct-1")
	rl.recordFailure("acct-1")
	_, second := rl.check("acct-1")
	assert.Equal(t, 2*first, second)
}

func TestBackoffLimiter_LockoutExpires(t *testing.T) {
	rl, clock := newTestLimiter(accountPolicy)
	for i := 0; i < accountPolicy.threshold; i++ {
		rl.recordFailure("acct-1")
	}
	clock.advance(accountPolicy.base + time.Second)
	blocked, _ := rl.check("acct-1")
	assert.False(t, blocked)
}

func TestBackoffLimiter_SuccessResetsCounter(t *testing.T) {
	rl, _ := newTestLimiter(accountPolicy)
	for i := 0; i < accountPolicy.threshold; i++ {
		rl.recordFailure("acct-1")
	}
	rl.recordSuccess("acct-1")
	blocked, _ := rl.check("acct-1")
	assert.False(t, blocked)
}

func TestBackoffLimiter_IsolatesKeys(t *testing.T) {
	rl, _ := newTestLimiter(accountPolicy)
	for i := 0; i < accountPolicy.threshold; i++ {
		rl.recordFailure("acct-1")
	}
	blocked, _ := rl.check("acct-2")
	assert.False(t, blocked)
}

func TestBackoffLimiter_SweepRemovesExpired(t *testing.T) {
	rl, clock := newTestLimiter(accountPolicy)
	rl.recordFailure("old")
	clock.advance(2 * accountPolicy.expiry)
	rl.recordFailure("fresh")
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.attempts, "old")
	assert.Contains(t, rl.attempts, "fresh")
}

func TestBackoffPolicy_MaxLockoutCap(t *testing.T) {
	for _, p := range []backoffPolicy{accountPolicy, ipPolicy, registerIPPolicy} {
		assert.Equal(t, p.max, p.lockout(p.threshold+50))
		assert.Equal(t, p.base, p.lockout(p.threshold))
	}
}

func TestWindowLimiter(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rl := newWindowLimiter(time.Minute, 3, 5*time.Minute)
	rl.now = clock.now

	rl.record()
	rl.record()
	clock.advance(2 * time.Minute)
	rl.record()
	blocked, _ := rl.check()
	assert.False(t, blocked, "events outside the window should not count")

	rl.record()
	rl.record()
	blocked, retryAfter := rl.check()
	require.True(t, blocked)
	assert.Equal(t, 5*time.Minute, retryAfter)
}

func TestLoginThrottle_LongestLockoutWins(t *testing.T) {
	th := newLoginThrottle()
	for i := 0; i < accountPolicy.threshold; i++ {
		th.failure("acct", "203.0.113.5")
	}
	blocked, retryAfter := th.check("acct", "203.0.113.5")
	require.True(t, blocked)
	assert.InDelta(t, accountPolicy.base.Seconds(), retryAfter.Seconds(), 1)

	blocked, _ = th.check("other-acct", "203.0.113.5")
	assert.False(t, blocked, "ip limit has a higher threshold")

	th.success("acct", "203.0.113.5")
	blocked, _ = th.check("acct", "203.0.113.5")
	assert.False(t, blocked)
}

func TestRegisterThrottle_CountsEveryRequest(t *testing.T) {
	th := newRegisterThrottle()
	for i := 0; i < registerIPPolicy.threshold; i++ {
		th.record("198.51.100.7")
	}
	blocked, _ := th.check("198.51.100.7")
	assert.True(t, blocked)
	blocked, _ = th.check("198.51.100.8")
	assert.False(t, blocked)
}

func TestAccountKey(t *testing.T) {
	assert.Equal(t, accountKey("Ann@Example.com "), accountKey("ann@example.com"))
	assert.NotContains(t, accountKey("ann@example.com"), "ann")
	assert.Len(t, accountKey("ann@example.com"), 64)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestExtractClientIPWithProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("fd00::/8")}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		proxies    []netip.Prefix
		want       string
	}{
		{"remote ipv4", "192.168.1.1:12345", nil, nil, "192.168.1.1"},
		{"remote ipv6", "[::1]:8080", nil, nil, "::1"},
		{"mapped ipv4 unmapped", "[::ffff:192.0.2.1]:80", nil, nil, "192.0.2.1"},
		{"no proxies ignores xff", "192.168.1.1:80", map[string]string{"X-Forwarded-For": "198.51.100.25"}, nil, "192.168.1.1"},
		{"trusted xff first valid wins", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "unknown, 198.51.100.25, 203.0.113.9"}, trusted, "198.51.100.25"},
		{"untrusted peer ignores xff", "192.168.1.1:80", map[string]string{"X-Forwarded-For": "198.51.100.25"}, trusted, "192.168.1.1"},
		{"trusted forwarded", "10.0.0.1:80", map[string]string{"Forwarded": `for="[2001:db8::1]:4711";proto=https`}, trusted, "2001:db8::1"},
		{"trusted x-real-ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "203.0.113.11"}, trusted, "203.0.113.11"},
		{"trusted ipv6 proxy", "[fd00::1]:80", map[string]string{"X-Forwarded-For": "198.51.100.2"}, trusted, "198.51.100.2"},
		{"trusted no headers", "10.0.0.1:80", nil, trusted, "10.0.0.1"},
		{"unparseable remote", "not-a-hostport", nil, trusted, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.proxies))
		})
	}
}
