package api

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/goaltracker/internal/util"
)

// backoffPolicy describes an exponential lockout: once threshold failures
// accumulate, the key is locked for base, doubling per further failure up
// to max. Records idle for expiry are forgotten.
type backoffPolicy struct {
	threshold int
	base      time.Duration
	max       time.Duration
	expiry    time.Duration
}

func (p backoffPolicy) lockout(failures int) time.Duration {
	lockout := p.base
	for i := p.threshold; i < failures; i++ {
		lockout *= 2
		if lockout >= p.max {
			return p.max
		}
	}
	return lockout
}

var (
	// Keyed by accountKey, never the raw email.
	accountPolicy = backoffPolicy{threshold: 5, base: time.Minute, max: 15 * time.Minute, expiry: time.Hour}
	ipPolicy      = backoffPolicy{threshold: 20, base: time.Minute, max: 30 * time.Minute, expiry: time.Hour}
	// Registration hashes a password with Argon2id on every attempt, so
	// every request counts against the source IP, not just failures.
	registerIPPolicy = backoffPolicy{threshold: 5, base: 5 * time.Minute, max: time.Hour, expiry: time.Hour}
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// backoffLimiter tracks failures per key under a backoffPolicy.
type backoffLimiter struct {
	mu       sync.Mutex
	policy   backoffPolicy
	attempts map[string]*attemptRecord
	now      func() time.Time
}

func newBackoffLimiter(policy backoffPolicy) *backoffLimiter {
	return &backoffLimiter{
		policy:   policy,
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
}

// check returns true if the key is currently locked out, along with how
// long the caller should wait. A zero duration means the request may proceed.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastFailure) > rl.policy.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.failures++
	rec.lastFailure = now
	if rec.failures >= rl.policy.threshold {
		rec.lockedUntil = now.Add(rl.policy.lockout(rec.failures))
	}
}

func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.policy.expiry {
			delete(rl.attempts, key)
		}
	}
}

// windowLimiter locks every caller out once threshold events land within
// a sliding window.
type windowLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	threshold   int
	lockout     time.Duration
	events      []time.Time
	lockedUntil time.Time
	now         func() time.Time
}

func newWindowLimiter(window time.Duration, threshold int, lockout time.Duration) *windowLimiter {
	return &windowLimiter{window: window, threshold: threshold, lockout: lockout, now: time.Now}
}

func (rl *windowLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.events = trimWindow(append(rl.events, now), now, rl.window)
	if len(rl.events) >= rl.threshold {
		rl.lockedUntil = now.Add(rl.lockout)
	}
}

// loginThrottle combines the per-account, per-IP and global login limits.
type loginThrottle struct {
	accounts *backoffLimiter
	ips      *backoffLimiter
	global   *windowLimiter
}

func newLoginThrottle() *loginThrottle {
	return &loginThrottle{
		accounts: newBackoffLimiter(accountPolicy),
		ips:      newBackoffLimiter(ipPolicy),
		global:   newWindowLimiter(time.Minute, 100, 5*time.Minute),
	}
}

// check reports the longest active lockout among the three limits.
func (t *loginThrottle) check(account, ip string) (blocked bool, retryAfter time.Duration) {
	for _, f := range []func() (bool, time.Duration){
		t.global.check,
		func() (bool, time.Duration) { return t.ips.check(ip) },
		func() (bool, time.Duration) { return t.accounts.check(account) },
	} {
		if b, d := f(); b {
			blocked = true
			if d > retryAfter {
				retryAfter = d
			}
		}
	}
	return blocked, retryAfter
}

func (t *loginThrottle) failure(account, ip string) {
	t.accounts.recordFailure(account)
	t.ips.recordFailure(ip)
	t.global.record()
}

func (t *loginThrottle) success(account, ip string) {
	t.accounts.recordSuccess(account)
	t.ips.recordSuccess(ip)
}

func (t *loginThrottle) sweep() {
	t.accounts.sweep()
	t.ips.sweep()
}

// registerThrottle bounds sign-ups per IP and globally.
type registerThrottle struct {
	ips    *backoffLimiter
	global *windowLimiter
}

func newRegisterThrottle() *registerThrottle {
	return &registerThrottle{
		ips:    newBackoffLimiter(registerIPPolicy),
		global: newWindowLimiter(time.Minute, 50, 5*time.Minute),
	}
}

func (t *registerThrottle) check(ip string) (bool, time.Duration) {
	if blocked, d := t.global.check(); blocked {
		return true, d
	}
	return t.ips.check(ip)
}

func (t *registerThrottle) record(ip string) {
	t.ips.recordFailure(ip)
	t.global.record()
}

// accountKey identifies an account for rate limiting without keeping the
// email address in memory.
func accountKey(email string) string {
	sum := sha256.Sum256([]byte(util.NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// extractClientIP returns the client IP for rate limiting, honouring proxy
// headers only from the API's trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// if the request's RemoteAddr falls within one of trustedProxies. With no
// trusted proxies RemoteAddr is always returned.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if remoteIP == "" || !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}
	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		for _, elem := range strings.Split(fwd, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if len(param) < 4 || !strings.EqualFold(param[:4], "for=") {
					continue
				}
				if ip, ok := parseIPCandidate(param[4:]); ok {
					return ip
				}
			}
		}
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

func peerTrusted(ip string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
