package tunnel

import (
	"sync"
	"time"
)

// RateLimitConfig holds configuration for admission control.
type RateLimitConfig struct {
	// MaxConnectionsPerIP is the maximum number of concurrent connections
	// allowed from a single IP. 0 means no limit.
	MaxConnectionsPerIP int

	// HandshakeRateLimit is the maximum number of handshakes per second
	// allowed globally. 0 means no limit.
	HandshakeRateLimit float64

	// HandshakeBurst is the maximum burst of handshakes allowed.
	// If 0, defaults to 1 when HandshakeRateLimit is set.
	HandshakeBurst int
}

// IPRateLimiter tracks and limits the number of concurrent connections per IP.
type IPRateLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	maxPerIP    int
}

// NewIPRateLimiter creates a new IPRateLimiter.
func NewIPRateLimiter(maxPerIP int) *IPRateLimiter {
	return &IPRateLimiter{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// Acquire reserves a connection slot for ip.
func (l *IPRateLimiter) Acquire(ip string) bool {
	if l == nil || l.maxPerIP <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] >= l.maxPerIP {
		return false
	}
	l.connections[ip]++
	return true
}

// Release returns a slot taken by Acquire.
func (l *IPRateLimiter) Release(ip string) {
	if l == nil || l.maxPerIP <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connections[ip] > 0 {
		l.connections[ip]--
		if l.connections[ip] == 0 {
			delete(l.connections, ip)
		}
	}
}

// Active returns the number of slots held by ip.
func (l *IPRateLimiter) Active(ip string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connections[ip]
}

// HandshakeLimiter limits the rate of handshakes using a token bucket.
type HandshakeLimiter struct {
	mu         sync.Mutex
	rate       float64
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewHandshakeLimiter creates a limiter allowing rate handshakes per second
// with bursts up to burst. now may be nil.
func NewHandshakeLimiter(rate float64, burst int, now func() time.Time) *HandshakeLimiter {
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = 1
	}
	return &HandshakeLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes one token if available.
func (l *HandshakeLimiter) Allow() bool {
	if l == nil || l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastRefill = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return true
	}
	return false
}

// ConnLimiter caps concurrent connections. A nil limiter or a
// non-positive size admits everything.
type ConnLimiter struct {
	slots chan struct{}
}

// NewConnLimiter creates a limiter with max slots.
func NewConnLimiter(max int) *ConnLimiter {
	if max <= 0 {
		return nil
	}
	return &ConnLimiter{slots: make(chan struct{}, max)}
}

// TryAcquire takes a slot without blocking.
func (l *ConnLimiter) TryAcquire() bool {
	if l == nil {
		return true
	}
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot.
func (l *ConnLimiter) Release() {
	if l == nil {
		return
	}
	<-l.slots
}

// InUse returns the number of held slots.
func (l *ConnLimiter) InUse() int {
	if l == nil {
		return 0
	}
	return len(l.slots)
}
