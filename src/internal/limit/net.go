// FILE: src/internal/limit/net.go
package limit

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"towl/src/internal/config"

	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

// DenialReason indicates why a request was denied
type DenialReason string

const (
	ReasonAllowed           DenialReason = ""
	ReasonBlacklisted       DenialReason = "IP denied by blacklist"
	ReasonNotWhitelisted    DenialReason = "IP not in whitelist"
	ReasonRateLimited       DenialReason = "Rate limit exceeded"
	ReasonConnectionLimited DenialReason = "Connection limit exceeded"
	ReasonInvalidIP         DenialReason = "Invalid IP address"
)

const (
	staleTimeout    = 5 * time.Minute
	cleanupInterval = time.Minute
)

// NetLimiter applies IP access control, per-IP request rates and
// per-IP connection caps for one listener
type NetLimiter struct {
	config config.NetLimitConfig
	logger *log.Logger
	acl    *ACL

	ipLimiters map[string]*ipLimiter
	ipMu       sync.Mutex

	ipConnections map[string]int64
	connMu        sync.Mutex

	// Statistics
	totalRequests      atomic.Uint64
	blockedByBlacklist atomic.Uint64
	blockedByWhitelist atomic.Uint64
	blockedByRateLimit atomic.Uint64
	blockedByConnLimit atomic.Uint64
	blockedByInvalidIP atomic.Uint64

	done        chan struct{}
	cleanupDone chan struct{}
	stopOnce    sync.Once
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewNetLimiter returns nil when neither ACLs nor rate limiting are configured.
// A nil *NetLimiter allows everything.
func NewNetLimiter(cfg *config.NetLimitConfig, logger *log.Logger) *NetLimiter {
	if cfg == nil {
		return nil
	}
	hasACL := len(cfg.IPWhitelist) > 0 || len(cfg.IPBlacklist) > 0
	if !hasACL && !cfg.Enabled {
		return nil
	}

	l := &NetLimiter{
		config:        *cfg,
		logger:        logger,
		acl:           NewACL(cfg.IPWhitelist, cfg.IPBlacklist, logger),
		ipLimiters:    make(map[string]*ipLimiter),
		ipConnections: make(map[string]int64),
		done:          make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	if l.config.BurstSize <= 0 {
		l.config.BurstSize = int64(max(1, int(l.config.RequestsPerSecond)))
	}
	if l.config.ResponseCode == 0 {
		l.config.ResponseCode = 429
	}
	if l.config.ResponseMessage == "" {
		l.config.ResponseMessage = string(ReasonRateLimited)
	}

	if cfg.Enabled {
		go l.cleanupLoop()
	} else {
		close(l.cleanupDone)
	}

	logger.Info("msg", "Net limiter initialized",
		"component", "netlimit",
		"acl_enabled", hasACL,
		"rate_limiting", cfg.Enabled,
		"requests_per_second", cfg.RequestsPerSecond,
		"burst_size", l.config.BurstSize,
		"max_connections_per_ip", cfg.MaxConnectionsPerIP)

	return l
}

// CheckHTTP decides whether a request from remoteAddr may proceed.
// Denied requests get a status code and a message for the response body.
func (l *NetLimiter) CheckHTTP(remoteAddr string) (allowed bool, statusCode int64, message string) {
	if l == nil {
		return true, 0, ""
	}

	l.totalRequests.Add(1)

	ip := hostIP(remoteAddr)
	if ip == nil {
		l.blockedByInvalidIP.Add(1)
		l.logger.Warn("msg", "Failed to parse remote address",
			"component", "netlimit",
			"remote_addr", remoteAddr)
		return false, 403, string(ReasonInvalidIP)
	}

	if reason := l.checkACL(ip); reason != ReasonAllowed {
		return false, 403, string(reason)
	}

	if !l.config.Enabled {
		return true, 0, ""
	}

	if l.connectionsFull(ip.String()) {
		l.blockedByConnLimit.Add(1)
		return false, l.config.ResponseCode, string(ReasonConnectionLimited)
	}

	if !l.allow(ip.String(), time.Now()) {
		l.blockedByRateLimit.Add(1)
		return false, l.config.ResponseCode, l.config.ResponseMessage
	}

	return true, 0, ""
}

// CheckTCP decides whether a new TCP connection may be accepted
func (l *NetLimiter) CheckTCP(remoteAddr net.Addr) bool {
	if l == nil {
		return true
	}

	l.totalRequests.Add(1)

	var ip net.IP
	switch addr := remoteAddr.(type) {
	case *net.TCPAddr:
		ip = addr.IP
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
	case nil:
	default:
		ip = hostIP(addr.String())
	}
	if ip == nil {
		l.blockedByInvalidIP.Add(1)
		return false
	}

	if reason := l.checkACL(ip); reason != ReasonAllowed {
		return false
	}

	if !l.config.Enabled {
		return true
	}

	if l.connectionsFull(ip.String()) {
		l.blockedByConnLimit.Add(1)
		return false
	}

	if !l.allow(ip.String(), time.Now()) {
		l.blockedByRateLimit.Add(1)
		return false
	}
	return true
}

func (l *NetLimiter) checkACL(ip net.IP) DenialReason {
	reason := l.acl.Check(ip)
	switch reason {
	case ReasonBlacklisted:
		l.blockedByBlacklist.Add(1)
	case ReasonNotWhitelisted:
		l.blockedByWhitelist.Add(1)
	default:
		return reason
	}
	l.logger.Debug("msg", "IP denied by access list",
		"component", "netlimit",
		"ip", ip.String(),
		"reason", string(reason))
	return reason
}

func (l *NetLimiter) allow(ip string, now time.Time) bool {
	l.ipMu.Lock()
	lim, exists := l.ipLimiters[ip]
	if !exists {
		lim = &ipLimiter{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), int(l.config.BurstSize)),
		}
		l.ipLimiters[ip] = lim
	}
	lim.lastSeen = now
	l.ipMu.Unlock()

	return lim.limiter.AllowN(now, 1)
}

func (l *NetLimiter) connectionsFull(ip string) bool {
	if l.config.MaxConnectionsPerIP <= 0 {
		return false
	}
	l.connMu.Lock()
	defer l.connMu.Unlock()
	return l.ipConnections[ip] >= l.config.MaxConnectionsPerIP
}

// AddConnection records a long-lived connection from remoteAddr
func (l *NetLimiter) AddConnection(remoteAddr string) {
	if l == nil {
		return
	}
	ip := hostIP(remoteAddr)
	if ip == nil {
		return
	}

	l.connMu.Lock()
	l.ipConnections[ip.String()]++
	count := l.ipConnections[ip.String()]
	l.connMu.Unlock()

	l.logger.Debug("msg", "Connection added",
		"component", "netlimit",
		"ip", ip.String(),
		"connections", count)
}

// RemoveConnection releases a connection recorded by AddConnection
func (l *NetLimiter) RemoveConnection(remoteAddr string) {
	if l == nil {
		return
	}
	ip := hostIP(remoteAddr)
	if ip == nil {
		return
	}

	l.connMu.Lock()
	defer l.connMu.Unlock()
	key := ip.String()
	if n, ok := l.ipConnections[key]; ok {
		if n <= 1 {
			delete(l.ipConnections, key)
		} else {
			l.ipConnections[key] = n - 1
		}
	}
}

// GetStats returns net limiter statistics
func (l *NetLimiter) GetStats() map[string]any {
	if l == nil {
		return map[string]any{"enabled": false}
	}

	l.ipMu.Lock()
	activeIPs := len(l.ipLimiters)
	l.ipMu.Unlock()

	l.connMu.Lock()
	var totalConnections int64
	for _, n := range l.ipConnections {
		totalConnections += n
	}
	l.connMu.Unlock()

	breakdown := map[string]uint64{
		"blacklist":  l.blockedByBlacklist.Load(),
		"whitelist":  l.blockedByWhitelist.Load(),
		"rate_limit": l.blockedByRateLimit.Load(),
		"conn_limit": l.blockedByConnLimit.Load(),
		"invalid_ip": l.blockedByInvalidIP.Load(),
	}
	var totalBlocked uint64
	for _, v := range breakdown {
		totalBlocked += v
	}

	return map[string]any{
		"enabled":           true,
		"total_requests":    l.totalRequests.Load(),
		"total_blocked":     totalBlocked,
		"blocked_breakdown": breakdown,
		"active_ips":        activeIPs,
		"total_connections": totalConnections,
		"rate_limit": map[string]any{
			"enabled":             l.config.Enabled,
			"requests_per_second": l.config.RequestsPerSecond,
			"burst_size":          l.config.BurstSize,
		},
	}
}

// Shutdown stops the cleanup goroutine
func (l *NetLimiter) Shutdown() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(l.done)
		select {
		case <-l.cleanupDone:
		case <-time.After(2 * time.Second):
			l.logger.Warn("msg", "Cleanup goroutine shutdown timeout", "component", "netlimit")
		}
	})
}

// cleanup drops limiters idle since before now-staleTimeout
func (l *NetLimiter) cleanup(now time.Time) {
	l.ipMu.Lock()
	cleaned := 0
	for ip, lim := range l.ipLimiters {
		if now.Sub(lim.lastSeen) > staleTimeout {
			delete(l.ipLimiters, ip)
			cleaned++
		}
	}
	remaining := len(l.ipLimiters)
	l.ipMu.Unlock()

	if cleaned > 0 {
		l.logger.Debug("msg", "Cleaned up stale IP limiters",
			"component", "netlimit",
			"cleaned", cleaned,
			"remaining", remaining)
	}
}

func (l *NetLimiter) cleanupLoop() {
	defer close(l.cleanupDone)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.cleanup(now)
		}
	}
}
