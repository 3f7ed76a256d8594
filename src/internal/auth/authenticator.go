// FILE: src/internal/auth/authenticator.go
package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"towl/src/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lixenwraith/log"
	"golang.org/x/time/rate"
)

// Prevent unbounded map growth
const maxAuthTrackedIPs = 10000

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRateLimited        = errors.New("too many authentication attempts")
)

// Authenticator validates basic and bearer credentials for HTTP and TCP clients
type Authenticator struct {
	config       *config.AuthConfig
	logger       *log.Logger
	basicUsers   map[string]string // username -> password hash
	bearerTokens map[string]bool   // token -> valid
	jwtParser    *jwt.Parser
	jwtKey       []byte
	dummyHash    string
	mu           sync.RWMutex

	// Session tracking
	sessions  map[string]*Session
	sessionMu sync.RWMutex

	// Brute-force protection
	ipAuthAttempts map[string]*ipAuthState
	authMu         sync.RWMutex

	// Slows down failed and blocked attempts
	failureDelay time.Duration
	blockedDelay time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// Per-IP auth attempt tracking
type ipAuthState struct {
	limiter      *rate.Limiter
	failCount    int
	lastAttempt  time.Time
	blockedUntil time.Time
}

// Session represents an authenticated client
type Session struct {
	ID           string
	Username     string
	Method       string // none, basic, bearer, jwt
	RemoteAddr   string
	CreatedAt    time.Time
	LastActivity time.Time
	Metadata     map[string]any
}

// New creates an authenticator from config. Returns nil when auth is disabled;
// a nil *Authenticator accepts every request.
func New(cfg *config.AuthConfig, logger *log.Logger) (*Authenticator, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "none" {
		return nil, nil
	}

	a := &Authenticator{
		config:         cfg,
		logger:         logger,
		basicUsers:     make(map[string]string),
		bearerTokens:   make(map[string]bool),
		sessions:       make(map[string]*Session),
		ipAuthAttempts: make(map[string]*ipAuthState),
		failureDelay:   500 * time.Millisecond,
		blockedDelay:   2 * time.Second,
		done:           make(chan struct{}),
	}

	switch cfg.Type {
	case "basic":
		if cfg.Basic == nil {
			return nil, fmt.Errorf("basic auth type specified but config missing")
		}
		for _, user := range cfg.Basic.Users {
			a.basicUsers[user.Username] = user.PasswordHash
		}
		dummy, err := HashPassword("towl-dummy-password")
		if err != nil {
			return nil, err
		}
		a.dummyHash = dummy

	case "bearer":
		if cfg.Bearer == nil {
			return nil, fmt.Errorf("bearer auth type specified but config missing")
		}
		for _, token := range cfg.Bearer.Tokens {
			a.bearerTokens[token] = true
		}

		if cfg.Bearer.JWT != nil {
			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
				jwt.WithLeeway(5 * time.Second),
				jwt.WithExpirationRequired(),
			}
			if cfg.Bearer.JWT.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Bearer.JWT.Issuer))
			}
			if cfg.Bearer.JWT.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Bearer.JWT.Audience))
			}
			a.jwtParser = jwt.NewParser(opts...)
			a.jwtKey = []byte(cfg.Bearer.JWT.SigningKey)
		}

	default:
		return nil, fmt.Errorf("unsupported auth type: %s", cfg.Type)
	}

	go a.cleanupLoop()

	logger.Info("msg", "Authenticator initialized",
		"component", "auth",
		"type", cfg.Type)

	return a, nil
}

// Close stops background cleanup
func (a *Authenticator) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() { close(a.done) })
}

// Required reports whether clients must present credentials
func (a *Authenticator) Required() bool {
	return a != nil
}

// Challenge returns the WWW-Authenticate value for HTTP clients
func (a *Authenticator) Challenge() string {
	if a == nil {
		return ""
	}
	if a.config.Type == "basic" {
		realm := "towl"
		if a.config.Basic != nil && a.config.Basic.Realm != "" {
			realm = a.config.Basic.Realm
		}
		return fmt.Sprintf("Basic realm=%q", realm)
	}
	return "Bearer"
}

// AuthenticateHTTP handles HTTP Authorization headers
func (a *Authenticator) AuthenticateHTTP(authHeader, remoteAddr string) (*Session, error) {
	if a == nil {
		return anonymousSession(remoteAddr), nil
	}

	if err := a.checkRateLimit(remoteAddr); err != nil {
		return nil, err
	}

	var session *Session
	var err error

	switch a.config.Type {
	case "basic":
		session, err = a.authenticateBasic(authHeader, remoteAddr)
	case "bearer":
		session, err = a.authenticateBearer(authHeader, remoteAddr)
	default:
		err = fmt.Errorf("unsupported auth type: %s", a.config.Type)
	}

	if err != nil {
		a.recordFailure(remoteAddr)
		a.pause(a.failureDelay)
		return nil, err
	}

	a.recordSuccess(remoteAddr)
	return session, nil
}

// AuthenticateTCP handles the line protocol handshake: AUTH <method> <credentials>
func (a *Authenticator) AuthenticateTCP(method, credentials, remoteAddr string) (*Session, error) {
	if a == nil {
		return anonymousSession(remoteAddr), nil
	}

	if err := a.checkRateLimit(remoteAddr); err != nil {
		return nil, err
	}

	var session *Session
	var err error

	switch strings.ToLower(method) {
	case "token", "bearer":
		if a.config.Type != "bearer" {
			err = fmt.Errorf("token auth not configured")
		} else {
			session, err = a.validateToken(credentials, remoteAddr)
		}

	case "basic":
		if a.config.Type != "basic" {
			err = fmt.Errorf("basic auth not configured")
		} else {
			// Expect base64(username:password)
			username, password, decErr := decodeBasic(credentials)
			if decErr != nil {
				err = decErr
			} else {
				session, err = a.validateBasicAuth(username, password, remoteAddr)
			}
		}

	default:
		err = fmt.Errorf("unsupported auth method: %s", method)
	}

	if err != nil {
		a.recordFailure(remoteAddr)
		a.pause(a.failureDelay)
		return nil, err
	}

	a.recordSuccess(remoteAddr)
	return session, nil
}

// ValidateSession checks if a session is still valid and refreshes it
func (a *Authenticator) ValidateSession(sessionID string) bool {
	if a == nil {
		return true
	}

	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()

	session, exists := a.sessions[sessionID]
	if !exists {
		return false
	}
	session.LastActivity = time.Now()
	return true
}

// EndSession forgets a session when its connection closes
func (a *Authenticator) EndSession(sessionID string) {
	if a == nil {
		return
	}
	a.sessionMu.Lock()
	delete(a.sessions, sessionID)
	a.sessionMu.Unlock()
}

// GetStats returns authentication statistics
func (a *Authenticator) GetStats() map[string]any {
	if a == nil {
		return map[string]any{"enabled": false}
	}

	a.sessionMu.RLock()
	sessionCount := len(a.sessions)
	a.sessionMu.RUnlock()

	a.authMu.RLock()
	trackedIPs := len(a.ipAuthAttempts)
	a.authMu.RUnlock()

	return map[string]any{
		"enabled":         true,
		"type":            a.config.Type,
		"active_sessions": sessionCount,
		"tracked_ips":     trackedIPs,
		"basic_users":     len(a.basicUsers),
		"static_tokens":   len(a.bearerTokens),
		"jwt":             a.jwtParser != nil,
	}
}

func anonymousSession(remoteAddr string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		Method:       "none",
		RemoteAddr:   remoteAddr,
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (a *Authenticator) pause(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func clientIP(remoteAddr string) string {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || ip == "" {
		return remoteAddr
	}
	return ip
}

// Rejects clients that are currently blocked for repeated failures
func (a *Authenticator) checkRateLimit(remoteAddr string) error {
	ip := clientIP(remoteAddr)
	now := time.Now()

	a.authMu.Lock()
	state, exists := a.ipAuthAttempts[ip]
	if !exists {
		if len(a.ipAuthAttempts) >= maxAuthTrackedIPs {
			a.evictOldestLocked(now)
		}

		// 5 failures per minute, burst of 3
		state = &ipAuthState{
			limiter: rate.NewLimiter(rate.Every(12*time.Second), 3),
		}
		a.ipAuthAttempts[ip] = state
	}
	state.lastAttempt = now
	blockedUntil := state.blockedUntil
	a.authMu.Unlock()

	if now.Before(blockedUntil) {
		remaining := blockedUntil.Sub(now)
		a.logger.Warn("msg", "IP temporarily blocked",
			"component", "auth",
			"ip", ip,
			"remaining", remaining)
		a.pause(a.blockedDelay)
		return fmt.Errorf("%w: try again in %v", ErrRateLimited, remaining.Round(time.Second))
	}
	return nil
}

// Samples a few tracked IPs and evicts the least recently seen
func (a *Authenticator) evictOldestLocked(now time.Time) {
	const sampleSize = 20
	var oldestIP string
	oldestTime := now

	sampled := 0
	for ip, state := range a.ipAuthAttempts {
		if state.lastAttempt.Before(oldestTime) {
			oldestIP = ip
			oldestTime = state.lastAttempt
		}
		sampled++
		if sampled >= sampleSize {
			break
		}
	}

	if oldestIP != "" {
		delete(a.ipAuthAttempts, oldestIP)
	}
}

func (a *Authenticator) recordFailure(remoteAddr string) {
	ip := clientIP(remoteAddr)
	now := time.Now()

	a.authMu.Lock()
	state, exists := a.ipAuthAttempts[ip]
	if !exists {
		a.authMu.Unlock()
		return
	}

	state.failCount++
	state.lastAttempt = now
	if state.limiter.Allow() {
		a.authMu.Unlock()
		return
	}

	// Progressive blocking: 2^failCount minutes, capped at 64
	blockMinutes := 1 << min(state.failCount, 6)
	state.blockedUntil = now.Add(time.Duration(blockMinutes) * time.Minute)
	failCount := state.failCount
	a.authMu.Unlock()

	a.logger.Warn("msg", "Too many failed attempts, blocking IP",
		"component", "auth",
		"ip", ip,
		"fail_count", failCount,
		"block_duration", time.Duration(blockMinutes)*time.Minute)
}

func (a *Authenticator) recordSuccess(remoteAddr string) {
	ip := clientIP(remoteAddr)

	a.authMu.Lock()
	defer a.authMu.Unlock()

	if state, exists := a.ipAuthAttempts[ip]; exists {
		state.failCount = 0
		state.blockedUntil = time.Time{}
	}
}

func decodeBasic(credentials string) (string, string, error) {
	payload, err := base64.StdEncoding.DecodeString(credentials)
	if err != nil {
		return "", "", fmt.Errorf("invalid credentials encoding")
	}
	username, password, ok := strings.Cut(string(payload), ":")
	if !ok {
		return "", "", fmt.Errorf("invalid credentials format")
	}
	return username, password, nil
}

func (a *Authenticator) authenticateBasic(authHeader, remoteAddr string) (*Session, error) {
	credentials, ok := strings.CutPrefix(authHeader, "Basic ")
	if !ok {
		return nil, fmt.Errorf("invalid basic auth header")
	}

	username, password, err := decodeBasic(credentials)
	if err != nil {
		return nil, err
	}
	return a.validateBasicAuth(username, password, remoteAddr)
}

func (a *Authenticator) validateBasicAuth(username, password, remoteAddr string) (*Session, error) {
	a.mu.RLock()
	expectedHash, exists := a.basicUsers[username]
	a.mu.RUnlock()

	if !exists {
		// Hash anyway so unknown users cost the same as wrong passwords
		VerifyPassword(a.dummyHash, password)
		return nil, ErrInvalidCredentials
	}

	ok, err := VerifyPassword(expectedHash, password)
	if err != nil {
		a.logger.Warn("msg", "Unusable password hash for user",
			"component", "auth",
			"username", username,
			"error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	session := a.newSession(username, "basic", remoteAddr, nil)
	return session, nil
}

func (a *Authenticator) authenticateBearer(authHeader, remoteAddr string) (*Session, error) {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return nil, fmt.Errorf("invalid bearer auth header")
	}
	return a.validateToken(token, remoteAddr)
}

func (a *Authenticator) validateToken(token, remoteAddr string) (*Session, error) {
	a.mu.RLock()
	isStatic := a.bearerTokens[token]
	a.mu.RUnlock()

	if isStatic {
		return a.newSession("", "bearer", remoteAddr, map[string]any{"token_type": "static"}), nil
	}

	if a.jwtParser == nil {
		return nil, ErrInvalidCredentials
	}

	claims := jwt.MapClaims{}
	parsed, err := a.jwtParser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.jwtKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("JWT validation failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid JWT token")
	}

	username, _ := claims.GetSubject()
	return a.newSession(username, "jwt", remoteAddr, map[string]any{"claims": claims}), nil
}

func (a *Authenticator) newSession(username, method, remoteAddr string, metadata map[string]any) *Session {
	now := time.Now()
	session := &Session{
		ID:           uuid.NewString(),
		Username:     username,
		Method:       method,
		RemoteAddr:   remoteAddr,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     metadata,
	}

	a.sessionMu.Lock()
	a.sessions[session.ID] = session
	a.sessionMu.Unlock()

	a.logger.Debug("msg", "Session created",
		"component", "auth",
		"session_id", session.ID,
		"username", session.Username,
		"method", session.Method,
		"remote_addr", session.RemoteAddr)
	return session
}

// Expires idle sessions and forgets stale attempt state
func (a *Authenticator) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.cleanup(time.Now())
		}
	}
}

func (a *Authenticator) cleanup(now time.Time) {
	a.sessionMu.Lock()
	for id, session := range a.sessions {
		if now.Sub(session.LastActivity) > 30*time.Minute {
			delete(a.sessions, id)
		}
	}
	a.sessionMu.Unlock()

	a.authMu.Lock()
	for ip, state := range a.ipAuthAttempts {
		if now.Sub(state.lastAttempt) > time.Hour && now.After(state.blockedUntil) {
			delete(a.ipAuthAttempts, ip)
		}
	}
	a.authMu.Unlock()
}
