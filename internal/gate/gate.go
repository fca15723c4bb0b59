// Package gate decides whether a request may reach the protected resource.
//
// A client moves between three derived states: clear (nothing recorded),
// warned (some consecutive failures below the threshold) and banned (an
// unexpired ban). A ban takes precedence over credentials. A successful
// check clears the failure count and an expired ban reads as clear.
package gate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/firewall"
	"gatekeeper/internal/models"
	"gatekeeper/pkg/utils"
)

// Decision is the outcome of a single check.
type Decision int

const (
	Allowed Decision = iota
	MissingCredentials
	Unauthorized
	Banned
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case MissingCredentials:
		return "missing_credentials"
	case Unauthorized:
		return "unauthorized"
	case Banned:
		return "banned"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Configuration errors returned by New.
var (
	ErrInvalidMaxAttempts  = errors.New("max failed attempts must be positive")
	ErrInvalidBanDuration  = errors.New("ban duration must be positive")
	ErrInvalidAttemptTTL   = errors.New("attempt ttl must not be negative")
	ErrMissingUsername     = errors.New("username is required")
	ErrMissingPassword     = errors.New("password or password hash is required")
	ErrInvalidPasswordHash = errors.New("password hash is not a valid bcrypt hash")
)

// Config is fixed for the lifetime of a Gate.
type Config struct {
	MaxFailedAttempts int
	BanDuration       time.Duration
	Username          string
	Password          string
	// PasswordHash is a bcrypt hash. When set, Password is ignored.
	PasswordHash []byte
	// AttemptTTL bounds how long an idle warned client is remembered by
	// Sweep. Zero keeps warned clients until they succeed or get banned.
	AttemptTTL time.Duration
}

func (c Config) validate() error {
	if c.MaxFailedAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	if c.BanDuration <= 0 {
		return ErrInvalidBanDuration
	}
	if c.AttemptTTL < 0 {
		return ErrInvalidAttemptTTL
	}
	if c.Username == "" {
		return ErrMissingUsername
	}
	if len(c.PasswordHash) > 0 {
		if _, err := bcrypt.Cost(c.PasswordHash); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPasswordHash, err)
		}
		return nil
	}
	if c.Password == "" {
		return ErrMissingPassword
	}
	return nil
}

// Notifier receives ban lifecycle events. Notify must not block.
type Notifier interface {
	Notify(event models.BanEvent)
}

type nopNotifier struct{}

func (nopNotifier) Notify(models.BanEvent) {}

// Option configures a Gate.
type Option func(*Gate)

func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clock = c }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

func WithNotifier(n Notifier) Option {
	return func(g *Gate) { g.notifier = n }
}

// Gate owns the attempt and ban state for one service instance.
type Gate struct {
	cfg   Config
	clock clock.Clock

	// failMu serializes the failure path so a client never holds both an
	// attempt record and a ban.
	failMu   sync.Mutex
	attempts *firewall.AttemptTracker
	bans     *firewall.BanRegistry
	notifier Notifier
	logger   *zap.Logger
}

func New(cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	g := &Gate{
		cfg:      cfg,
		clock:    clock.Real{},
		attempts: firewall.NewAttemptTracker(cfg.MaxFailedAttempts),
		bans:     firewall.NewBanRegistry(),
		notifier: nopNotifier{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Check evaluates one request from clientID at the current time.
// An empty authorization header counts as absent.
func (g *Gate) Check(clientID, authorization string) Decision {
	return g.CheckAt(clientID, authorization, g.clock.Now())
}

func (g *Gate) CheckAt(clientID, authorization string, now time.Time) Decision {
	d := g.decide(clientID, authorization, now)
	utils.GateDecisionsTotal.WithLabelValues(d.String()).Inc()
	return d
}

func (g *Gate) decide(clientID, authorization string, now time.Time) Decision {
	if g.bans.IsBanned(clientID, now) {
		return Banned
	}

	// A missing header is a challenge, not a guess.
	if authorization == "" {
		return MissingCredentials
	}

	if username, password, ok := ParseBasic(authorization); ok && g.credentialsMatch(username, password) {
		g.attempts.Reset(clientID)
		g.observeTracked()
		return Allowed
	}

	return g.fail(clientID, now)
}

func (g *Gate) fail(clientID string, now time.Time) Decision {
	g.failMu.Lock()
	defer g.failMu.Unlock()

	// Another request may have banned the client since the first check.
	if g.bans.IsBanned(clientID, now) {
		return Banned
	}

	out := g.attempts.RecordFailure(clientID, now)
	if out.Promoted {
		g.ban(clientID, now, out.Count)
	}
	g.observeTracked()
	return Unauthorized
}

func (g *Gate) observeTracked() {
	utils.TrackedClients.WithLabelValues("warned").Set(float64(g.attempts.Len()))
	utils.TrackedClients.WithLabelValues("banned").Set(float64(g.bans.Len()))
}

func (g *Gate) ban(clientID string, now time.Time, attempts int) {
	expiresAt := g.bans.Ban(clientID, now, g.cfg.BanDuration)
	utils.GateBansTotal.Inc()

	g.logger.Warn("client banned",
		zap.String("client", clientID),
		zap.Int("attempts", attempts),
		zap.Time("expires_at", expiresAt),
	)

	g.notifier.Notify(models.BanEvent{
		Type:      models.EventBanned,
		ClientID:  clientID,
		At:        now,
		ExpiresAt: expiresAt,
		Attempts:  attempts,
	})
}

// Lift removes an active ban ahead of its expiry. It reports false when the
// client was not banned.
func (g *Gate) Lift(clientID string) bool {
	now := g.clock.Now()
	if !g.bans.Lift(clientID, now) {
		return false
	}

	g.observeTracked()

	g.logger.Info("ban lifted", zap.String("client", clientID))
	g.notifier.Notify(models.BanEvent{
		Type:     models.EventLifted,
		ClientID: clientID,
		At:       now,
	})
	return true
}

// BanRemaining returns how long clientID stays banned.
func (g *Gate) BanRemaining(clientID string) time.Duration {
	return g.bans.Remaining(clientID, g.clock.Now())
}

// FailedAttempts returns the consecutive failure count for clientID.
func (g *Gate) FailedAttempts(clientID string) int {
	return g.attempts.Count(clientID)
}

func (g *Gate) Bans() []models.BanView {
	return g.bans.Snapshot(g.clock.Now())
}

func (g *Gate) Attempts() []models.AttemptView {
	return g.attempts.Snapshot()
}

func (g *Gate) MaxFailedAttempts() int { return g.cfg.MaxFailedAttempts }

func (g *Gate) BanDuration() time.Duration { return g.cfg.BanDuration }
