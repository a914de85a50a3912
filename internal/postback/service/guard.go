package service

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/postback-receiver/internal/metrics"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/store"
	"github.com/BrandonDHaskell/postback-receiver/internal/postback/types"
)

type Mode string

const (
	ModeOpen   Mode = "open"
	ModeSecure Mode = "secure"
)

// ParseMode accepts "secure" or "open" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSecure:
		return ModeSecure, nil
	case ModeOpen:
		return ModeOpen, nil
	default:
		return "", fmt.Errorf("unknown guard mode %q", s)
	}
}

// GuardPolicy is fixed at startup.
type GuardPolicy struct {
	Mode       Mode
	AllowedIPs map[string]struct{}
}

// NewGuardPolicy builds a policy from a list of addresses.  Blank entries are
// dropped; parseable addresses are stored in the same canonical form the
// HTTP layer resolves callers to.
func NewGuardPolicy(mode Mode, allowed []string) GuardPolicy {
	set := make(map[string]struct{}, len(allowed))
	for _, ip := range allowed {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			set[CanonicalAddr(ip)] = struct{}{}
		}
	}
	return GuardPolicy{Mode: mode, AllowedIPs: set}
}

// CanonicalAddr unmaps IPv4-mapped IPv6 and compresses IPv6.  Anything that
// does not parse as an address is returned unchanged.
func CanonicalAddr(s string) string {
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String()
	}
	return s
}

// AccessGuard decides whether a postback caller may proceed.
type AccessGuard struct {
	policy  GuardPolicy
	audit   store.AuditSink
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewAccessGuard(policy GuardPolicy, audit store.AuditSink, logger zerolog.Logger, m *metrics.Metrics) *AccessGuard {
	return &AccessGuard{
		policy:  policy,
		audit:   audit,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (g *AccessGuard) Mode() Mode { return g.policy.Mode }

// Decide returns the decision for one request.  callerIP is only invoked in
// secure mode.  A denial appends a Blocked audit entry; a failure to do so is
// logged and otherwise ignored.
func (g *AccessGuard) Decide(ctx context.Context, callerIP func() string) types.AccessDecision {
	if g.policy.Mode != ModeSecure {
		return types.AccessDecision{Allowed: true, Reason: "open_mode"}
	}

	ip := callerIP()
	if _, ok := g.policy.AllowedIPs[ip]; ok {
		return types.AccessDecision{Allowed: true, Reason: "allow_listed", CallerIP: ip}
	}

	g.metrics.Blocked()
	g.recordBlocked(ctx, ip)

	return types.AccessDecision{Allowed: false, Reason: "not_allow_listed", CallerIP: ip}
}

func (g *AccessGuard) recordBlocked(ctx context.Context, ip string) {
	err := g.audit.RecordBlocked(ctx, store.BlockedEntry{
		CallerIP:  ip,
		BlockedAt: g.now(),
	})
	if err != nil {
		g.metrics.AuditWriteFailed("blocked")
		g.logger.Error().Err(err).Str("stream", "blocked").Str("caller_ip", ip).Msg("audit append failed")
	}
}
