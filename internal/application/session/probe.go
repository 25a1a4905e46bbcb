package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
	"github.com/basecamp-labs/progress-hub/pkg/logger"
)

// DefaultProbeTimeout bounds the network query and the liveness check.
const DefaultProbeTimeout = 5 * time.Second

// Probe decides whether the wallet can transact on the target network.
type Probe struct {
	provider progress.IdentityProvider
	checker  progress.NetworkChecker
	target   progress.NetworkID
	session  *SessionContext
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProbe creates a Probe. checker is optional.
func NewProbe(provider progress.IdentityProvider, checker progress.NetworkChecker, target progress.NetworkID, session *SessionContext, timeout time.Duration, l *slog.Logger) *Probe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if target == "" {
		target = progress.BaseSepolia
	}
	return &Probe{
		provider: provider,
		checker:  checker,
		target:   target,
		session:  session,
		timeout:  timeout,
		logger:   logger.OrDefault(l).With(logger.Component("probe")),
	}
}

// Target returns the network the probe compares against.
func (p *Probe) Target() progress.NetworkID {
	return p.target
}

// Probe returns the verdict for the identity's environment.
//
// A failed query is indeterminate, never unsupported. Terminal verdicts are
// memoized for the session; indeterminate ones are recomputed next time.
func (p *Probe) Probe(ctx context.Context, id progress.Identity) progress.Verdict {
	if v, ok := p.session.Verdict(); ok {
		return v
	}

	v := p.probe(ctx, id)
	p.session.setVerdict(v)
	p.logger.Debug("capability probed",
		logger.Identity(id.Short()),
		logger.Verdict(v.String()),
	)
	return v
}

func (p *Probe) probe(ctx context.Context, id progress.Identity) progress.Verdict {
	if p.provider == nil {
		return progress.VerdictIndeterminate
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	current, err := p.provider.CurrentNetwork(ctx)
	if err != nil || current == "" {
		p.logger.Warn("network query failed",
			logger.Identity(id.Short()),
			logger.Err(err),
		)
		return progress.VerdictIndeterminate
	}
	if current != p.target {
		p.logger.Info("wallet on unsupported network",
			logger.Identity(id.Short()),
			logger.Network(string(current)),
		)
		return progress.VerdictUnsupported
	}

	if p.checker != nil {
		if err := p.checker.CheckNetwork(ctx); err != nil {
			p.logger.Warn("target network not answering",
				logger.Network(string(p.target)),
				logger.Err(err),
			)
			return progress.VerdictIndeterminate
		}
	}
	return progress.VerdictSupported
}
