package queue

import (
	"context"
	"time"

	"github.com/bryanowens-dev/walker/internal/core"
	"github.com/bryanowens-dev/walker/internal/logging"
)

// defaultSweepInterval is how often pending invitations are polled when
// the caller does not say otherwise. Invitations are rare; five minutes
// keeps the forge API budget untouched.
const defaultSweepInterval = 5 * time.Minute

// InvitationSweeper accepts pending repository invitations for every
// dog on the roster. A dog that has not accepted its invitation cannot
// push, so the worker process runs one sweeper alongside its consumers.
type InvitationSweeper struct {
	forge    core.ForgeClient
	roster   core.Roster
	interval time.Duration
	logger   *logging.Logger
}

// NewInvitationSweeper builds a sweeper over the roster. interval <= 0
// uses defaultSweepInterval.
func NewInvitationSweeper(forge core.ForgeClient, roster core.Roster, interval time.Duration, logger *logging.Logger) *InvitationSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &InvitationSweeper{forge: forge, roster: roster, interval: interval, logger: logger}
}

// Run sweeps immediately, then on every tick until ctx is done. A new
// dog added to a repo mid-flight should not wait a full interval after
// process start.
func (s *InvitationSweeper) Run(ctx context.Context) error {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep accepts every pending invitation for every dog. Failures are
// logged and skipped; the next sweep retries them.
func (s *InvitationSweeper) Sweep(ctx context.Context) {
	var accepted, failed int
	for _, dog := range s.roster {
		log := s.logger.WithDog(dog.Name)
		invs, err := s.forge.PendingInvitations(ctx, dog.Credential)
		if err != nil {
			log.Warn("listing repository invitations failed", "error", err)
			failed++
			continue
		}
		for _, inv := range invs {
			if err := s.forge.AcceptInvitation(ctx, dog.Credential, inv.ID); err != nil {
				log.Warn("accepting repository invitation failed",
					"invitation_id", inv.ID, "repo", inv.Repo, "error", err)
				failed++
				continue
			}
			log.Info("repository invitation accepted",
				"repo", inv.Repo, "inviter", inv.Inviter)
			accepted++
		}
	}
	if accepted > 0 || failed > 0 {
		s.logger.Info("invitation sweep finished", "accepted", accepted, "failed", failed)
	}
}
