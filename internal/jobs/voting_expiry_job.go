package jobs

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// VotingSweeper fails votings whose window has closed
type VotingSweeper interface {
	ExpireStaleVotings(ctx context.Context, now time.Time) (int, error)
}

// VotingExpiryJob moves expired votings to the failed state
type VotingExpiryJob struct {
	sweeper VotingSweeper
	log     logrus.FieldLogger
	timeout time.Duration
	now     func() time.Time
}

// NewVotingExpiryJob creates a new voting expiry job. A single run is
// abandoned after timeout.
func NewVotingExpiryJob(sweeper VotingSweeper, timeout time.Duration, log logrus.FieldLogger) *VotingExpiryJob {
	return &VotingExpiryJob{
		sweeper: sweeper,
		log:     log.WithField("job", "voting_expiry"),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one sweep
func (j *VotingExpiryJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	started := j.now()
	n, err := j.sweeper.ExpireStaleVotings(ctx, started)
	if err != nil {
		j.log.WithError(err).WithField("expired", n).Error("Voting expiry sweep failed")
		return err
	}
	if n > 0 {
		j.log.WithFields(logrus.Fields{
			"expired":  n,
			"duration": time.Since(started).String(),
		}).Info("Expired stale votings")
	}
	return nil
}
