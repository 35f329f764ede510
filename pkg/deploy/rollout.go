package deploy

import (
	"context"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/shipway/shipway/pkg/cluster"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 5 * time.Minute
)

// awaitRollout polls the workload until it converges, reports a stuck
// condition, or the deadline passes. Partial progress at the deadline
// is still a timeout; "almost ready" is not ready.
func awaitRollout(ctx context.Context, c cluster.Cluster, id cluster.WorkloadID, interval time.Duration, record *RolloutRecord, logger log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := pollStatus(ctx, c, id)
		if err != nil {
			if ctx.Err() != nil {
				return waitErr(ctx, record)
			}
			return errors.Wrap(err, "reading rollout status")
		}
		record.observe(status)
		logger.Log("msg", "rollout status", "workload", id.String(),
			"desired", status.Desired, "updated", status.Updated,
			"ready", status.Ready, "available", status.Available)

		if status.Stuck() {
			return errors.Wrap(ErrRolloutFailed, strings.Join(status.Messages, "; "))
		}
		if status.Complete() {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return waitErr(ctx, record)
		}
	}
}

// pollStatus runs the status call in its own goroutine so the loop's
// deadline holds even if the underlying client ignores the context
// and blocks. An abandoned call is left to finish on its own.
func pollStatus(ctx context.Context, c cluster.Cluster, id cluster.WorkloadID) (cluster.RolloutStatus, error) {
	type result struct {
		status cluster.RolloutStatus
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		status, err := c.RolloutStatus(ctx, id)
		ch <- result{status, err}
	}()
	select {
	case res := <-ch:
		return res.status, res.err
	case <-ctx.Done():
		return cluster.RolloutStatus{}, ctx.Err()
	}
}

// waitErr says why the wait ended early. Only an expired deadline is
// a timeout; an operator abort is reported as what it is.
func waitErr(ctx context.Context, record *RolloutRecord) error {
	if ctx.Err() == context.Canceled {
		return errors.Wrap(ctx.Err(), "rollout wait interrupted")
	}
	return errors.Wrapf(ErrRolloutTimedOut,
		"%d of %d replicas ready", record.Ready, record.Desired)
}
