package daemon

import (
	"context"
	"time"

	"conduit/internal/logging"
)

// runMonitor periodically recovers pipelines that an earlier process left
// mid-flight. The first pass runs immediately so restart orphans are settled
// before new work arrives.
func (d *Daemon) runMonitor(ctx context.Context) {
	poll := time.Duration(d.cfg.Workflow.QueuePollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	retry := time.Duration(d.cfg.Workflow.ErrorRetryInterval) * time.Second
	if retry <= 0 {
		retry = 10 * time.Second
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			recovered, err := d.coordinator.RecoverInterrupted(ctx)
			if err != nil {
				d.logger.Warn("pipeline recovery pass failed", logging.Error(err))
				timer.Reset(retry)
				continue
			}
			if recovered > 0 {
				d.logger.Info("recovered interrupted pipelines", logging.Int("count", recovered))
			}
			timer.Reset(poll)
		}
	}
}

// watchEvents mirrors pipeline lifecycle events into the daemon log.
func (d *Daemon) watchEvents(ctx context.Context) {
	events, cancel := d.coordinator.Events().Subscribe(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			d.logger.Info("pipeline event",
				logging.String("event", string(event.Type)),
				logging.String("pipeline_id", event.PipelineID),
				logging.String(logging.FieldStage, string(event.Stage)),
				logging.String("message", event.Message),
			)
		}
	}
}
