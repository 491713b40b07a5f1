package scheduler

import (
	"context"
	"errors"
	"time"

	"wagenda/internal/storage"
	"wagenda/internal/wa"
	"wagenda/pkg/logx"
)

// deliver executes one due job: atomically re-check status, send through
// the gateway, open the correlation window, flip pending -> sent. Gateway
// failures retry with linear backoff up to RetryMax attempts, then the job
// is failed permanently. A failing job never takes the fire loop down.
func (s *Service) deliver(ctx context.Context, jobID int64) {
	log := s.log.With(logx.Int64("job_id", jobID))

	for attempt := 1; ; attempt++ {
		done, retryErr := s.attempt(ctx, jobID, attempt, log)
		if done {
			return
		}

		delay := time.Duration(attempt) * s.cfg.RetryBase
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
		log.Warn("delivery retry scheduled",
			logx.Int("attempt", attempt),
			logx.Duration("delay", delay),
			logx.Err(retryErr))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// attempt performs a single delivery try under the per-job lock. It
// returns done=false only when the failure is retryable and attempts
// remain.
func (s *Service) attempt(ctx context.Context, jobID int64, attempt int, log logx.Logger) (done bool, retryErr error) {
	lock := s.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("job vanished before delivery")
		return true, nil
	}
	if err != nil {
		log.Error("job read failed", logx.Err(err))
		return true, nil
	}
	if job.Status != storage.JobPending {
		// canceled (or already terminal) while the timer was counting down
		log.Debug("delivery skipped", logx.String("status", string(job.Status)))
		s.dropJobLock(jobID)
		return true, nil
	}

	// A correlation window for this job means an earlier attempt sent the
	// message but crashed before flipping the status. Do not send twice.
	if _, err := s.store.GetCorrelationByJob(ctx, jobID); err == nil {
		_, _ = s.store.CASJobStatus(ctx, jobID, storage.JobPending, storage.JobSent, "")
		s.dropJobLock(jobID)
		log.Info("job already delivered; status repaired")
		return true, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Error("correlation read failed", logx.Err(err))
		return true, nil
	}

	res, sendErr := s.gw.SendText(ctx, job.GroupID, job.Text)
	if sendErr == nil {
		if _, err := s.tracker.Open(ctx, jobID, job.GroupID, res.MessageID, time.Now()); err != nil {
			log.Error("correlation open failed", logx.Err(err))
		}
		if won, err := s.store.CASJobStatus(ctx, jobID, storage.JobPending, storage.JobSent, ""); err != nil {
			log.Error("status flip failed", logx.Err(err))
		} else if !won {
			log.Warn("job left pending state during send")
		}
		s.dropJobLock(jobID)
		log.Info("job sent",
			logx.String("group_id", job.GroupID),
			logx.String("message_id", res.MessageID),
			logx.Int("attempt", attempt))
		return true, nil
	}

	if retryable(sendErr) && attempt < s.cfg.RetryMax {
		_ = s.store.SetJobError(ctx, jobID, sendErr.Error())
		return false, sendErr
	}

	if won, err := s.store.CASJobStatus(ctx, jobID, storage.JobPending, storage.JobFailed, sendErr.Error()); err != nil {
		log.Error("status flip failed", logx.Err(err))
	} else if !won {
		log.Warn("job left pending state during send")
	}
	s.dropJobLock(jobID)
	log.Error("job failed permanently", logx.Int("attempts", attempt), logx.Err(sendErr))
	return true, nil
}

// retryable treats provider 5xx/429 and transport errors (timeouts
// included) as transient; anything the API rejects outright is permanent.
func retryable(err error) bool {
	var ae *wa.APIError
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return true
}
