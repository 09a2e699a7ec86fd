package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/CZERTAINLY/rem/internal/job"
	"github.com/CZERTAINLY/rem/internal/limiter"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/notify"
	"github.com/CZERTAINLY/rem/internal/packet"
	"github.com/CZERTAINLY/rem/internal/store"
)

// Run implements CLI run command. A packet which did not succeed is
// reported as ErrPacketFailed.
func Run(ctx context.Context, cfg *model.Config, settings Settings, logger *slog.Logger) (model.Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	supervisor, closeFn, err := FromConfig(ctx, cfg, settings, logger)
	if err != nil {
		return model.Result{}, err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.ErrorContext(ctx, "closing state database failed", "error", err)
		}
	}()

	summary, err := supervisor.Do(ctx)
	if err != nil {
		return summary, err
	}
	if summary.Failed() {
		return summary, fmt.Errorf("%s: %w", summary.Message, ErrPacketFailed)
	}
	return summary, nil
}

// FromConfig builds the packet, its jobs and the Supervisor driving them.
// With a state database, jobs stored by a previous run with an unchanged
// command are restored, so finished jobs are not repeated. The returned
// function closes the database.
func FromConfig(ctx context.Context, cfg *model.Config, settings Settings, logger *slog.Logger) (*Supervisor, func() error, error) {
	if cfg.Version != 0 {
		return nil, nil, fmt.Errorf("config version %d: %w", cfg.Version, model.ErrUnknownVersion)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := "."
	if cfg.Packet.Directory != nil {
		dir = *cfg.Packet.Directory
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("packet directory: %w", err)
	}

	p := packet.New(packet.Config{
		Name:               cfg.Packet.Name,
		Directory:          dir,
		KillAllJobsOnError: get(cfg.Packet.KillAllJobsOnError),
		NotifyEmails:       cfg.Packet.NotifyEmails,
	}).WithLogger(logger)
	lim := limiter.New(settings.Limits)

	notifiers := notify.Multi{notify.NewLog(logger)}
	if settings.SMTP != nil {
		smtp, err := notify.NewSMTP(*settings.SMTP)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing smtp notifier: %w", err)
		}
		notifiers = append(notifiers, smtp)
	}

	var db *sql.DB
	closeFn := func() error { return nil }
	if settings.State != "" {
		db, err = store.InitDB(ctx, settings.State)
		if err != nil {
			return nil, nil, fmt.Errorf("opening state %s: %w", settings.State, err)
		}
		closeFn = db.Close
		if settings.Fresh {
			n, err := store.Delete(ctx, db, p.Name())
			if err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("deleting stored snapshots: %w", err)
			}
			logger.DebugContext(ctx, "stored snapshots deleted", "packet", p.Name(), "count", n)
		}
	}

	for _, jc := range cfg.Packet.Jobs {
		jobCfg, err := jobConfig(jc)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		j, err := newJob(ctx, db, p, lim, jobCfg, logger)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		j.WithLogger(logger).
			WithNotifier(notifiers).
			WithPollInterval(settings.PollInterval)
		if settings.Shell != "" {
			j.WithShell(settings.Shell)
		}
	}

	s := NewSupervisor(p).
		WithLogger(logger).
		WithLimiter(lim).
		WithStore(db).
		WithPollInterval(settings.PollInterval)
	return s, closeFn, nil
}

func newJob(ctx context.Context, db *sql.DB, p *packet.Packet, lim job.Limiter, cfg job.Config, logger *slog.Logger) (*job.Job, error) {
	if db == nil {
		return p.NewJob(cfg, lim)
	}
	row, err := store.Load(ctx, db, p.Name(), cfg.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return p.NewJob(cfg, lim)
	case err != nil:
		return nil, fmt.Errorf("loading snapshot of %s: %w", cfg.ID, err)
	}
	if row.Snapshot.Shell != cfg.Shell {
		logger.InfoContext(ctx, "job command changed: snapshot ignored", "job_id", cfg.ID)
		return p.NewJob(cfg, lim)
	}

	// the packet file wins for everything but the progress
	snap := row.Snapshot
	snap.Description = cfg.Description
	snap.Parents = cfg.Parents
	snap.Inputs = cfg.Inputs
	snap.MaxTryCount = cfg.MaxTryCount
	snap.MaxErrLen = cfg.MaxErrLen
	snap.RetryDelay = cfg.RetryDelay
	snap.PipeFail = cfg.PipeFail
	snap.NotifyTimeout = cfg.NotifyTimeout
	j, err := job.Restore(snap, p, lim)
	if err != nil {
		return nil, fmt.Errorf("restoring %s: %w", cfg.ID, err)
	}
	if err := p.AddJob(j); err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "job restored", "job_id", cfg.ID, "tries", j.Tries())
	return j, nil
}

func jobConfig(jc model.Job) (job.Config, error) {
	retryDelay, err := model.DurationOr(jc.RetryDelay, 0)
	if err != nil {
		return job.Config{}, fmt.Errorf("job %s retry_delay: %w", jc.ID, err)
	}
	notifyTimeout, err := model.DurationOr(jc.NotifyTimeout, model.DefaultNotifyTimeout)
	if err != nil {
		return job.Config{}, fmt.Errorf("job %s notify_timeout: %w", jc.ID, err)
	}
	maxTries := model.DefaultMaxTries
	if jc.MaxTries != nil {
		maxTries = *jc.MaxTries
	}
	return job.Config{
		ID:            jc.ID,
		Description:   get(jc.Description),
		Shell:         jc.Shell,
		Parents:       jc.Parents,
		Inputs:        jc.Inputs,
		MaxTryCount:   maxTries,
		MaxErrLen:     get(jc.MaxErrLen),
		RetryDelay:    retryDelay,
		PipeFail:      get(jc.PipeFail),
		NotifyTimeout: notifyTimeout,
	}, nil
}
