package job

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/CZERTAINLY/rem/internal/model"
)

const SnapshotVersion = 1

var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot is the persisted state of a job. The working time checkpoint is
// deliberately missing, a restored job re-anchors on the first update.
type Snapshot struct {
	Version       int            `json:"version"`
	ID            string         `json:"id"`
	Description   string         `json:"description,omitempty"`
	Shell         string         `json:"shell"`
	Parents       []string       `json:"parents,omitempty"`
	Inputs        []string       `json:"inputs,omitempty"`
	MaxTryCount   int            `json:"max_try_count"`
	MaxErrLen     int            `json:"max_err_len,omitempty"`
	RetryDelay    time.Duration  `json:"retry_delay,omitempty"`
	PipeFail      bool           `json:"pipe_fail,omitempty"`
	NotifyTimeout time.Duration  `json:"notify_timeout"`
	Tries         int            `json:"tries"`
	Results       []model.Result `json:"results,omitempty"`
	WorkingTime   time.Duration  `json:"working_time"`
	Notified      bool           `json:"notified,omitempty"`
}

func (j *Job) Snapshot() Snapshot {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return Snapshot{
		Version:       SnapshotVersion,
		ID:            j.cfg.ID,
		Description:   j.cfg.Description,
		Shell:         j.cfg.Shell,
		Parents:       slices.Clone(j.cfg.Parents),
		Inputs:        slices.Clone(j.cfg.Inputs),
		MaxTryCount:   j.cfg.MaxTryCount,
		MaxErrLen:     j.cfg.MaxErrLen,
		RetryDelay:    j.cfg.RetryDelay,
		PipeFail:      j.cfg.PipeFail,
		NotifyTimeout: j.cfg.NotifyTimeout,
		Tries:         j.tries,
		Results:       slices.Clone(j.results),
		WorkingTime:   j.workingTime,
		Notified:      j.notified,
	}
}

// Restore recreates a job from a snapshot. The runtime collaborators
// (logger, notifier, ...) are set with the With methods as for New.
func Restore(s Snapshot, packet Packet, limiter Limiter) (*Job, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, s.Version)
	}
	if s.Tries < 0 || s.WorkingTime < 0 {
		return nil, fmt.Errorf("snapshot %s: negative tries or working time", s.ID)
	}
	j := New(Config{
		ID:            s.ID,
		Description:   s.Description,
		Shell:         s.Shell,
		Parents:       s.Parents,
		Inputs:        s.Inputs,
		MaxTryCount:   s.MaxTryCount,
		MaxErrLen:     s.MaxErrLen,
		RetryDelay:    s.RetryDelay,
		PipeFail:      s.PipeFail,
		NotifyTimeout: s.NotifyTimeout,
	}, packet, limiter)
	j.tries = s.Tries
	j.results = slices.Clone(s.Results)
	j.workingTime = s.WorkingTime
	j.notified = s.Notified
	return j, nil
}
