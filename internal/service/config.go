package service

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/CZERTAINLY/rem/internal/limiter"
	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/CZERTAINLY/rem/internal/notify"
)

// Options are the runtime settings given on the command line or in REM_*
// environment variables. Set values take precedence over the service
// section of the packet file.
type Options struct {
	Config       string        `mapstructure:"config"`
	State        string        `mapstructure:"state"`
	Verbose      bool          `mapstructure:"verbose"`
	Shell        string        `mapstructure:"shell"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
	Fresh        bool          `mapstructure:"fresh"` // ignore stored snapshots
}

// ParseOptions reads Options from the global viper instance, an empty key
// means the top level.
func ParseOptions(key string) (Options, error) {
	var opts Options
	var err error
	if key == "" {
		err = viper.Unmarshal(&opts)
	} else {
		err = viper.UnmarshalKey(key, &opts)
	}
	return opts, err
}

// Settings is the resolved configuration of a Supervisor.
type Settings struct {
	Verbose      bool
	Shell        string
	PollInterval time.Duration
	State        string // empty disables snapshots
	Fresh        bool
	Limits       limiter.Config
	SMTP         *notify.SMTPConfig
}

// Resolve merges the service section of a packet file with opts.
func (o Options) Resolve(svc *model.Service) (Settings, error) {
	if svc == nil {
		svc = &model.Service{}
	}
	s := Settings{
		Verbose: o.Verbose || get(svc.Verbose),
		Shell:   first(o.Shell, get(svc.Shell)),
		State:   first(o.State, get(svc.State)),
		Fresh:   o.Fresh,
	}

	s.PollInterval = o.PollInterval
	if s.PollInterval <= 0 {
		d, err := model.DurationOr(svc.PollInterval, model.DefaultPollInterval)
		if err != nil {
			return Settings{}, fmt.Errorf("parsing service.poll_interval: %w", err)
		}
		s.PollInterval = d
	}
	if s.PollInterval <= 0 {
		s.PollInterval = model.DefaultPollInterval
	}

	if l := svc.Limits; l != nil {
		s.Limits = limiter.Config{
			MaxRunning:      get(l.MaxRunning),
			StartsPerSecond: get(l.StartsPerSecond),
		}
	}

	if m := svc.SMTP; m != nil {
		password := get(m.Password)
		if password != "" && password[0] == '$' {
			password = os.ExpandEnv(password)
		}
		s.SMTP = &notify.SMTPConfig{
			Addr:     m.Addr,
			From:     m.From,
			Username: get(m.Username),
			Password: password,
		}
	}
	return s, nil
}

func get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
