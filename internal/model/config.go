package model

import (
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	DefaultMaxTries      = 1
	DefaultNotifyTimeout = 7 * 24 * time.Hour
	DefaultPollInterval  = 100 * time.Millisecond
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int      `json:"version" yaml:"version"` // fixed 0 for now
	Packet  Packet   `json:"packet" yaml:"packet"`
	Service *Service `json:"service,omitempty" yaml:"service,omitempty"`
}

// Packet describes the jobs and the owning aggregate.
type Packet struct {
	Name               string   `json:"name" yaml:"name"`
	Directory          *string  `json:"directory,omitempty" yaml:"directory,omitempty"` // nil => CWD
	KillAllJobsOnError *bool    `json:"kill_all_jobs_on_error,omitempty" yaml:"kill_all_jobs_on_error,omitempty"`
	NotifyEmails       []string `json:"notify_emails,omitempty" yaml:"notify_emails,omitempty"`
	Jobs               []Job    `json:"jobs" yaml:"jobs"`
}

type Job struct {
	ID            string   `json:"id" yaml:"id"`
	Description   *string  `json:"description,omitempty" yaml:"description,omitempty"`
	Shell         string   `json:"shell" yaml:"shell"`
	Parents       []string `json:"parents,omitempty" yaml:"parents,omitempty"`
	Inputs        []string `json:"inputs,omitempty" yaml:"inputs,omitempty"` // parents whose stdout is piped in
	MaxTries      *int     `json:"max_tries,omitempty" yaml:"max_tries,omitempty"`
	RetryDelay    *string  `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	NotifyTimeout *string  `json:"notify_timeout,omitempty" yaml:"notify_timeout,omitempty"`
	PipeFail      *bool    `json:"pipe_fail,omitempty" yaml:"pipe_fail,omitempty"`
	MaxErrLen     *int     `json:"max_err_len,omitempty" yaml:"max_err_len,omitempty"`
}

// Service holds the runtime settings of the rem process itself.
type Service struct {
	Verbose      *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Shell        *string `json:"shell,omitempty" yaml:"shell,omitempty"`
	PollInterval *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	State        *string `json:"state,omitempty" yaml:"state,omitempty"` // sqlite file with job snapshots
	Limits       *Limits `json:"limits,omitempty" yaml:"limits,omitempty"`
	SMTP         *SMTP   `json:"smtp,omitempty" yaml:"smtp,omitempty"`
}

type Limits struct {
	MaxRunning      *int     `json:"max_running,omitempty" yaml:"max_running,omitempty"`
	StartsPerSecond *float64 `json:"starts_per_second,omitempty" yaml:"starts_per_second,omitempty"`
}

type SMTP struct {
	Addr     string  `json:"addr" yaml:"addr"`
	From     string  `json:"from" yaml:"from"`
	Username *string `json:"username,omitempty" yaml:"username,omitempty"`
	Password *string `json:"password,omitempty" yaml:"password,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Parents and inputs must reference jobs declared earlier in the list.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}
	if err := out.Packet.validateRefs(); err != nil {
		return nil, err
	}

	return &out, nil
}

func (p Packet) validateRefs() error {
	seen := make(map[string]struct{}, len(p.Jobs))
	for _, j := range p.Jobs {
		if _, ok := seen[j.ID]; ok {
			return fmt.Errorf("job %s: %w", j.ID, ErrDuplicateJob)
		}
		for _, ref := range append(append([]string(nil), j.Parents...), j.Inputs...) {
			if _, ok := seen[ref]; !ok {
				return fmt.Errorf("job %s references %s: %w", j.ID, ref, ErrUnknownJob)
			}
		}
		seen[j.ID] = struct{}{}
	}
	return nil
}

// DefaultConfig is the sample written by rem init.
func DefaultConfig() Config {
	dir := "."
	retry := "PT5S"
	tries := 3
	pipeFail := true
	return Config{
		Version: 0,
		Packet: Packet{
			Name:      "example",
			Directory: &dir,
			Jobs: []Job{
				{
					ID:         "hello",
					Shell:      "echo hello",
					MaxTries:   &tries,
					RetryDelay: &retry,
				},
				{
					ID:       "shout",
					Shell:    "tr a-z A-Z",
					Parents:  []string{"hello"},
					Inputs:   []string{"hello"},
					PipeFail: &pipeFail,
				},
			},
		},
	}
}
