package model_test

import (
	"strings"
	"testing"

	"github.com/CZERTAINLY/rem/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
packet:
  name: nightly
  directory: /tmp
  kill_all_jobs_on_error: true
  notify_emails:
    - ops@example.com
  jobs:
    - id: fetch
      shell: echo fetch
      max_tries: 3
      retry_delay: PT30S
    - id: load
      shell: cat
      parents: [fetch]
      inputs: [fetch]
      pipe_fail: true
      notify_timeout: P1D
service:
  verbose: true
  limits:
    max_running: 2
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, "nightly", cfg.Packet.Name)
	require.NotNil(t, cfg.Packet.Directory)
	require.Equal(t, "/tmp", *cfg.Packet.Directory)
	require.NotNil(t, cfg.Packet.KillAllJobsOnError)
	require.True(t, *cfg.Packet.KillAllJobsOnError)
	require.Equal(t, []string{"ops@example.com"}, cfg.Packet.NotifyEmails)
	require.Len(t, cfg.Packet.Jobs, 2)

	fetch := cfg.Packet.Jobs[0]
	require.Equal(t, "fetch", fetch.ID)
	require.NotNil(t, fetch.MaxTries)
	require.Equal(t, 3, *fetch.MaxTries)
	require.NotNil(t, fetch.RetryDelay)
	require.Equal(t, "PT30S", *fetch.RetryDelay)

	load := cfg.Packet.Jobs[1]
	require.Equal(t, []string{"fetch"}, load.Parents)
	require.Equal(t, []string{"fetch"}, load.Inputs)
	require.NotNil(t, load.PipeFail)
	require.True(t, *load.PipeFail)

	require.NotNil(t, cfg.Service)
	require.NotNil(t, cfg.Service.Limits)
	require.NotNil(t, cfg.Service.Limits.MaxRunning)
	require.Equal(t, 2, *cfg.Service.Limits.MaxRunning)
}

func TestLoadConfig_Fail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{
			scenario: "missing shell",
			given: `
version: 0
packet:
  name: p
  jobs:
    - id: a
`,
			then: "packet.jobs.0.shell",
		},
		{
			scenario: "unknown parent",
			given: `
version: 0
packet:
  name: p
  jobs:
    - id: a
      shell: "true"
      parents: [b]
`,
			then: "job a references b: unknown job",
		},
		{
			scenario: "duplicate id",
			given: `
version: 0
packet:
  name: p
  jobs:
    - id: a
      shell: "true"
    - id: a
      shell: "false"
`,
			then: "job a: duplicate job",
		},
		{
			scenario: "unknown field",
			given: `
version: 0
packet:
  name: p
  colour: blue
  jobs:
    - id: a
      shell: "true"
`,
			then: "colour",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(strings.NewReader(tc.given))
			require.Error(t, err)
			require.ErrorContains(t, err, tc.then)
		})
	}
}

func TestConfigErrDetails(t *testing.T) {
	t.Parallel()
	yml := `
version: 0
packet:
  name: p
  jobs:
    - id: a
      shell: "true"
      max_tries: 0
`
	_, err := model.LoadConfig(strings.NewReader(yml))
	require.Error(t, err)
	details := model.ConfigErrDetails(err)
	require.NotEmpty(t, details)
	var paths []string
	for _, d := range details {
		paths = append(paths, d.Path)
	}
	require.Contains(t, paths, "packet.jobs.0.max_tries")

	require.Nil(t, model.ConfigErrDetails(nil))
}

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig()
	require.Len(t, cfg.Packet.Jobs, 2)
	require.Equal(t, []string{"hello"}, cfg.Packet.Jobs[1].Inputs)
}
