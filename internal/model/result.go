package model

import (
	"fmt"
	"strconv"
	"time"
)

// Kind classifies a Result.
type Kind int

const (
	KindOSExit Kind = iota
	KindTriesExceeded
	KindPacketSummary
	KindInfraFailure
)

const (
	// DefaultCutLen is the head and tail window used by CutMessage
	// when no explicit length is configured.
	DefaultCutLen = 1000

	resultTimeFormat = "2006/01/02 15:04:05"
	elision          = "\n...\n"
)

var kindNames = map[Kind]string{
	KindOSExit:        "os_exit",
	KindTriesExceeded: "tries_exceeded",
	KindPacketSummary: "packet_summary",
	KindInfraFailure:  "infra_failure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func (k Kind) MarshalText() ([]byte, error) {
	s, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown result kind %d", int(k))
	}
	return []byte(s), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown result kind %q", string(text))
}

// Result is the classified outcome of one execution attempt, or of a whole
// packet for KindPacketSummary. A Result is never modified after construction.
type Result struct {
	Kind    Kind   `json:"kind"`
	Code    *int   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewOSExit classifies a finished process.
// maxErrLen is split evenly between head and tail of the captured stderr,
// zero selects DefaultCutLen for both.
func NewOSExit(code int, started, finished time.Time, stderr string, maxErrLen int) Result {
	msg := fmt.Sprintf("started: %s; finished: %s;",
		started.Format(resultTimeFormat),
		finished.Format(resultTimeFormat),
	)
	if stderr != "" {
		msg += "\n" + CutMessage(stderr, maxErrLen/2, maxErrLen/2)
	}
	return Result{
		Kind:    KindOSExit,
		Code:    &code,
		Message: msg,
	}
}

// NewTriesExceeded is the terminal marker appended once a job ran out of attempts.
func NewTriesExceeded(tries int) Result {
	return Result{
		Kind: KindTriesExceeded,
		Code: &tries,
	}
}

// NewPacketSummary summarizes the job set of a packet.
func NewPacketSummary(done, all int) Result {
	code := 1
	if done == all {
		code = 0
	}
	return Result{
		Kind:    KindPacketSummary,
		Code:    &code,
		Message: fmt.Sprintf("%d/%d done", done, all),
	}
}

// NewInfraFailure records an attempt which could not be spawned or waited for.
// It carries code -1, so it counts as a failed attempt.
func NewInfraFailure(err error, started, finished time.Time) Result {
	code := -1
	msg := fmt.Sprintf("started: %s; finished: %s;",
		started.Format(resultTimeFormat),
		finished.Format(resultTimeFormat),
	)
	if err != nil {
		msg += "\n" + CutMessage(err.Error(), 0, 0)
	}
	return Result{
		Kind:    KindInfraFailure,
		Code:    &code,
		Message: msg,
	}
}

func (r Result) Succeeded() bool {
	return r.Code != nil && *r.Code == 0
}

func (r Result) Failed() bool {
	return r.Code != nil && *r.Code != 0
}

func (r Result) Retryable() bool {
	return r.Kind != KindTriesExceeded
}

func (r Result) label() string {
	switch r.Kind {
	case KindOSExit:
		return "OS exit code"
	case KindTriesExceeded:
		return "The number of attempts exceeded"
	case KindPacketSummary:
		if r.Succeeded() {
			return "Successful completion of packet work"
		}
		return "Unsuccessful completion of packet work"
	case KindInfraFailure:
		return "Infrastructure failure"
	default:
		return r.Kind.String()
	}
}

func (r Result) String() string {
	code := "none"
	if r.Code != nil {
		code = strconv.Itoa(*r.Code)
	}
	s := r.label() + ": " + code
	if r.Message != "" {
		s += ", \"" + r.Message + "\""
	}
	return s
}

// CutMessage keeps the first head and the last tail characters of msg when it
// is longer than head+tail+5, joining them with an elision marker.
// Non-positive lengths select DefaultCutLen.
func CutMessage(msg string, head, tail int) string {
	if head <= 0 {
		head = DefaultCutLen
	}
	if tail <= 0 {
		tail = DefaultCutLen
	}
	runes := []rune(msg)
	if len(runes) <= head+tail+5 {
		return msg
	}
	return string(runes[:head]) + elision + string(runes[len(runes)-tail:])
}
