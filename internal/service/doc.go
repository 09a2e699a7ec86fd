// Package service runs a packet of shell jobs to completion.
//
// Overview
// The Supervisor owns an event loop over the jobs of one packet. It starts
// a job once all its parents succeeded and the limiter admits it, waits the
// retry delay before another attempt of a failed job and stops when the
// packet reaches a final state or can make no more progress.
//
// Every attempt is a job.Job Run in its own goroutine. Run reports back
// through the listeners (packet, limiter) and the Supervisor receives the
// finished job on a channel:
//
//   Supervisor              Job{id}                 process
//       |                      |                       |
//   schedule -> SetStreams --->|                       |
//       | go Run() ----------->| exec.Start ---------->|
//       |                      | drain stderr          |
//       |                      | poll + working time   |
//       |                      |<------ exit ----------|
//       |<------ done ---------| Result, OnDone        |
//   snapshot, retryAt          |                       |
//
// Streams:
//   - stdout of a job is stored in <packet dir>/<id>.out
//   - stdin is the concatenation of the outputs of its inputs, in order
//
// Invariants:
//   - At most one attempt of a job runs at a time.
//   - Jobs are declared after their parents.
//   - A snapshot is saved after each attempt when a state database is set.
//   - A cancelled context suspends the packet and kills running jobs.
package service
