// Package job runs and supervises a single retryable unit of work.
//
// A Job owns a shell command which is executed by Run, once per attempt:
//
//	scheduler            Job                         shell process
//	    |  CanStart()     |                               |
//	    |---------------->|                               |
//	    |  Run(ctx, pids) |  OnStart -> listeners         |
//	    |---------------->|  spawn (own process group) -->|
//	    |                 |  drain stderr (goroutine) <---|
//	    |                 |  poll + working time          |
//	    |                 |<------------- exit -----------|
//	    |                 |  classify, append Result      |
//	    |                 |  escalate to Packet           |
//	    |                 |  close streams, OnDone        |
//	    |<----------------|                               |
//
// Invariants:
//   - tries grows by one per Run call, results are append only.
//   - the live pid set holds only processes of the running attempt and is
//     empty once Run returns.
//   - working time restarts from zero with each attempt, a long running
//     attempt is reported to the packet's notify addresses at most once.
//   - after MaxTryCount failed attempts a TriesExceeded result closes the
//     log, and a packet configured to do so is suspended and put to ERROR.
//
// Run never returns an error. Failures to spawn or wait for the process are
// logged and recorded as an InfraFailure result.
//
// Terminate may be called from any goroutine. It only signals the process
// group, the goroutine inside Run observes the exit and finalizes the attempt.
//
// FuncJob is the lightweight in-process variant without any of the above.
package job
