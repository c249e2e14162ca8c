// SPDX-License-Identifier: MPL-2.0

// Package scheduler runs a finite list of independent tasks with a bounded
// number of tasks in flight.
//
// Admission is credit-based: a weighted semaphore holds one credit per
// concurrency slot, every admitted task holds one credit until it settles, and
// the next queued task is admitted as soon as any credit is returned. A slow
// task therefore never holds back the slots released by fast ones.
//
// Task failures are values, not errors: Run records every success and failure
// as an Outcome (a panic is recorded as a *PanicError) and only returns an
// error when the Config itself is invalid. Outcomes are reported in submission
// order regardless of completion order, and the number of outcomes always
// equals the number of submitted tasks.
//
// Cancelling the context passed to Run stops admission. Tasks already in
// flight observe the cancelled context and are awaited; tasks that were never
// admitted are reported as rejected with an error wrapping ErrNotAdmitted.
package scheduler
