// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package worker provides a managed set of background goroutines.
package worker

import "sync"

// Worker manages a group of long lived goroutines that share a common
// shutdown signal.  The zero value is ready for use.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan interface{}
}

// Go runs fn in a new goroutine tracked by the Worker.  fn is expected to
// select on HaltCh and return promptly once it is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals every goroutine started via Go to terminate, and blocks
// until all of them have returned.  Halt is idempotent.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.Wait()
}

// HaltCh returns the channel that is closed by a call to Halt.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
}
