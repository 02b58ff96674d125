// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"container/heap"
	"sync"
	"time"

	"github.com/hoprnet/edgli/core/queue"
	"github.com/hoprnet/edgli/core/worker"
)

// TimerQueue fires a callback at scheduled times.  Priorities are absolute
// deadlines in UnixNano; once a deadline has passed the queued value is
// handed to the action callback on the queue's worker goroutine.
type TimerQueue struct {
	worker.Worker

	cond  *sync.Cond
	mutex sync.RWMutex
	queue *queue.PriorityQueue

	action func(interface{})

	wakech chan struct{}
}

// NewTimerQueue creates a TimerQueue invoking action for each expired
// entry.  Start must be called before use.
func NewTimerQueue(action func(interface{})) *TimerQueue {
	return &TimerQueue{
		queue:  queue.New(),
		action: action,
		cond:   sync.NewCond(new(sync.Mutex)),
	}
}

// Start starts the worker goroutine.
func (t *TimerQueue) Start() {
	t.Go(t.worker)
}

// Push schedules value to be handed to the action callback once the
// deadline given by priority (UnixNano) has passed.
func (t *TimerQueue) Push(priority uint64, value interface{}) {
	t.mutex.Lock()
	t.queue.Enqueue(priority, value)
	t.mutex.Unlock()
	t.cond.Signal()
}

// Len returns the number of pending entries.
func (t *TimerQueue) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.queue.Len()
}

// wakeupCh returns the channel that fires upon Signal of the TimerQueue's
// sync.Cond.
func (t *TimerQueue) wakeupCh() chan struct{} {
	if t.wakech != nil {
		return t.wakech
	}
	c := make(chan struct{})
	go func() {
		defer close(c)
		var v struct{}
		for {
			t.cond.L.Lock()
			t.cond.Wait()
			t.cond.L.Unlock()
			select {
			case <-t.HaltCh():
				return
			case c <- v:
			}
		}
	}()
	t.wakech = c
	return c
}

// pop the top entry and hand its value to the action callback.
func (t *TimerQueue) forward() {
	t.mutex.Lock()
	m := heap.Pop(t.queue)
	t.mutex.Unlock()
	if m == nil {
		return
	}
	t.action(m.(*queue.Entry).Value)
}

func (t *TimerQueue) worker() {
	for {
		var c <-chan time.Time
		t.mutex.Lock()
		if m := t.queue.Peek(); m != nil {
			timeLeft := int64(m.Priority) - time.Now().UnixNano()
			if timeLeft < 0 {
				t.mutex.Unlock()
				t.forward()
				continue
			} else {
				c = time.After(time.Duration(timeLeft))
			}
		}
		t.mutex.Unlock()
		select {
		case <-t.HaltCh():
			t.cond.Signal()
			return
		case <-c:
			t.forward()
		case <-t.wakeupCh():
		}
	}
}
