package database

import (
	"sync"
	"time"
)

// maxQueuedFlushes bounds the batches waiting behind a slow flush.
const maxQueuedFlushes = 4

// batcher collects rows and hands them to flush when maxSize rows are queued
// or interval has passed since the first queued row. A single worker runs
// flushes in order so Add never waits on the database. When the worker falls
// behind by more than maxQueuedFlushes batches, new batches go to drop.
type batcher[T any] struct {
	mu       sync.Mutex
	items    []T
	maxSize  int
	interval time.Duration
	flush    func([]T)
	drop     func([]T)
	timer    *time.Timer
	stopped  bool

	queue chan []T
	done  chan struct{}
}

func newBatcher[T any](maxSize int, interval time.Duration, flush, drop func([]T)) *batcher[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	if drop == nil {
		drop = func([]T) {}
	}
	b := &batcher[T]{
		maxSize:  maxSize,
		interval: interval,
		flush:    flush,
		drop:     drop,
		queue:    make(chan []T, maxQueuedFlushes),
		done:     make(chan struct{}),
	}
	go b.work()
	return b
}

func (b *batcher[T]) work() {
	defer close(b.done)
	for items := range b.queue {
		b.flush(items)
	}
}

// Add queues an item. It reports false once the batcher is stopped.
func (b *batcher[T]) Add(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return false
	}

	b.items = append(b.items, item)
	switch {
	case len(b.items) >= b.maxSize:
		b.flushLocked()
	case len(b.items) == 1:
		b.timer = time.AfterFunc(b.interval, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if !b.stopped && len(b.items) > 0 {
				b.flushLocked()
			}
		})
	}
	return true
}

// Stop flushes what is queued, waits for the worker and rejects later adds.
func (b *batcher[T]) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.stopped = true
	b.stopTimer()
	last := b.items
	b.items = nil
	b.mu.Unlock()

	if len(last) > 0 {
		b.queue <- last
	}
	close(b.queue)
	<-b.done
}

func (b *batcher[T]) flushLocked() {
	b.stopTimer()
	items := b.items
	b.items = nil

	select {
	case b.queue <- items:
	default:
		b.drop(items)
	}
}

func (b *batcher[T]) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
