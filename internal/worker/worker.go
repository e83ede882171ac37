package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a function that represents a background job
type Task func(ctx context.Context) error

// WorkerPool runs fire-and-forget tasks such as notifications. Tasks
// submitted while the queue is full or during shutdown are dropped.
type WorkerPool struct {
	taskQueue   chan Task
	wg          sync.WaitGroup
	isClosing   atomic.Bool
	taskTimeout time.Duration
	dropped     atomic.Int64
}

func NewWorkerPool(size int) *WorkerPool {
	return NewWorkerPoolWithQueue(size, 1000)
}

func NewWorkerPoolWithQueue(size, queue int) *WorkerPool {
	wp := &WorkerPool{
		taskQueue:   make(chan Task, queue),
		taskTimeout: 5 * time.Second,
	}

	for range max(size, 1) {
		wp.wg.Add(1)
		go wp.startWorker()
	}

	return wp
}

func (wp *WorkerPool) startWorker() {
	defer wp.wg.Done()
	for task := range wp.taskQueue {
		ctx, cancel := context.WithTimeout(context.Background(), wp.taskTimeout)
		if err := task(ctx); err != nil {
			log.Printf("Worker task failed: %v", err)
		}
		cancel()
	}
}

// Submit queues t and reports whether it was accepted
func (wp *WorkerPool) Submit(t Task) bool {
	if wp.isClosing.Load() {
		log.Println("Warning: task submitted during shutdown, dropping.")
		wp.dropped.Add(1)
		return false
	}
	select {
	case wp.taskQueue <- t:
		return true
	default:
		log.Println("Task queue full, dropping task!")
		wp.dropped.Add(1)
		return false
	}
}

// Dropped counts tasks that were never run
func (wp *WorkerPool) Dropped() int64 {
	return wp.dropped.Load()
}

// Shutdown closes the queue and waits for workers to finish
func (wp *WorkerPool) Shutdown() {
	if wp.isClosing.Swap(true) {
		return
	}
	close(wp.taskQueue)
	wp.wg.Wait()
}
