package batch

import (
	"runtime"
	"sync"
)

// WorkerPool 固定数量的 worker 消费任务队列
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWorkerPool workers <= 0 时使用 CPU 核数
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan func(), workers*2),
	}
}

func (wp *WorkerPool) Start() {
	wp.once.Do(func() {
		for i := 0; i < wp.workers; i++ {
			go wp.worker()
		}
	})
}

func (wp *WorkerPool) worker() {
	for job := range wp.jobQueue {
		job()
	}
}

// Submit 提交任务，队列满时阻塞
func (wp *WorkerPool) Submit(job func()) {
	wp.wg.Add(1)
	wp.jobQueue <- func() {
		defer wp.wg.Done()
		job()
	}
}

// Wait 等待所有已提交的任务完成
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Close 关闭队列，之后不能再 Submit
func (wp *WorkerPool) Close() {
	close(wp.jobQueue)
}
