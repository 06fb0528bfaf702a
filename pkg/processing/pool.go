package processing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-teleop/presence/pkg/log"
)

// ErrPoolStopped is returned when work is submitted to a stopped pool.
var ErrPoolStopped = errors.New("processing pool is stopped")

// Task is a unit of work executed by a pool worker.
type Task func()

// Pool runs tasks on a fixed set of workers fed by a buffered queue. A pool
// with a single worker executes tasks strictly in submission order, which the
// session controller uses as its mailbox.
type Pool struct {
	name        string
	workerCount int
	queueSize   int
	logger      customlog.Logger
	queue       chan Task
	running     bool
	stopped     bool
	wg          sync.WaitGroup
	mu          sync.RWMutex
	metrics     *PoolMetrics
}

// PoolMetrics tracks counters for a pool.
type PoolMetrics struct {
	ProcessedCount    int64 `json:"processed_count"`
	ErrorCount        int64 `json:"error_count"`
	QueuedCount       int64 `json:"queued_count"`
	DroppedCount      int64 `json:"dropped_count"`
	LastProcessedTime int64 `json:"last_processed_time"`
	ProcessingTimeAvg int64 `json:"processing_time_avg_us"`
	ProcessingTimeMax int64 `json:"processing_time_max_us"`
	QueueLength       int   `json:"queue_length"`
	QueueCapacity     int   `json:"queue_capacity"`
	mu                sync.Mutex
}

// NewPool creates a pool. It does not run tasks until Start.
func NewPool(name string, workerCount int, queueSize int, logger customlog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = customlog.Discard()
	}
	return &Pool{
		name:        name,
		workerCount: workerCount,
		queueSize:   queueSize,
		logger:      logger,
		queue:       make(chan Task, queueSize),
		metrics:     &PoolMetrics{},
	}
}

// Submit queues a task, blocking while the queue is full. It returns false
// once the pool has been stopped. Tasks running on this pool must not Submit
// to it, since a full queue would deadlock the worker.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		p.logger.Debugf("%s pool not running, discarding task", p.name)
		return false
	}

	p.metrics.mu.Lock()
	p.metrics.QueuedCount++
	p.metrics.mu.Unlock()

	p.queue <- task
	return true
}

// TrySubmit queues a task without blocking. A full queue drops the task.
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.running {
		return false
	}

	select {
	case p.queue <- task:
		p.metrics.mu.Lock()
		p.metrics.QueuedCount++
		p.metrics.mu.Unlock()
		return true
	default:
		p.metrics.mu.Lock()
		p.metrics.DroppedCount++
		p.metrics.mu.Unlock()
		p.logger.Debugf("%s pool queue is full, dropping task", p.name)
		return false
	}
}

// Start launches the workers. Calling Start twice, or after Stop, is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return
	}

	p.running = true
	p.logger.Debugf("Starting %s pool with %d workers", p.name, p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains queued tasks and waits for the workers to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	p.logMetrics()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for task := range p.queue {
		startTime := time.Now()
		err := p.run(task)
		processingTime := time.Since(startTime).Microseconds()

		p.metrics.mu.Lock()
		p.metrics.ProcessedCount++
		p.metrics.LastProcessedTime = time.Now().UnixNano()
		if p.metrics.ProcessingTimeAvg == 0 {
			p.metrics.ProcessingTimeAvg = processingTime
		} else {
			p.metrics.ProcessingTimeAvg = (p.metrics.ProcessingTimeAvg + processingTime) / 2
		}
		if processingTime > p.metrics.ProcessingTimeMax {
			p.metrics.ProcessingTimeMax = processingTime
		}
		if err != nil {
			p.metrics.ErrorCount++
		}
		p.metrics.mu.Unlock()

		if err != nil {
			p.logger.Errorf("%s pool worker %d: %v", p.name, id, err)
		}
	}
}

// run executes a task and converts a panic into an error.
func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	task()
	return nil
}

// GetMetrics returns a copy of the current metrics, including the queue
// depth at the time of the call.
func (p *Pool) GetMetrics() PoolMetrics {
	queueLength, queueCapacity := p.GetQueueLength(), p.GetQueueCapacity()

	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	return PoolMetrics{
		ProcessedCount:    p.metrics.ProcessedCount,
		ErrorCount:        p.metrics.ErrorCount,
		QueuedCount:       p.metrics.QueuedCount,
		DroppedCount:      p.metrics.DroppedCount,
		LastProcessedTime: p.metrics.LastProcessedTime,
		ProcessingTimeAvg: p.metrics.ProcessingTimeAvg,
		ProcessingTimeMax: p.metrics.ProcessingTimeMax,
		QueueLength:       queueLength,
		QueueCapacity:     queueCapacity,
	}
}

func (p *Pool) logMetrics() {
	metrics := p.GetMetrics()
	p.logger.Infof("%s pool metrics: processed=%d, errors=%d, dropped=%d, avg_time=%dµs, max_time=%dµs",
		p.name, metrics.ProcessedCount, metrics.ErrorCount, metrics.DroppedCount,
		metrics.ProcessingTimeAvg, metrics.ProcessingTimeMax)
}

// GetName returns the pool name.
func (p *Pool) GetName() string {
	return p.name
}

// GetQueueLength returns the number of queued tasks.
func (p *Pool) GetQueueLength() int {
	return len(p.queue)
}

// GetQueueCapacity returns the queue capacity.
func (p *Pool) GetQueueCapacity() int {
	return p.queueSize
}
