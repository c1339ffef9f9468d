package engine

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	dispatchQueueSize  = 64
	dispatchMaxRetries = 3
)

// Job is one unit of deferred work: graph linking, reflection, anything
// that must not block the interactive turn.
type Job struct {
	Name    string
	Run     func(ctx context.Context) error
	attempt int
}

// Dispatcher is a bounded worker pool for background jobs. Jobs that fail
// are retried with quadratic backoff; jobs that exhaust their retries are
// logged and dropped. Enqueue never blocks the caller: a full queue drops
// the job, because a stalled pipeline turn is worse than a missed
// enrichment.
type Dispatcher struct {
	queue chan *Job
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher with the given number of workers.
func NewDispatcher(ctx context.Context, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		queue: make(chan *Job, dispatchQueueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	return d
}

// Enqueue submits a job. Returns false when the queue is full or closed.
func (d *Dispatcher) Enqueue(job *Job) (queued bool) {
	defer func() {
		if recover() != nil {
			queued = false
		}
	}()
	select {
	case d.queue <- job:
		return true
	default:
		log.Printf("Dispatcher: queue full, dropping job %q", job.Name)
		return false
	}
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()

	for job := range d.queue {
		if job.attempt > 0 {
			backoff := time.Duration(job.attempt*job.attempt) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		if err := job.Run(ctx); err != nil {
			job.attempt++
			if job.attempt >= dispatchMaxRetries {
				log.Printf("Dispatcher: worker %d giving up on job %q after %d attempts: %v",
					id, job.Name, job.attempt, err)
				continue
			}
			log.Printf("Dispatcher: worker %d retrying job %q (attempt %d): %v",
				id, job.Name, job.attempt, err)
			if !d.Enqueue(job) {
				log.Printf("Dispatcher: could not requeue job %q", job.Name)
			}
		}
	}
}
