// Package dispatch runs the checker program over crash images on a fixed pool
// of workers and collects its verdicts.
package dispatch

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"sync"
	"time"
)

// Task asks for one crash image to be checked. Key identifies the result,
// Name labels the failure logs.
type Task[K comparable] struct {
	Dir  string
	Key  K
	Name string
}

// Result is the checker verdict for one task.
type Result struct {
	Code int
	// Err is set when the checker could not be run at all.
	Err error
}

// Failed reports whether the checker ran and rejected the crash image.
func (r Result) Failed() bool {
	return r.Err == nil && r.Code != 0
}

type Config struct {
	// Oracle is the checker command line; the image directory, the captured
	// stdout file and the worker id are appended to it.
	Oracle  []string
	Workers int
	// LogDir receives the checker output of failed checks, if set.
	LogDir string
	// TimelineDir receives an HTML timeline of every phase, if set.
	TimelineDir string
	RunID       string
	Metrics     *Metrics
}

// Dispatcher owns a work queue, a results table and the workers draining the
// queue into the table. Submit, Wait and Reset are meant to be called from a
// single goroutine.
type Dispatcher[K comparable] struct {
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Task[K]
	running  int
	closed   bool
	phase    string
	results  map[K]Result
	timeline *Timeline

	pending sync.WaitGroup
	workers sync.WaitGroup
}

// New starts cfg.Workers workers. They run until Close.
func New[K comparable](cfg Config) (*Dispatcher[K], error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("need at least one worker, got %d", cfg.Workers)
	}
	if len(cfg.Oracle) == 0 || cfg.Oracle[0] == "" {
		return nil, errors.New("no checker command")
	}
	d := &Dispatcher[K]{
		cfg:      cfg,
		results:  make(map[K]Result),
		timeline: newTimeline(""),
	}
	d.cond = sync.NewCond(&d.mu)
	for i := 0; i < cfg.Workers; i++ {
		d.workers.Add(1)
		go d.loop(i)
	}
	return d, nil
}

// Submit queues a task and returns immediately.
func (d *Dispatcher[K]) Submit(task Task[K]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		panic("dispatch: submit after close")
	}
	d.pending.Add(1)
	d.queue = append(d.queue, task)
	d.cfg.Metrics.setQueued(len(d.queue))
	d.cond.Signal()
}

func (d *Dispatcher[K]) loop(worker int) {
	defer d.workers.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		task := d.queue[0]
		d.queue[0] = Task[K]{}
		d.queue = d.queue[1:]
		d.running++
		phase := d.phase
		d.cfg.Metrics.setQueued(len(d.queue))
		d.mu.Unlock()

		start := time.Now()
		res := d.check(worker, task)
		end := time.Now()

		d.mu.Lock()
		d.results[task.Key] = res
		d.timeline.record(worker, fmt.Sprint(task.Key), task.Name, res, start, end)
		d.running--
		d.mu.Unlock()
		d.cfg.Metrics.observe(phase, res, end.Sub(start))
		d.pending.Done()
	}
}

// Wait blocks until every submitted task has a result and returns a copy of
// the results table. The error joins all checker invocation faults and a
// failed timeline audit.
func (d *Dispatcher[K]) Wait() (map[K]Result, error) {
	d.pending.Wait()
	d.mu.Lock()
	results := maps.Clone(d.results)
	timeline := d.timeline.clone()
	d.mu.Unlock()

	var errs []error
	for key, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("check %v: %w", key, res.Err))
		}
	}
	if d.cfg.TimelineDir != "" {
		name := fmt.Sprintf("%s-%s.html", d.cfg.RunID, timeline.Phase)
		if err := timeline.Write(filepath.Join(d.cfg.TimelineDir, name)); err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// Reset empties the results table and starts a new phase. Resetting while
// tasks are queued or running would lose them, so it panics instead.
func (d *Dispatcher[K]) Reset(phase string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) != 0 || d.running != 0 {
		panic(fmt.Sprintf("dispatch: reset with %d queued and %d running tasks", len(d.queue), d.running))
	}
	d.phase = phase
	d.results = make(map[K]Result)
	d.timeline = newTimeline(phase)
}

// Timeline returns the execution history of the current phase.
func (d *Dispatcher[K]) Timeline() *Timeline {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeline.clone()
}

// Close lets the workers finish the queue and stops them.
func (d *Dispatcher[K]) Close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.workers.Wait()
}
