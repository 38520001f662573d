package activity

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

// Sink delivers one event to its destination.
type Sink interface {
	Send(ctx context.Context, ev domain.Event) error
}

type Options struct {
	Workers        int
	Buffer         int
	SendTimeout    time.Duration
	HandoffTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
	if o.HandoffTimeout < 0 {
		o.HandoffTimeout = 0
	}
	return o
}

// Dispatcher hands events to a pool of workers that forward them to a Sink.
// Publish never blocks longer than the handoff timeout; events that cannot
// be queued are dropped and logged.
type Dispatcher struct {
	sink      Sink
	log       *log.Logger
	opts      Options
	jobs      chan domain.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDispatcher(sink Sink, opts Options, logger *log.Logger) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	opts = opts.withDefaults()
	d := &Dispatcher{
		sink: sink,
		log:  logger,
		opts: opts,
		jobs: make(chan domain.Event, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("activity dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", opts.Workers, opts.Buffer, opts.SendTimeout, opts.HandoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.SendTimeout)
		err := d.sink.Send(ctx, ev)
		cancel()
		if err != nil {
			d.log.Errorf("activity send failed, err: %v, event: %s, type: %s, user: %s, worker: %d", err, ev.ID, ev.Type, ev.UserID, id)
		}
	}
}

// Publish queues ev for delivery. The request context is not used by the
// worker so a finished request does not cancel delivery.
func (d *Dispatcher) Publish(_ context.Context, ev domain.Event) {
	if !d.tryEnqueue(ev) {
		d.log.Warnf("activity event dropped, event: %s, type: %s, user: %s", ev.ID, ev.Type, ev.UserID)
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) tryEnqueue(ev domain.Event) bool {
	if ok, closed := trySendNonBlocking(d.jobs, ev); closed {
		return false
	} else if ok {
		return true
	}

	if d.opts.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.opts.HandoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(d.jobs, ev, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan domain.Event, ev domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Event, ev domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
