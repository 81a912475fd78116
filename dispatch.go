package unii

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/unii-community/go-unii/wire"
)

// Change is the closed set of notifications delivered to subscribers.
type Change interface {
	change()
}

// ConnectionChange reports a connection lifecycle transition.
type ConnectionChange struct {
	Previous ConnectionStatus
	Current  ConnectionStatus
}

func (ConnectionChange) change() {}

// InputChange reports an input moving between statuses.
type InputChange struct {
	Number   int
	Previous InputStatus
	Current  InputStatus
}

func (InputChange) change() {}

// SectionChange reports a section moving between arming states.
type SectionChange struct {
	Number   int
	Previous SectionStatus
	Current  SectionStatus
}

func (SectionChange) change() {}

// EventChange carries one entry of the panel's event log.
type EventChange struct {
	Event wire.EventRecord
}

func (EventChange) change() {}

// dispatcher fans out changes to subscribers in production order, on its
// own goroutine so a slow subscriber can't stall frame ingestion. The
// queue is bounded: on overflow the oldest undelivered change is dropped
// and the drop is logged.
type dispatcher struct {
	log   *log.Logger
	queue chan Change
	done  chan struct{}

	mu   sync.Mutex
	subs []func(Change)
}

func newDispatcher(logger *log.Logger, size int) *dispatcher {
	d := &dispatcher{
		log:   logger,
		queue: make(chan Change, size),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(fn func(Change)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

// publish enqueues changes in order. Only the client's session goroutine
// publishes, so the drop-oldest path can't race another producer.
func (d *dispatcher) publish(changes ...Change) {
	for _, c := range changes {
		select {
		case d.queue <- c:
			continue
		default:
		}
		select {
		case dropped := <-d.queue:
			d.log.Warn("notification queue overflow, dropping oldest change", "change", dropped)
		default:
		}
		d.queue <- c
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for c := range d.queue {
		d.mu.Lock()
		subs := d.subs
		d.mu.Unlock()
		for _, fn := range subs {
			fn(c)
		}
	}
}

// close drains the remaining queue to the subscribers and stops the
// delivery goroutine. No publish may happen after close.
func (d *dispatcher) close() {
	close(d.queue)
	<-d.done
}
