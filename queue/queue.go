// Package queue delivers push events to subscribers in arrival order and
// bounds concurrent fleet work.
package queue

import (
	"sync"
	"time"

	"wa-console/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Handler consumes one push event
type Handler func(types.PushEvent)

// Dispatcher fans push events out to subscribers from a single goroutine so
// that every subscriber observes events in the order they were received.
type Dispatcher struct {
	events      chan types.PushEvent
	subscribers map[int]Handler
	order       []int
	nextID      int
	subMutex    sync.RWMutex
	metrics     *DispatcherMetrics
	done        chan struct{}
	stopped     chan struct{}
	stopOnce    sync.Once
}

type DispatcherMetrics struct {
	queueLength     prometheus.Gauge
	processingTime  prometheus.Histogram
	eventsDelivered prometheus.Counter
	eventsDropped   prometheus.Counter
}

// NewDispatcher starts a dispatcher with the given buffer. A nil registerer
// keeps the metrics in a private registry.
func NewDispatcher(buffer int, reg prometheus.Registerer) *Dispatcher {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if buffer < 1 {
		buffer = 1
	}
	factory := promauto.With(reg)

	metrics := &DispatcherMetrics{
		queueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wa_console_push_queue_length",
			Help: "Current number of push events waiting for delivery",
		}),
		processingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wa_console_push_processing_time_seconds",
			Help:    "Time taken to deliver one push event to all subscribers",
			Buckets: prometheus.DefBuckets,
		}),
		eventsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "wa_console_push_events_delivered_total",
			Help: "Total number of delivered push events",
		}),
		eventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "wa_console_push_events_dropped_total",
			Help: "Push events published after the dispatcher stopped",
		}),
	}

	d := &Dispatcher{
		events:      make(chan types.PushEvent, buffer),
		subscribers: make(map[int]Handler),
		metrics:     metrics,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	go d.run()
	return d
}

// Subscribe registers h and returns a function removing it
func (d *Dispatcher) Subscribe(h Handler) func() {
	d.subMutex.Lock()
	id := d.nextID
	d.nextID++
	d.subscribers[id] = h
	d.order = append(d.order, id)
	d.subMutex.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subMutex.Lock()
			defer d.subMutex.Unlock()
			delete(d.subscribers, id)
			for i, v := range d.order {
				if v == id {
					d.order = append(d.order[:i], d.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish enqueues ev. It reports false when the dispatcher is stopped.
func (d *Dispatcher) Publish(ev types.PushEvent) bool {
	select {
	case <-d.done:
		d.metrics.eventsDropped.Inc()
		return false
	default:
	}
	select {
	case d.events <- ev:
		d.metrics.queueLength.Inc()
		return true
	case <-d.done:
		d.metrics.eventsDropped.Inc()
		return false
	}
}

// Stop ends delivery; queued events are discarded
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.events:
			d.metrics.queueLength.Dec()
			d.deliver(ev)
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev types.PushEvent) {
	start := time.Now()
	d.subMutex.RLock()
	handlers := make([]Handler, 0, len(d.order))
	for _, id := range d.order {
		handlers = append(handlers, d.subscribers[id])
	}
	d.subMutex.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	d.metrics.eventsDelivered.Inc()
	d.metrics.processingTime.Observe(time.Since(start).Seconds())
}
