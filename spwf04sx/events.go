package spwf04sx

import (
	"fmt"
	"sync"
)

// Event is an unsolicited frame from the module: an indication (a WIND) or an error report.
type Event struct {
	Type    FrameType
	Code    byte
	State   WiFiState
	Message string
}

// Indication returns the event code as an indication.
func (e Event) Indication() Indication {
	return Indication(e.Code)
}

// IsError reports whether the module sent this event as an error report.
func (e Event) IsError() bool {
	return e.Type == FrameError
}

func (e Event) String() string {
	if e.IsError() {
		return fmt.Sprintf("error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Indication(), e.Message)
}

// IndicationListener is called for every indication, on the polling goroutine.
type IndicationListener func(indication Indication, message string)

// ErrorListener is called for every error report, on the polling goroutine.
type ErrorListener func(code byte, message string)

type listeners struct {
	mu          sync.Mutex
	nextID      int
	indications map[int]IndicationListener
	errors      map[int]ErrorListener
	subscribers map[int]chan Event
}

func newListeners() *listeners {
	return &listeners{
		indications: map[int]IndicationListener{},
		errors:      map[int]ErrorListener{},
		subscribers: map[int]chan Event{},
	}
}

// AddIndicationListener registers fn and returns a func that removes it. Listeners run on the
// polling goroutine and must not call back into the driver.
func (d *Driver) AddIndicationListener(fn IndicationListener) func() {
	l := d.listeners
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.indications[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.indications, id)
	}
}

// AddErrorListener registers fn and returns a func that removes it. Listeners run on the polling
// goroutine and must not call back into the driver.
func (d *Driver) AddErrorListener(fn ErrorListener) func() {
	l := d.listeners
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.errors[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.errors, id)
	}
}

// Subscribe returns a channel that receives every event. Events are dropped, with a warning, when
// the channel is full. The returned func unsubscribes and closes the channel.
func (d *Driver) Subscribe(size int) (<-chan Event, func()) {
	l := d.listeners
	ch := make(chan Event, size)
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subscribers[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.subscribers, id)
			close(ch)
		})
	}
}

// dispatch delivers queued events. It runs on the polling goroutine, only when the loop has
// neither a write nor a frame pending.
func (d *Driver) dispatch(events []Event) {
	l := d.listeners
	for _, ev := range events {
		d.logger.Debugw("dispatching event", "type", ev.Type.String(), "code", ev.Code, "message", ev.Message)

		l.mu.Lock()
		indications := make([]IndicationListener, 0, len(l.indications))
		for _, fn := range l.indications {
			indications = append(indications, fn)
		}
		errs := make([]ErrorListener, 0, len(l.errors))
		for _, fn := range l.errors {
			errs = append(errs, fn)
		}
		for _, ch := range l.subscribers {
			select {
			case ch <- ev:
			default:
				d.logger.Warnw("dropping event for slow subscriber", "event", ev.String())
			}
		}
		l.mu.Unlock()

		if ev.IsError() {
			for _, fn := range errs {
				fn(ev.Code, ev.Message)
			}
			continue
		}
		for _, fn := range indications {
			fn(ev.Indication(), ev.Message)
		}
	}
}
