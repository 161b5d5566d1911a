package realtime

import (
	"sync"

	"github.com/yanun0323/logs"
)

// Subscription is the capability returned by Subscribe; Cancel removes
// exactly the registration that produced it.
type Subscription struct {
	event string
	fn    func(Message)
	em    *emitter
	once  sync.Once
}

// Cancel removes this subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.em == nil {
		return
	}
	s.once.Do(func() {
		s.em.remove(s)
	})
}

// emitter fans messages out to per-event subscriber lists. Each callback
// failure is isolated: a panicking subscriber is logged and skipped, the
// rest still receive the emission.
type emitter struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[string][]*Subscription)}
}

func (e *emitter) subscribe(event string, fn func(Message)) *Subscription {
	sub := &Subscription{event: event, fn: fn, em: e}
	e.mu.Lock()
	e.subs[event] = append(e.subs[event], sub)
	e.mu.Unlock()
	return sub
}

func (e *emitter) remove(target *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.subs[target.event]
	for i, sub := range list {
		if sub == target {
			list = append(list[:i], list[i+1:]...)
			if len(list) == 0 {
				delete(e.subs, target.event)
			} else {
				e.subs[target.event] = list
			}
			return
		}
	}
}

func (e *emitter) removeAll(event string) {
	e.mu.Lock()
	delete(e.subs, event)
	e.mu.Unlock()
}

func (e *emitter) emit(event string, msg Message) {
	e.mu.RLock()
	list := append([]*Subscription(nil), e.subs[event]...)
	e.mu.RUnlock()

	for _, sub := range list {
		deliver(event, sub, msg)
	}
}

func deliver(event string, sub *Subscription, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("subscriber panic on %q: %v", event, r)
		}
	}()
	sub.fn(msg)
}
