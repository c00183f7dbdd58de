package campaign

import (
	"sync"

	"broadcaster/internal/model"
)

// Observer receives campaign state changes. Implementations must not block;
// they run on the send loop's goroutine.
type Observer interface {
	OnProgress(p model.Progress)
	OnLog(text string)
	OnCountdown(c model.Countdown)
}

// SendObserver is an optional extension of Observer that is told about every
// per-recipient outcome.
type SendObserver interface {
	OnSend(r model.SendResult)
}

// Funcs adapts plain functions to Observer and SendObserver. Nil fields are
// skipped.
type Funcs struct {
	Progress  func(model.Progress)
	Log       func(string)
	Countdown func(model.Countdown)
	Send      func(model.SendResult)
}

func (f Funcs) OnProgress(p model.Progress) {
	if f.Progress != nil {
		f.Progress(p)
	}
}

func (f Funcs) OnLog(text string) {
	if f.Log != nil {
		f.Log(text)
	}
}

func (f Funcs) OnCountdown(c model.Countdown) {
	if f.Countdown != nil {
		f.Countdown(c)
	}
}

func (f Funcs) OnSend(r model.SendResult) {
	if f.Send != nil {
		f.Send(r)
	}
}

type registration struct {
	id  int
	obs Observer
}

// Notifier fans events out to every registered observer in registration
// order.
type Notifier struct {
	mu        sync.RWMutex
	nextID    int
	observers []registration
}

// NewNotifier returns a notifier with the given observers registered.
func NewNotifier(observers ...Observer) *Notifier {
	n := &Notifier{}
	for _, o := range observers {
		n.Register(o)
	}
	return n
}

// Register adds o and returns a function that removes it again.
func (n *Notifier) Register(o Observer) func() {
	if o == nil {
		return func() {}
	}
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.observers = append(n.observers, registration{id: id, obs: o})
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, r := range n.observers {
			if r.id == id {
				n.observers = append(n.observers[:i], n.observers[i+1:]...)
				return
			}
		}
	}
}

func (n *Notifier) list() []Observer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Observer, len(n.observers))
	for i, r := range n.observers {
		out[i] = r.obs
	}
	return out
}

func (n *Notifier) Progress(p model.Progress) {
	for _, o := range n.list() {
		o.OnProgress(p)
	}
}

func (n *Notifier) Log(text string) {
	for _, o := range n.list() {
		o.OnLog(text)
	}
}

func (n *Notifier) Countdown(c model.Countdown) {
	for _, o := range n.list() {
		o.OnCountdown(c)
	}
}

func (n *Notifier) Send(r model.SendResult) {
	for _, o := range n.list() {
		if so, ok := o.(SendObserver); ok {
			so.OnSend(r)
		}
	}
}
