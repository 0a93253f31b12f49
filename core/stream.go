package core

import (
	"strings"
	"sync"
)

// StreamObserver receives pushes from a Subscribable. Callbacks may be invoked
// from any goroutine, including synchronously from Subscribe.
type StreamObserver struct {
	OnData  func(port string, value any)
	OnError func(port string, err error)
	OnDone  func(port string)
}

// Subscription is returned by Subscribe. Unsubscribe stops delivery and must be
// safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// Subscribable is a push-based source produced by a stream-action node.
type Subscribable interface {
	Subscribe(obs StreamObserver) Subscription
}

// SubscribeFunc adapts a function to Subscribable.
type SubscribeFunc func(obs StreamObserver) Subscription

// Subscribe calls f(obs).
func (f SubscribeFunc) Subscribe(obs StreamObserver) Subscription {
	return f(obs)
}

// UnsubscribeFunc adapts a function to Subscription. The function runs at
// most once.
func UnsubscribeFunc(fn func()) Subscription {
	return &funcSubscription{fn: fn}
}

type funcSubscription struct {
	once sync.Once
	fn   func()
}

func (s *funcSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.fn != nil {
			s.fn()
		}
	})
}

// DonePort names the control out-port fired when port completes: "stream" ->
// "onStreamDone".
func DonePort(port string) string {
	return "on" + capitalize(port) + "Done"
}

// ErrorPort names the control out-port fired when port fails: "stream" ->
// "onStreamError".
func ErrorPort(port string) string {
	return "on" + capitalize(port) + "Error"
}

// FullPort names the data out-port that holds every chunk pushed on port:
// "stream" -> "fullStream".
func FullPort(port string) string {
	return "full" + capitalize(port)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
