// Package event implements a minimal generic pub-sub primitive used for
// cross-component notification paths that are not request/response shaped —
// e.g. BlockFetcher's NewBlock/NewBlockHashes intake, and StateSyncFinished.
package event

import (
	"sync"
)

// Subscription represents a subscription to a Feed. Unsubscribe cancels it;
// Err returns a channel that is closed when the subscription ends, which
// happens only through Unsubscribe.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// FeedOf implements one-to-many notification: sent values are delivered to
// every subscribed channel. Subscribing/unsubscribing and sending may all be
// called concurrently; the zero value is ready to use.
type FeedOf[T any] struct {
	mu   sync.Mutex
	subs []*typedSub[T]
}

type typedSub[T any] struct {
	ch      chan<- T
	errOnce sync.Once
	err     chan error
	feed    *FeedOf[T]
}

func (s *typedSub[T]) Unsubscribe() {
	s.feed.remove(s)
	s.errOnce.Do(func() { close(s.err) })
}

func (s *typedSub[T]) Err() <-chan error { return s.err }

// Subscribe adds channel as a recipient of future Send calls. The caller
// retains ownership of channel and must keep draining it until Unsubscribe.
func (f *FeedOf[T]) Subscribe(channel chan<- T) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &typedSub[T]{ch: channel, err: make(chan error), feed: f}
	f.subs = append(f.subs, sub)
	return sub
}

func (f *FeedOf[T]) remove(sub *typedSub[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s == sub {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return
		}
	}
}

// Send delivers value to every currently subscribed channel, blocking until
// each has received it or has been unsubscribed, and returns the number of
// subscribers reached.
func (f *FeedOf[T]) Send(value T) (nsent int) {
	f.mu.Lock()
	subs := make([]*typedSub[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- value:
			nsent++
		case <-sub.err:
		}
	}
	return nsent
}
