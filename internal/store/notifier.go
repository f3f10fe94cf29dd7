package store

import "sync"

const subscriberBuffer = 64

// notifier fans every Change out to all subscribers. Slow subscribers miss
// changes instead of blocking writers.
type notifier struct {
	mu          sync.RWMutex
	subscribers map[chan Change]struct{}
	closed      bool
}

func newNotifier() *notifier {
	return &notifier{subscribers: make(map[chan Change]struct{})}
}

func (n *notifier) publish(c Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subscribers {
		select {
		case ch <- c:
		default:
		}
	}
}

func (n *notifier) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, ok := n.subscribers[ch]; ok {
				delete(n.subscribers, ch)
				close(ch)
			}
		})
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.subscribers {
		delete(n.subscribers, ch)
		close(ch)
	}
}
