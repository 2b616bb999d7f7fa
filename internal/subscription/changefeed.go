package subscription

import "sync"

// changeFeed is the in-memory change-notification channel for one user.
// Senders are subscribe calls; receivers are live notification sessions.
// Publishing never blocks: a session that is not listening, or whose
// buffer is full, simply misses the signal. That is safe because the
// durable subscription list is already updated and is re-read on the
// session's next connect.
type changeFeed struct {
	mu        sync.Mutex
	receivers map[int]chan string
	nextID    int
	closed    bool
}

func newChangeFeed() *changeFeed {
	return &changeFeed{
		receivers: make(map[int]chan string),
	}
}

// attach registers a receiver and returns it with a detach function.
// The receiver channel is closed on detach, or immediately if the feed
// itself was already closed.
func (f *changeFeed) attach(buffer int) (<-chan string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan string, buffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.receivers[id] = ch

	detach := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.receivers[id]; ok {
			delete(f.receivers, id)
			close(ch)
		}
	}
	return ch, detach
}

// publish delivers category to every attached receiver without
// blocking. Returns the number of receivers that took the signal.
func (f *changeFeed) publish(category string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0
	for _, ch := range f.receivers {
		select {
		case ch <- category:
			delivered++
		default:
		}
	}
	return delivered
}

// receiverCount reports how many sessions are currently attached.
func (f *changeFeed) receiverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receivers)
}

// close closes every attached receiver. Used only on shutdown; a live
// session treats its receiver closing as a signal to tear down.
func (f *changeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.receivers {
		delete(f.receivers, id)
		close(ch)
	}
}
