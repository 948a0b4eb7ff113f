package cart

import "sync"

// Broker fans cart item counts out to the subscribers of each session.
// Publishing never blocks: a subscriber that has not consumed its previous
// count only sees the newest one.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch chan int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*subscription]struct{})}
}

// Subscribe registers interest in a session's count. The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(sessionID string) (<-chan int, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{ch: make(chan int, 1)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[*subscription]struct{})
	}
	b.subs[sessionID][sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.remove(sessionID, sub) })
	}
}

// Publish delivers count to every subscriber of the session.
func (b *Broker) Publish(sessionID string, count int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs[sessionID] {
		select {
		case sub.ch <- count:
		default:
			// drop the stale value and keep the newest
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- count
		}
	}
}

// Subscribers returns the number of live subscriptions for a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sid, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, sid)
	}
}

func (b *Broker) remove(sessionID string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	close(sub.ch)
	if len(set) == 0 {
		delete(b.subs, sessionID)
	}
}
