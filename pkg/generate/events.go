package generate

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrSubscriptionClosed resolves a subscription that was closed before a
// terminal event arrived.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Bus is an in-process event bus carrying chunk, done and error events
// keyed by plan id. Events for plan ids nobody subscribed to are dropped.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[string]*Subscription{}}
}

// Subscription listens to the three event kinds of one plan. It resolves
// exactly once, on done, error or Close, and stops receiving anything
// after that.
type Subscription struct {
	bus     *Bus
	planID  string
	onChunk func(string)

	once       sync.Once
	resolved   chan struct{}
	completion Completion
	err        error
}

// Subscribe starts listening for planID. onChunk may be nil. A second
// subscription for the same plan id replaces and closes the first.
func (b *Bus) Subscribe(planID string, onChunk func(string)) *Subscription {
	sub := &Subscription{
		bus:      b,
		planID:   planID,
		onChunk:  onChunk,
		resolved: make(chan struct{}),
	}

	b.mu.Lock()
	previous := b.subs[planID]
	b.subs[planID] = sub
	b.mu.Unlock()

	if previous != nil {
		previous.resolve(Completion{}, ErrSubscriptionClosed)
	}
	return sub
}

// Subscribed reports whether planID currently has a listener.
func (b *Bus) Subscribed(planID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[planID]
	return ok
}

func (b *Bus) lookup(planID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[planID]
}

// take removes and returns the subscription for planID.
func (b *Bus) take(planID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.subs[planID]
	delete(b.subs, planID)
	return sub
}

// PublishChunk delivers incremental text.
func (b *Bus) PublishChunk(planID, text string) {
	sub := b.lookup(planID)
	if sub == nil || sub.onChunk == nil || sub.isResolved() {
		return
	}
	sub.onChunk(text)
}

// PublishDone resolves the plan's subscription with completion.
func (b *Bus) PublishDone(planID string, completion Completion) {
	if sub := b.take(planID); sub != nil {
		sub.resolve(completion, nil)
	}
}

// PublishError resolves the plan's subscription with err.
func (b *Bus) PublishError(planID string, err error) {
	if err == nil {
		err = errors.New("execution failed")
	}
	if sub := b.take(planID); sub != nil {
		sub.resolve(Completion{}, err)
	}
}

func (s *Subscription) resolve(completion Completion, err error) {
	s.once.Do(func() {
		s.completion, s.err = completion, err
		close(s.resolved)
	})
}

func (s *Subscription) isResolved() bool {
	select {
	case <-s.resolved:
		return true
	default:
		return false
	}
}

// PlanID returns the plan the subscription listens to.
func (s *Subscription) PlanID() string {
	return s.planID
}

// Done is closed once the subscription resolves.
func (s *Subscription) Done() <-chan struct{} {
	return s.resolved
}

// Result waits for resolution or ctx.
func (s *Subscription) Result(ctx context.Context) (Completion, error) {
	select {
	case <-s.resolved:
		return s.completion, s.err
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// Close detaches the subscription from the bus. It is safe to call more
// than once and after resolution.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	if s.bus.subs[s.planID] == s {
		delete(s.bus.subs, s.planID)
	}
	s.bus.mu.Unlock()
	s.resolve(Completion{}, ErrSubscriptionClosed)
}
