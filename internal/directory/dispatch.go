package directory

import (
	"context"
	"errors"
	"sync"
)

// ErrNotSettled is returned by Pending.Result before the lookup finishes.
var ErrNotSettled = errors.New("lookup has not completed")

// Pending is the deferred result of FindUser. It settles exactly once; the
// observer bus, the optional Handler and waiters all see the same outcome.
type Pending struct {
	once    sync.Once
	done    chan struct{}
	handler Handler
	bus     *Bus

	user *User
	err  error
}

func newPending(handler Handler, bus *Bus) *Pending {
	return &Pending{
		done:    make(chan struct{}),
		handler: handler,
		bus:     bus,
	}
}

// settle records the outcome. On success the bus is notified first, then the
// handler, then waiters are released. On failure the bus is skipped. Later
// calls are no-ops.
func (p *Pending) settle(user *User, err error) {
	p.once.Do(func() {
		defer close(p.done)

		if err != nil {
			if p.handler != nil {
				p.handler(err, nil)
			}
			p.err = err
			return
		}

		p.bus.Publish(Event{Kind: KindUser, User: user})
		if p.handler != nil {
			p.handler(nil, user)
		}
		p.user = user
	})
}

// Done is closed once the lookup has settled.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the lookup settles or ctx ends. Cancelling ctx does not
// stop the lookup itself.
func (p *Pending) Wait(ctx context.Context) (*User, error) {
	select {
	case <-p.done:
		return p.user, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the settled outcome without blocking.
func (p *Pending) Result() (*User, error) {
	select {
	case <-p.done:
		return p.user, p.err
	default:
		return nil, ErrNotSettled
	}
}
