// Package reconnect re-establishes a dropped transport under a
// configurable policy, invoking the session layer's restore hook after
// each successful dial. Delays come from cenkalti/backoff;
// randomization is disabled so attempt timing follows the policy
// exactly.
package reconnect

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/steveyegge/surgo/internal/debug"
	"github.com/steveyegge/surgo/internal/transport"
)

// Kind selects a reconnection policy variant.
type Kind int

const (
	// KindNever takes no action on disconnect.
	KindNever Kind = iota
	// KindConstant retries with a fixed delay up to MaxAttempts.
	KindConstant
	// KindExponential retries with exponentially growing delays up to
	// MaxAttempts. Attempt n waits min(Initial * Multiplier^(n-1), Max).
	KindExponential
	// KindAlways retries with exponentially growing delays forever.
	KindAlways
)

// Policy describes when and how to reconnect.
type Policy struct {
	Kind        Kind          `yaml:"kind"`
	Delay       time.Duration `yaml:"delay"`        // constant policy
	Initial     time.Duration `yaml:"initial"`      // backoff policies
	Max         time.Duration `yaml:"max"`          // backoff policies
	Multiplier  float64       `yaml:"multiplier"`   // backoff policies
	MaxAttempts int           `yaml:"max_attempts"` // bounded policies
}

// Never returns the no-reconnection policy.
func Never() Policy {
	return Policy{Kind: KindNever}
}

// Constant returns a fixed-delay policy with a bounded attempt count.
func Constant(delay time.Duration, maxAttempts int) Policy {
	return Policy{Kind: KindConstant, Delay: delay, MaxAttempts: maxAttempts}
}

// ExponentialBackoff returns a capped exponential policy with a bounded
// attempt count.
func ExponentialBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) Policy {
	return Policy{Kind: KindExponential, Initial: initial, Max: max, Multiplier: multiplier, MaxAttempts: maxAttempts}
}

// AlwaysReconnect returns a capped exponential policy with no attempt
// bound.
func AlwaysReconnect(initial, max time.Duration, multiplier float64) Policy {
	return Policy{Kind: KindAlways, Initial: initial, Max: max, Multiplier: multiplier}
}

// Default is exponential backoff with 10 attempts.
func Default() Policy {
	return ExponentialBackoff(500*time.Millisecond, 30*time.Second, 2, 10)
}

// bounded reports whether the policy caps the attempt count.
func (p Policy) bounded() bool {
	return p.Kind == KindConstant || p.Kind == KindExponential
}

// newBackOff builds the delay source for one reconnection episode.
func (p Policy) newBackOff() backoff.BackOff {
	switch p.Kind {
	case KindConstant:
		return backoff.NewConstantBackOff(p.Delay)
	case KindExponential, KindAlways:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.Initial
		b.MaxInterval = p.Max
		b.Multiplier = p.Multiplier
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	default:
		return &backoff.StopBackOff{}
	}
}

// RestoreFunc replays session state (authenticate, use, router restart)
// after a successful dial. A restore failure counts the attempt as
// failed and backoff continues.
type RestoreFunc func(ctx context.Context) error

// Controller drives reconnection episodes. The session engine arms it
// on Connect, permanently disarms it on explicit Disconnect, and calls
// OnDisconnect when the transport reports loss. At most one episode
// runs at a time.
type Controller struct {
	policy    Policy
	transport transport.Transport
	restore   RestoreFunc

	armed        atomic.Bool
	reconnecting atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewController builds a controller.
func NewController(policy Policy, tr transport.Transport, restore RestoreFunc) *Controller {
	return &Controller{policy: policy, transport: tr, restore: restore}
}

// Arm enables reconnection on subsequent disconnects.
func (c *Controller) Arm() { c.armed.Store(true) }

// Disarm disables reconnection and cancels any in-progress episode.
func (c *Controller) Disarm() {
	c.armed.Store(false)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

// Reconnecting reports whether an episode is in progress.
func (c *Controller) Reconnecting() bool { return c.reconnecting.Load() }

// OnDisconnect starts an episode in the background if the policy and
// armed state permit. Duplicate triggers while an episode is running
// are ignored.
func (c *Controller) OnDisconnect() {
	if c.policy.Kind == KindNever || !c.armed.Load() {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		defer c.reconnecting.Store(false)
		defer cancel()
		c.runEpisode(ctx)
	}()
}

// runEpisode performs attempts until one succeeds, the policy is
// exhausted, or the controller is disarmed.
func (c *Controller) runEpisode(ctx context.Context) {
	if c.transport.IsConnected() {
		return
	}
	b := c.policy.newBackOff()
	for attempt := 1; ; attempt++ {
		if c.policy.bounded() && attempt > c.policy.MaxAttempts {
			debug.Logf("reconnect: giving up after %d attempts", c.policy.MaxAttempts)
			return
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if !c.armed.Load() {
			return
		}

		debug.Logf("reconnect: attempt %d", attempt)
		if err := c.transport.Connect(ctx); err != nil {
			debug.Logf("reconnect: attempt %d failed: %v", attempt, err)
			continue
		}
		if err := c.restore(ctx); err != nil {
			debug.Logf("reconnect: attempt %d restore failed: %v", attempt, err)
			_ = c.transport.Disconnect()
			continue
		}
		debug.Logf("reconnect: restored after %d attempts", attempt)
		return
	}
}
