// Package relay implements the presence-and-relay broker: the
// registries of online users and open push channels, the trust-based
// authorization check, and the stream lifecycle from open to teardown.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/OpenSourceInternetV2/grimwire/internal/store"
	"go.uber.org/zap"
)

// ErrRelayBusy is returned when a relay key is already held by an open
// stream. One key, one owner; the existing relay is never replaced.
var ErrRelayBusy = errors.New("relay already open")

// AccountLoadError wraps an account-store failure while bringing a
// user online. The relay reservation is rolled back before it is
// returned.
type AccountLoadError struct {
	UserID string
	Err    error
}

func (e *AccountLoadError) Error() string {
	return fmt.Sprintf("load account %s: %v", e.UserID, e.Err)
}

func (e *AccountLoadError) Unwrap() error { return e.Err }

// Identity is the authenticated (user, app domain) pair the session
// layer resolves per request. The broker treats it as read-only.
type Identity struct {
	UserID string
	App    string
}

// Sink is the writable end of an open relay. Send must be safe for
// concurrent use; a returned error means the transport is dead.
type Sink interface {
	Send(frame []byte) error
}

// AccountSource is the slice of the account store the broker needs:
// the durable record backing a user's first presence.
type AccountSource interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

type relayState int

const (
	// stateRequested: key reserved, presence bookkeeping still pending.
	stateRequested relayState = iota
	stateOpen
	stateClosed
)

// Relay is one open push channel. Its state field is guarded by the
// broker mutex.
type Relay struct {
	key    Key
	user   string
	app    string
	stream StreamID
	sink   Sink
	state  relayState
}

// Key returns the relay's registry key.
func (r *Relay) Key() Key { return r.key }

// Result classifies the outcome of a broadcast dispatch.
type Result int

const (
	Delivered Result = iota
	NotOnline
	Forbidden
	Invalid
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NotOnline:
		return "not_online"
	case Forbidden:
		return "forbidden"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Options configures optional broker dependencies.
type Options struct {
	Metrics *Metrics
}

// Broker owns the relay and presence registries. One mutex guards
// both, so the existence check and insertion in Open are indivisible:
// of two concurrent opens for the same key, exactly one wins.
type Broker struct {
	log      *zap.Logger
	accounts AccountSource
	metrics  *Metrics

	mu     sync.Mutex
	relays map[Key]*Relay
	users  map[string]*presence
}

// NewBroker wires the broker's dependencies.
func NewBroker(log *zap.Logger, accounts AccountSource, opts Options) *Broker {
	return &Broker{
		log:      log,
		accounts: accounts,
		metrics:  opts.Metrics,
		relays:   make(map[Key]*Relay),
		users:    make(map[string]*presence),
	}
}

// Open reserves the relay key and registers the stream under the
// user's presence, creating the presence from the durable account
// record if this is the user's first stream. The key reservation
// happens before the account load, so a concurrent duplicate open is
// rejected while the load is still in flight. On a load failure the
// reservation is rolled back and an AccountLoadError returned; the
// registry never keeps a relay whose presence bookkeeping failed.
func (b *Broker) Open(ctx context.Context, id Identity, stream StreamID, sink Sink) (*Relay, error) {
	key := NewKey(id.UserID, id.App, stream)
	r := &Relay{
		key:    key,
		user:   id.UserID,
		app:    id.App,
		stream: stream,
		sink:   sink,
		state:  stateRequested,
	}

	b.mu.Lock()
	if _, held := b.relays[key]; held {
		b.mu.Unlock()
		b.metrics.conflict()
		return nil, ErrRelayBusy
	}
	b.relays[key] = r
	if p := b.users[id.UserID]; p != nil {
		p.addStream(id.App, stream)
		r.state = stateOpen
		b.mu.Unlock()
		b.opened(r)
		return r, nil
	}
	b.mu.Unlock()

	// First stream for this user: load the durable record. The account
	// store may block; the key reservation above already guards the
	// slot.
	rec, err := b.accounts.GetUser(ctx, id.UserID)
	if err == nil && rec == nil {
		err = store.ErrNotFound
	}
	if err != nil {
		b.teardown(r)
		b.metrics.accountLoadFailure()
		return nil, &AccountLoadError{UserID: id.UserID, Err: err}
	}

	b.mu.Lock()
	p := b.users[id.UserID]
	if p == nil {
		// Re-checked under the lock: a sibling open may have created
		// the presence while we were loading.
		p = newPresence(id.UserID, rec.TrustedPeers)
		b.users[id.UserID] = p
		b.metrics.userOnline()
	}
	p.addStream(id.App, stream)
	r.state = stateOpen
	b.mu.Unlock()
	b.opened(r)
	return r, nil
}

func (b *Broker) opened(r *Relay) {
	b.metrics.relayOpened()
	b.log.Info("relay opened",
		zap.String("user", r.user),
		zap.String("app", r.app),
		zap.Int("stream", int(r.stream)))
}

// Close tears the relay down: the registry entry is removed, the
// stream is withdrawn from the user's presence, and the presence
// itself is removed when its last stream goes. Close is idempotent
// and is the single teardown path for client disconnects, transport
// write failures, and failed-open rollbacks.
func (b *Broker) Close(r *Relay) {
	if r == nil {
		return
	}
	b.teardown(r)
}

func (b *Broker) teardown(r *Relay) {
	b.mu.Lock()
	if r.state == stateClosed {
		b.mu.Unlock()
		return
	}
	wasOpen := r.state == stateOpen
	r.state = stateClosed
	delete(b.relays, r.key)

	userGone := false
	if p := b.users[r.user]; p != nil {
		p.removeStream(r.app, r.stream)
		if p.streamCount() == 0 {
			delete(b.users, r.user)
			userGone = true
		}
	}
	b.mu.Unlock()

	if userGone {
		b.metrics.userOffline()
	}
	if wasOpen {
		b.metrics.relayClosed()
		b.log.Info("relay closed",
			zap.String("user", r.user),
			zap.String("app", r.app),
			zap.Int("stream", int(r.stream)))
	}
}

// Dispatch validates a directed signal, authorizes it against the
// destination's trust list, and forwards it to the destination relay.
// Delivery is fire-and-forget at most once: a transport write failure
// triggers the destination's normal teardown and is not reported to
// the sender.
func (b *Broker) Dispatch(sender Identity, env Envelope) Result {
	result := b.dispatch(sender, env)
	b.metrics.signal(result.String())
	return result
}

func (b *Broker) dispatch(sender Identity, env Envelope) Result {
	if err := env.Validate(); err != nil {
		return Invalid
	}
	// A caller may only claim to send as itself.
	if env.Src.User != sender.UserID || env.Src.App != sender.App {
		return Invalid
	}

	b.mu.Lock()
	r, held := b.relays[env.Dst.Key()]
	if !held || r.state != stateOpen {
		// Absent or still mid-open: the target is unreachable right
		// now, which is not an error.
		b.mu.Unlock()
		return NotOnline
	}
	p := b.users[env.Dst.User]
	if p == nil || !p.trusts(sender.UserID) {
		b.mu.Unlock()
		return Forbidden
	}
	sink := r.sink
	b.mu.Unlock()

	if err := sink.Send(env.Frame()); err != nil {
		b.log.Warn("relay write failed",
			zap.String("key", string(r.key)),
			zap.Error(err))
		b.teardown(r)
	}
	return Delivered
}

// Trusted reports whether requester may observe or signal user. False
// when the user is offline: presence is the only trust snapshot the
// broker holds.
func (b *Broker) Trusted(requester, user string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.users[user]
	return p != nil && p.trusts(requester)
}

// Snapshot returns the user's presence view, if online.
func (b *Broker) Snapshot(user string) (View, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.users[user]
	if p == nil {
		return View{}, false
	}
	return p.view(), true
}

// Online lists every presence, sorted by user id.
func (b *Broker) Online() []View {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]View, 0, len(b.users))
	for _, p := range b.users {
		out = append(out, p.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateTrustedPeers replaces the cached trust list for an online
// user. A no-op when offline; the durable record is updated by the
// caller independently.
func (b *Broker) UpdateTrustedPeers(user string, peers []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p := b.users[user]; p != nil {
		p.setTrusted(peers)
	}
}

// Counts reports the number of online users and open relays.
func (b *Broker) Counts() (users, relays int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users), len(b.relays)
}
