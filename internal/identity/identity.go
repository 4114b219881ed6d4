// Package identity talks to the external identity provider that issues and
// rotates console access tokens.
//
// The provider is the authoritative owner of the sign-in session. It exposes
// sign-in, sign-out, the current session (refreshing it when it has expired)
// and an event stream announcing sign-in, sign-out and token rotation.
//
// The session manager consumes this package through the Provider interface;
// OAuth2Provider is the production implementation.
package identity

import (
	"context"
	"sync"
	"time"
)

// Session is an identity-provider session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Subject and Email are read from the access token when it is a JWT.
	// They are informational only; the console API decides who the user is.
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`
}

// ExpiresWithin reports whether the access token expires within d of now.
// A zero expiry never expires.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// EventType identifies a provider event.
type EventType string

const (
	SignedIn       EventType = "signed_in"
	SignedOut      EventType = "signed_out"
	TokenRefreshed EventType = "token_refreshed"
)

// Event is delivered to subscribers when the provider session changes.
// For SignedOut, Session is the session that ended.
type Event struct {
	Type    EventType
	Session *Session
}

// Provider is the identity provider contract.
type Provider interface {
	// SignIn authenticates with email and password. Failures are classified
	// into the login error categories; raw provider text is kept as the cause.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// SignOut terminates the provider session. Local provider state is
	// cleared even when the remote call fails; the remote error is returned.
	SignOut(ctx context.Context) error

	// Session returns the current session, refreshing it when expired.
	// It returns (nil, nil) when there is no session.
	Session(ctx context.Context) (*Session, error)

	// Refresh forces a token rotation. It returns (nil, nil) when the
	// provider no longer recognises the session.
	Refresh(ctx context.Context) (*Session, error)

	// Subscribe registers for events. The returned function unsubscribes
	// and closes the channel.
	Subscribe() (<-chan Event, func())
}

// eventBufferSize bounds how many undelivered events a slow subscriber may hold.
const eventBufferSize = 16

// Broker fans events out to subscribers. Delivery never blocks the
// publisher; a subscriber whose buffer is full misses the event.
type Broker struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	next    int
	dropped func(Event)
}

// NewBroker creates a broker. dropped, if non-nil, is called for each event
// a subscriber could not accept.
func NewBroker(dropped func(Event)) *Broker {
	return &Broker{
		subs:    make(map[int]chan Event),
		dropped: dropped,
	}
}

// Subscribe registers a new subscriber.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, eventBufferSize)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber.
func (b *Broker) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			if b.dropped != nil {
				b.dropped(e)
			}
		}
	}
}
