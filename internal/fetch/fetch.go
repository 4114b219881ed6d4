// Package fetch keeps the result of one remote read current for a consumer.
//
// A Fetcher runs the read described by a Descriptor through the API client,
// joins an identical read already in flight, cancels a read superseded by a
// different descriptor and exposes the latest Result. It never fetches while
// signed out and drops its data as soon as the session ends.
package fetch

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/assetdesk/internal/api"
	apperrors "github.com/felixgeelhaar/assetdesk/internal/errors"
	"github.com/felixgeelhaar/assetdesk/internal/log"
	"github.com/felixgeelhaar/assetdesk/internal/metrics"
	"github.com/felixgeelhaar/assetdesk/internal/session"
	"github.com/felixgeelhaar/assetdesk/internal/telemetry"
)

// Caller performs an API read. *api.Client implements it.
type Caller interface {
	DoJSON(ctx context.Context, req api.Request, out any) error
}

// Gate reports the session state. *session.Manager implements it.
type Gate interface {
	Authenticated() bool
	OnChange(fn func(session.Snapshot)) func()
}

// Descriptor identifies a read. Two descriptors with the same method, path
// and query are the same read.
type Descriptor struct {
	Method string
	Path   string
	Query  url.Values
}

// Get describes a GET of path.
func Get(path string, query url.Values) Descriptor {
	return Descriptor{Method: "GET", Path: path, Query: query}
}

func (d Descriptor) method() string {
	if d.Method == "" {
		return "GET"
	}
	return strings.ToUpper(d.Method)
}

// target is the request path including the encoded query.
func (d Descriptor) target() string {
	if len(d.Query) == 0 {
		return d.Path
	}
	return d.Path + "?" + d.Query.Encode()
}

// Key is the stable identity of the read.
func (d Descriptor) Key() string {
	return d.method() + " " + d.target()
}

// Result is what a consumer renders.
type Result[T any] struct {
	Data    T
	Loading bool
	Err     error
}

// Options configures a Fetcher.
type Options struct {
	// Resource labels metrics and spans, for example "loans".
	Resource string
	Logger   *log.Logger
	Metrics  *metrics.Metrics
}

// attempt is one started read.
type attempt struct {
	seq    uint64
	key    string
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// Fetcher holds the latest result of a read of T.
type Fetcher[T any] struct {
	caller   Caller
	gate     Gate
	resource string
	logger   *log.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	desc     *Descriptor
	result   Result[T]
	current  *attempt
	seq      uint64
	detached bool

	unsubscribe func()
}

// New creates a Fetcher bound to the session gate.
func New[T any](caller Caller, gate Gate, opts Options) *Fetcher[T] {
	if opts.Logger == nil {
		opts.Logger = log.DefaultLogger()
	}
	if opts.Resource == "" {
		opts.Resource = "resource"
	}

	f := &Fetcher[T]{
		caller:   caller,
		gate:     gate,
		resource: opts.Resource,
		logger:   opts.Logger.With("component", "fetch", "resource", opts.Resource),
		metrics:  opts.Metrics,
	}
	f.unsubscribe = gate.OnChange(f.sessionChanged)
	return f
}

// Run starts the read described by desc, or joins it when the same read is
// already in flight. A read for a different descriptor is canceled. The
// returned channel is closed when the result for desc is available.
func (f *Fetcher[T]) Run(desc Descriptor) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil && !f.current.closed && f.current.key == desc.Key() {
		return f.current.done
	}
	if f.desc == nil || f.desc.Key() != desc.Key() {
		var zero T
		f.result.Data = zero
	}
	d := desc
	f.desc = &d
	return f.startLocked()
}

// Refetch starts a new attempt of the current read, canceling one in flight.
func (f *Fetcher[T]) Refetch() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.desc == nil {
		return closedChan()
	}
	return f.startLocked()
}

// Snapshot returns the latest result.
func (f *Fetcher[T]) Snapshot() Result[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

// Close detaches the fetcher from the session. A read in flight may finish
// but its result is dropped.
func (f *Fetcher[T]) Close() {
	f.mu.Lock()
	if f.detached {
		f.mu.Unlock()
		return
	}
	f.detached = true
	if f.current != nil {
		f.finishLocked(f.current)
	}
	f.mu.Unlock()

	f.unsubscribe()
}

// startLocked supersedes the current attempt and starts a new one.
func (f *Fetcher[T]) startLocked() <-chan struct{} {
	if f.detached {
		return closedChan()
	}

	if f.current != nil && !f.current.closed {
		f.current.cancel()
		f.finishLocked(f.current)
		f.record("superseded")
	}

	f.seq++
	if !f.gate.Authenticated() {
		var zero T
		f.result = Result[T]{Data: zero, Err: apperrors.NewNotAuthenticatedError(f.desc.method(), f.desc.target())}
		f.current = nil
		f.record("unauthenticated")
		return closedChan()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{seq: f.seq, key: f.desc.Key(), cancel: cancel, done: make(chan struct{})}
	f.current = a
	f.result.Loading = true
	f.result.Err = nil

	req := api.Request{Method: f.desc.method(), Path: f.desc.target()}
	go f.fetch(ctx, a, req)

	return a.done
}

func (f *Fetcher[T]) fetch(ctx context.Context, a *attempt, req api.Request) {
	defer a.cancel()

	ctx, span := telemetry.StartFetchSpan(ctx, f.resource)
	defer span.End()

	var data T
	err := f.caller.DoJSON(ctx, req, &data)

	f.mu.Lock()
	defer f.mu.Unlock()

	if a.closed || a.seq != f.seq || f.detached {
		telemetry.RecordSuccess(span, attribute.Bool("fetch.dropped", true))
		return
	}

	if err != nil {
		// Keep the last good data next to the error.
		f.result.Loading = false
		f.result.Err = err
		f.record("error")
		f.logger.WithError(err).Debug("fetch failed", "path", req.Path)
		telemetry.RecordError(span, err)
	} else {
		f.result = Result[T]{Data: data}
		f.record("ok")
		telemetry.RecordSuccess(span)
	}
	f.finishLocked(a)
}

// sessionChanged drops authenticated data when the session ends and reruns
// a gated read once a user signs in.
func (f *Fetcher[T]) sessionChanged(s session.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.detached {
		return
	}

	switch s.State {
	case session.Unauthenticated:
		f.seq++
		if f.current != nil && !f.current.closed {
			f.current.cancel()
			f.finishLocked(f.current)
		}
		f.current = nil
		var zero T
		f.result = Result[T]{Data: zero}
		if f.desc != nil {
			f.result.Err = apperrors.NewNotAuthenticatedError(f.desc.method(), f.desc.target())
		}

	case session.Authenticated:
		if f.desc != nil && f.current == nil && apperrors.Is(f.result.Err, apperrors.ErrCodeNotAuthenticated) {
			f.startLocked()
		}
	}
}

func (f *Fetcher[T]) finishLocked(a *attempt) {
	if a.closed {
		return
	}
	a.closed = true
	f.result.Loading = false
	close(a.done)
}

func (f *Fetcher[T]) record(outcome string) {
	if f.metrics != nil {
		f.metrics.Fetches.WithLabelValues(f.resource, outcome).Inc()
	}
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
