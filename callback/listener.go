package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-bridge/internal/breadcrumb"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize   = 32
	defaultSettleDelay = 3 * time.Second
)

// Handler consumes normalized events. Errors and panics never escape the
// Listener.
type Handler interface {
	Reconcile(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Reconcile(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Listener feeds events to a Handler one at a time, in arrival order, from a
// single goroutine.
type Listener struct {
	handler     Handler
	source      string
	parser      URLParser
	settleDelay time.Duration
	after       func(time.Duration) <-chan time.Time
	crumbs      breadcrumb.Store
	queueSize   int

	events    chan Event
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type ListenerOption func(*Listener)

// WithTrustedSource sets the source tag accepted by Submit.
func WithTrustedSource(source string) ListenerOption {
	return func(l *Listener) {
		l.source = source
	}
}

func WithCustomScheme(scheme string) ListenerOption {
	return func(l *Listener) {
		l.parser.CustomScheme = scheme
	}
}

// WithSettleDelay sets the delay before the forced check that follows a
// deep-link callback.
func WithSettleDelay(d time.Duration) ListenerOption {
	return func(l *Listener) {
		l.settleDelay = d
	}
}

// WithAfter replaces time.After (primarily for testing)
func WithAfter(after func(time.Duration) <-chan time.Time) ListenerOption {
	return func(l *Listener) {
		l.after = after
	}
}

func WithBreadcrumbs(store breadcrumb.Store) ListenerOption {
	return func(l *Listener) {
		l.crumbs = store
	}
}

func WithQueueSize(n int) ListenerOption {
	return func(l *Listener) {
		l.queueSize = n
	}
}

func NewListener(handler Handler, options ...ListenerOption) (*Listener, error) {
	if handler == nil {
		return nil, fmt.Errorf("[NewListener] handler is required")
	}
	l := &Listener{
		handler:     handler,
		source:      DefaultSource,
		parser:      URLParser{CustomScheme: DefaultCustomScheme},
		settleDelay: defaultSettleDelay,
		after:       time.After,
		queueSize:   defaultQueueSize,
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(l)
	}
	if l.queueSize < 1 {
		l.queueSize = 1
	}
	l.events = make(chan Event, l.queueSize)
	return l, nil
}

// Start launches the processing goroutine and queues the initial silent
// session check. Calling Start more than once has no effect.
func (l *Listener) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.run(ctx)
		l.Enqueue(CheckSessionRequest{Silent: true})
	})
}

// Close stops the processing goroutine. Queued events are discarded.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

// Submit accepts a bridge message. Messages from any other source are
// dropped and Submit returns false. A malformed trusted message becomes a
// forced session check.
func (l *Listener) Submit(msg Message) bool {
	if msg.Source != l.source {
		log.Debug().Str("source", msg.Source).Str("type", msg.Type).Msg("callback: ignoring untrusted message")
		return false
	}
	if raw, err := json.Marshal(msg); err == nil {
		breadcrumb.Drop(context.Background(), l.crumbs, breadcrumb.KeyLastDeepLinkMessage, string(raw))
	}

	ev, err := Normalize(msg)
	if err != nil {
		log.Err(err).Str("type", msg.Type).Msg("callback: malformed message, checking session instead")
		ev = CheckSessionRequest{Force: true}
	}
	return l.Enqueue(ev)
}

// DeepLink handles a URL the app was opened with. Auth callbacks are queued
// as FullURL and followed, after the settle delay, by a forced session check.
// Any other URL only triggers a session check.
func (l *Listener) DeepLink(raw string) bool {
	if !l.parser.HasAuthParams(raw) {
		return l.Enqueue(CheckSessionRequest{})
	}
	breadcrumb.Drop(context.Background(), l.crumbs, breadcrumb.KeyAuthCallbackReceived, raw)
	if !l.Enqueue(FullURL{URL: raw}) {
		return false
	}
	go func() {
		select {
		case <-l.after(l.settleDelay):
			l.Enqueue(CheckSessionRequest{Force: true})
		case <-l.done:
		}
	}()
	return true
}

// Enqueue queues ev for processing. It blocks while the queue is full and
// returns false once the Listener is closed.
func (l *Listener) Enqueue(ev Event) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case ev := <-l.events:
			l.dispatch(ctx, ev)
		}
	}
}

// dispatch hands ev to the handler. A failure triggers one silent session
// check unless ev was already a silent check.
func (l *Listener) dispatch(ctx context.Context, ev Event) {
	err := l.safeReconcile(ctx, ev)
	if err == nil {
		return
	}
	log.Err(err).Str("type", ev.Kind()).Msg("callback: handler failed")

	if check, ok := ev.(CheckSessionRequest); ok && check.Silent {
		return
	}
	if err := l.safeReconcile(ctx, CheckSessionRequest{Silent: true}); err != nil {
		log.Err(err).Msg("callback: fallback session check failed")
	}
}

func (l *Listener) safeReconcile(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Kind(), r)
		}
	}()
	return l.handler.Reconcile(ctx, ev)
}
