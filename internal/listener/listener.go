// Package listener implements the connect-lock-poll-decode-release
// lifecycle: it holds exclusive access to one mailbox over one IMAP
// connection and delivers every newly arrived message to a
// caller-supplied handler until the process stops or a failure escapes.
package listener

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/perchmail/perch/internal/session"
)

const defaultPollDelay = 1000 * time.Millisecond

// Handler receives one processed message: its envelope and the decoded
// body parts in structural order. The engine waits for the handler to
// return before touching the next message; a non-nil error aborts the
// current cycle and propagates out of OnMail.
type Handler func(ctx context.Context, envelope *imap.Envelope, bodies []string) error

// State is the engine's current phase, exposed for observability.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateLocking
	StateDiscovering
	StateProcessing
	StateWaiting
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLocking:
		return "locking"
	case StateDiscovering:
		return "discovering"
	case StateProcessing:
		return "processing"
	case StateWaiting:
		return "waiting"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "idle"
	}
}

// Snapshot is a point-in-time view of the listener, safe to serialize.
type Snapshot struct {
	State     string `json:"state"`
	Mailbox   string `json:"mailbox"`
	Cycles    uint64 `json:"cycles"`
	Messages  uint64 `json:"messages"`
	LastError string `json:"last_error,omitempty"`
}

// Listener drives the indefinite polling loop for a single mailbox.
type Listener struct {
	handler    Handler
	logger     *slog.Logger
	mailbox    string
	delay      time.Duration
	newSession func() session.Session

	credentials session.Credentials
	tlsConfig   *tls.Config

	state    atomic.Int32
	cycles   atomic.Uint64
	messages atomic.Uint64

	mu      sync.Mutex
	lastErr string

	cycleCounter   metric.Int64Counter
	messageCounter metric.Int64Counter
}

// Option configures a Listener.
type Option func(*Listener) error

// New builds a Listener for the given account and handler.
func New(credentials session.Credentials, handler Handler, opts ...Option) (*Listener, error) {
	l := &Listener{
		handler:     handler,
		credentials: credentials,
		mailbox:     "INBOX",
		delay:       defaultPollDelay,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}

	if l.handler == nil {
		return nil, errors.New("requires handler")
	}
	if l.logger == nil {
		return nil, errors.New("requires slogger")
	}
	if l.newSession == nil {
		l.newSession = func() session.Session {
			return &session.Client{Credentials: l.credentials, TLSConfig: l.tlsConfig}
		}
	}

	meter := otel.Meter("github.com/perchmail/perch/internal/listener")
	var err error
	if l.cycleCounter, err = meter.Int64Counter("perch.poll.cycles"); err != nil {
		return nil, errors.Wrap(err, "create cycle counter")
	}
	if l.messageCounter, err = meter.Int64Counter("perch.messages.processed"); err != nil {
		return nil, errors.Wrap(err, "create message counter")
	}

	return l, nil
}

// WithLogger sets the structured logger. Required.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Listener) error {
		l.logger = logger
		return nil
	}
}

// WithPollDelay overrides the pacing delay between cycles.
func WithPollDelay(delay time.Duration) Option {
	return func(l *Listener) error {
		if delay <= 0 {
			return errors.New("poll delay must be positive")
		}
		l.delay = delay
		return nil
	}
}

// WithMailbox overrides the watched mailbox name.
func WithMailbox(name string) Option {
	return func(l *Listener) error {
		if name == "" {
			return errors.New("mailbox name must not be empty")
		}
		l.mailbox = name
		return nil
	}
}

// WithTLSConfig sets the TLS configuration used when dialing.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(l *Listener) error {
		l.tlsConfig = cfg
		return nil
	}
}

// WithSessionFactory replaces how sessions are constructed, primarily
// for tests.
func WithSessionFactory(factory func() session.Session) Option {
	return func(l *Listener) error {
		l.newSession = factory
		return nil
	}
}

// OnMail starts listening and does not return under normal operation:
// it blocks until a failure escapes the polling loop or ctx is
// canceled. Listening again after a failure means calling OnMail again.
func OnMail(ctx context.Context, credentials session.Credentials, handler Handler, opts ...Option) error {
	l, err := New(credentials, handler, opts...)
	if err != nil {
		return err
	}
	return l.Run(ctx)
}

// Run executes one connect-lock-poll lifecycle on a fresh session.
func (l *Listener) Run(ctx context.Context) error {
	sess := l.newSession()
	return l.connectAndRun(ctx, sess, l.poll)
}

// connectAndRun opens the session, delegates to the lock executor, and
// guarantees logout afterwards. A logout failure never masks a failure
// already in flight.
func (l *Listener) connectAndRun(ctx context.Context, sess session.Session, work func(context.Context, session.Session) error) error {
	l.setState(StateConnecting)
	if err := sess.Connect(ctx); err != nil {
		return l.fail(err)
	}
	l.logger.Info("connected", slog.String("host", l.credentials.Addr()), slog.String("user", l.credentials.Username))

	workErr := l.withLock(ctx, sess, work)

	if err := sess.Logout(); err != nil {
		if workErr == nil {
			workErr = err
		} else {
			l.logger.Warn("logout after failure", slog.Any("error", err))
		}
	}

	if workErr != nil {
		return l.fail(workErr)
	}
	l.setState(StateTerminated)
	return nil
}

// withLock acquires the exclusive mailbox lock, runs work, and releases
// the lock on every exit path before any captured failure propagates.
func (l *Listener) withLock(ctx context.Context, sess session.Session, work func(context.Context, session.Session) error) error {
	l.setState(StateLocking)
	handle, err := sess.AcquireLock(l.mailbox)
	if err != nil {
		return errors.Wrapf(err, "acquire lock on %s", l.mailbox)
	}
	defer handle.Release()

	return work(ctx, sess)
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Listener) fail(err error) error {
	l.setState(StateFailed)
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
	return err
}

// Snapshot reports the listener's current state and counters.
func (l *Listener) Snapshot() Snapshot {
	l.mu.Lock()
	lastErr := l.lastErr
	l.mu.Unlock()
	return Snapshot{
		State:     State(l.state.Load()).String(),
		Mailbox:   l.mailbox,
		Cycles:    l.cycles.Load(),
		Messages:  l.messages.Load(),
		LastError: lastErr,
	}
}
