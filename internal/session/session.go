// Package session provides the IMAP capability the listener core runs
// against: connect, exclusive mailbox locking, unseen-message discovery,
// per-message content fetch, flag mutation, and logout.
package session

import (
	"context"
	"sort"

	"github.com/emersion/go-imap/v2"
)

// Credentials identify one account on one server. Host may carry an
// explicit port; without one the standard IMAPS port 993 is assumed.
type Credentials struct {
	Host     string
	Username string
	Password string
}

// BodyPart is one leaf of a message's structural tree: the IMAP part
// path plus the transfer-encoding label the server declared for it.
type BodyPart struct {
	Ref      []int
	Encoding string
}

// Descriptor references one newly discovered message for the duration of
// a single polling cycle. It is never persisted.
type Descriptor struct {
	UID   imap.UID
	Parts []BodyPart
}

// Message is the fetched content of one message: its envelope and the
// raw bytes of each requested body part, in descriptor order.
type Message struct {
	Envelope *imap.Envelope
	Parts    [][]byte
}

// LockHandle represents exclusive access to a mailbox. Release is
// idempotent; calling it more than once is a no-op.
type LockHandle interface {
	Release()
}

// Session is the remote capability the polling core depends on.
type Session interface {
	// Connect establishes and authenticates the connection. A failure
	// carries the server's response detail.
	Connect(ctx context.Context) error
	// AcquireLock takes exclusive access to the named mailbox. On
	// failure no lock is held and no cleanup is required.
	AcquireLock(mailbox string) (LockHandle, error)
	// FetchNew returns a descriptor for every message not yet flagged
	// seen, in mailbox order, with its leaf body parts enumerated.
	FetchNew(ctx context.Context) ([]Descriptor, error)
	// FetchOne retrieves envelope and body-part content for one
	// descriptor. Parts come back in the descriptor's order.
	FetchOne(ctx context.Context, d Descriptor) (*Message, error)
	// MarkSeen adds the \Seen flag. The mutation is idempotent.
	MarkSeen(ctx context.Context, uid imap.UID) error
	// Logout ends the session. Safe to call after a failed phase.
	Logout() error
}

// sortDescriptors orders discovery output by UID so processing order is
// stable regardless of how the server interleaved fetch responses.
func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].UID < ds[j].UID })
}
