package session

import (
	"context"
	"crypto/tls"
	"mime"
	"net"
	"strings"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/pkg/errors"
)

// Client is the production Session backed by a single IMAP connection.
type Client struct {
	Credentials Credentials
	TLSConfig   *tls.Config

	client *imapclient.Client
	mu     sync.Mutex
}

var _ Session = (*Client)(nil)

// Addr returns the dial address, defaulting the port to 993.
func (c Credentials) Addr() string {
	if _, _, err := net.SplitHostPort(c.Host); err == nil {
		return c.Host
	}
	return net.JoinHostPort(c.Host, "993")
}

// Connect dials the server over TLS and authenticates. Envelope headers
// are decoded with go-message's charset table so non-UTF-8 subjects
// survive the trip.
func (c *Client) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.Credentials.Host) == "" {
		return errors.New("imap host is required")
	}
	if strings.TrimSpace(c.Credentials.Username) == "" || c.Credentials.Password == "" {
		return errors.New("imap credentials are required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	options := &imapclient.Options{
		TLSConfig:   c.TLSConfig,
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
	}
	client, err := imapclient.DialTLS(c.Credentials.Addr(), options)
	if err != nil {
		return errors.Wrap(err, "imap connect")
	}

	if err := client.Login(c.Credentials.Username, c.Credentials.Password).Wait(); err != nil {
		_ = client.Close()
		return errors.Wrap(err, "imap login")
	}

	c.client = client
	return nil
}

type lockHandle struct {
	once    sync.Once
	release func()
}

func (h *lockHandle) Release() {
	h.once.Do(h.release)
}

// AcquireLock selects the mailbox read-write and takes the connection's
// mailbox mutex. Concurrent callers on the same Client block until the
// returned handle is released.
func (c *Client) AcquireLock(mailbox string) (LockHandle, error) {
	if c.client == nil {
		return nil, errors.New("imap client is not connected")
	}

	c.mu.Lock()
	if _, err := c.client.Select(mailbox, nil).Wait(); err != nil {
		c.mu.Unlock()
		return nil, errors.Wrapf(err, "lock mailbox %s", mailbox)
	}

	return &lockHandle{release: c.mu.Unlock}, nil
}

// FetchNew discovers messages without the \Seen flag, fetching only
// their UID and body structure, and enumerates every leaf part with its
// declared transfer-encoding label.
func (c *Client) FetchNew(ctx context.Context) ([]Descriptor, error) {
	if c.client == nil {
		return nil, errors.New("imap client is not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, errors.Wrap(err, "imap search unseen")
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchOptions := &imap.FetchOptions{
		UID:           true,
		BodyStructure: &imap.FetchItemBodyStructure{},
	}
	bufs, err := c.client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, errors.Wrap(err, "imap fetch structure")
	}

	descriptors := make([]Descriptor, 0, len(bufs))
	for _, buf := range bufs {
		d := Descriptor{UID: buf.UID}
		if buf.BodyStructure != nil {
			buf.BodyStructure.Walk(func(path []int, part imap.BodyStructure) bool {
				if single, ok := part.(*imap.BodyStructureSinglePart); ok {
					ref := append([]int(nil), path...)
					d.Parts = append(d.Parts, BodyPart{Ref: ref, Encoding: single.Encoding})
				}
				return true
			})
		}
		descriptors = append(descriptors, d)
	}
	sortDescriptors(descriptors)
	return descriptors, nil
}

// FetchOne retrieves the envelope plus the raw bytes of each body part
// named in the descriptor. Sections are fetched with BODY.PEEK so the
// only \Seen mutation is the explicit MarkSeen call.
func (c *Client) FetchOne(ctx context.Context, d Descriptor) (*Message, error) {
	if c.client == nil {
		return nil, errors.New("imap client is not connected")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sections := make([]*imap.FetchItemBodySection, 0, len(d.Parts))
	for _, part := range d.Parts {
		sections = append(sections, &imap.FetchItemBodySection{Part: part.Ref, Peek: true})
	}
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: sections,
	}

	bufs, err := c.client.Fetch(imap.UIDSetNum(d.UID), fetchOptions).Collect()
	if err != nil {
		return nil, errors.Wrapf(err, "imap fetch uid %d", d.UID)
	}

	for _, buf := range bufs {
		if buf.UID != d.UID {
			continue
		}
		msg := &Message{
			Envelope: buf.Envelope,
			Parts:    make([][]byte, 0, len(sections)),
		}
		for _, section := range sections {
			body := buf.FindBodySection(section)
			msg.Parts = append(msg.Parts, append([]byte(nil), body...))
		}
		return msg, nil
	}
	return nil, errors.Errorf("imap fetch uid %d: no data returned", d.UID)
}

// MarkSeen adds \Seen silently. Re-adding an existing flag is a no-op on
// the server side.
func (c *Client) MarkSeen(ctx context.Context, uid imap.UID) error {
	if c.client == nil {
		return errors.New("imap client is not connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	store := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	if err := c.client.Store(imap.UIDSetNum(uid), store, nil).Close(); err != nil {
		return errors.Wrapf(err, "imap store seen uid %d", uid)
	}
	return nil
}

// Logout ends the session and clears the connection.
func (c *Client) Logout() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout().Wait()
	c.client = nil
	if err != nil {
		return errors.Wrap(err, "imap logout")
	}
	return nil
}
