// Package ftest holds shared helpers for functional tests: an
// in-memory IMAP server behind a self-signed TLS listener, plus raw
// message builders for seeding mailboxes.
package ftest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	giimapserver "github.com/emersion/go-imap/v2/imapserver"
	giimapmemserver "github.com/emersion/go-imap/v2/imapserver/imapmemserver"
)

const (
	DefaultUser = "user@example.com"
	DefaultPass = "password"
)

// Message seeds one mailbox entry. TransferEncoding, when set, becomes
// the Content-Transfer-Encoding header and Body is encoded accordingly
// before appending (base64 bodies are wrapped server-side exactly as a
// real MTA would deliver them).
type Message struct {
	Mailbox          string
	From             string
	To               string
	Subject          string
	Body             string
	TransferEncoding string
	Seen             bool
	Time             time.Time
}

// RawMessage appends verbatim RFC 5322 text, for tests that need full
// control of the wire bytes.
type RawMessage struct {
	Mailbox string
	Raw     string
	Seen    bool
	Time    time.Time
}

// SetupIMAPServer starts an in-memory IMAP server seeded with the given
// messages and returns its dial address. The server presents a
// self-signed certificate, so clients must dial with
// InsecureSkipVerify. Cleanup is registered on t.
func SetupIMAPServer(t *testing.T, messages []Message) string {
	t.Helper()

	raws := make([]RawMessage, 0, len(messages))
	for _, msg := range messages {
		raws = append(raws, RawMessage{
			Mailbox: msg.Mailbox,
			Raw:     BuildMessage(t, msg),
			Seen:    msg.Seen,
			Time:    msg.Time,
		})
	}
	return SetupRawIMAPServer(t, raws)
}

// SetupRawIMAPServer is SetupIMAPServer for pre-built message text.
func SetupRawIMAPServer(t *testing.T, messages []RawMessage) string {
	t.Helper()

	tlsConfig := testTLSConfig(t)
	mem := giimapmemserver.New()
	user := giimapmemserver.NewUser(DefaultUser, DefaultPass)
	mem.AddUser(user)

	if err := user.Create("INBOX", nil); err != nil {
		t.Fatalf("create mailbox: %v", err)
	}

	created := map[string]bool{"INBOX": true}
	for _, msg := range messages {
		mailbox := strings.TrimSpace(msg.Mailbox)
		if mailbox == "" {
			mailbox = "INBOX"
		}
		if !created[mailbox] {
			if err := user.Create(mailbox, nil); err != nil {
				t.Fatalf("create mailbox %q: %v", mailbox, err)
			}
			created[mailbox] = true
		}

		appendTime := msg.Time
		if appendTime.IsZero() {
			appendTime = time.Now()
		}
		options := &imap.AppendOptions{Time: appendTime}
		if msg.Seen {
			options.Flags = []imap.Flag{imap.FlagSeen}
		}
		if _, err := user.Append(mailbox, newLiteral(t, msg.Raw), options); err != nil {
			t.Fatalf("append message: %v", err)
		}
	}

	server := giimapserver.New(&giimapserver.Options{
		NewSession: func(*giimapserver.Conn) (giimapserver.Session, *giimapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		TLSConfig:    tlsConfig,
		InsecureAuth: true,
	})

	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsConfig)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	t.Cleanup(func() {
		_ = server.Close()
		_ = ln.Close()
		select {
		case <-errCh:
		default:
		}
	})

	return ln.Addr().String()
}

// ClientTLSConfig trusts the harness's self-signed certificate.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}

// BuildMessage renders a Message as RFC 5322 text, encoding the body
// per its transfer encoding.
func BuildMessage(t *testing.T, msg Message) string {
	t.Helper()

	body := msg.Body
	if msg.TransferEncoding != "" {
		switch strings.ToLower(msg.TransferEncoding) {
		case "base64":
			body = wrapBase64(base64.StdEncoding.EncodeToString([]byte(msg.Body)))
		case "7bit", "8bit", "binary", "quoted-printable":
			// Appended verbatim.
		default:
			t.Fatalf("unsupported transfer encoding %q", msg.TransferEncoding)
		}
	}

	builder := &strings.Builder{}
	builder.WriteString("From: ")
	builder.WriteString(msg.From)
	builder.WriteString("\r\n")
	builder.WriteString("To: ")
	builder.WriteString(msg.To)
	builder.WriteString("\r\n")
	builder.WriteString("Subject: ")
	builder.WriteString(msg.Subject)
	builder.WriteString("\r\n")
	builder.WriteString("MIME-Version: 1.0\r\n")
	builder.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	if msg.TransferEncoding != "" {
		builder.WriteString("Content-Transfer-Encoding: ")
		builder.WriteString(msg.TransferEncoding)
		builder.WriteString("\r\n")
	}
	builder.WriteString("\r\n")
	builder.WriteString(body)
	builder.WriteString("\r\n")
	return builder.String()
}

// wrapBase64 folds encoded text at 76 columns per RFC 2045.
func wrapBase64(encoded string) string {
	const width = 76
	builder := &strings.Builder{}
	for len(encoded) > width {
		builder.WriteString(encoded[:width])
		builder.WriteString("\r\n")
		encoded = encoded[width:]
	}
	builder.WriteString(encoded)
	return builder.String()
}

type literalReader struct {
	*bytes.Reader
	size int64
}

func newLiteral(t *testing.T, raw string) imap.LiteralReader {
	t.Helper()
	buf := []byte(raw)
	return &literalReader{
		Reader: bytes.NewReader(buf),
		size:   int64(len(buf)),
	}
}

func (lr *literalReader) Size() int64 {
	return lr.size
}

func testTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"imap"},
	}
}
