package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/perchmail/perch/internal/decode"
	"github.com/perchmail/perch/internal/session"
)

// poll is the indefinite driving loop. Each cycle discovers unseen
// messages, processes them strictly in order, then waits out the pacing
// delay. It only returns when a failure occurs or ctx is canceled; both
// propagate out through the lock executor for cleanup.
func (l *Listener) poll(ctx context.Context, sess session.Session) error {
	for {
		l.setState(StateDiscovering)
		descriptors, err := sess.FetchNew(ctx)
		if err != nil {
			return errors.Wrap(err, "discover new messages")
		}
		l.cycles.Add(1)
		l.cycleCounter.Add(ctx, 1)
		if len(descriptors) > 0 {
			l.logger.Info("discovered new messages", slog.Int("count", len(descriptors)))
		}

		for _, d := range descriptors {
			l.setState(StateProcessing)
			if err := l.process(ctx, sess, d); err != nil {
				return err
			}
		}

		l.setState(StateWaiting)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.delay):
		}
	}
}

// process handles one message end to end: fetch content and envelope,
// flag it seen, decode each part, dispatch to the handler. Flagging
// completes before the handler runs, and the handler completes before
// the next message's fetch begins.
func (l *Listener) process(ctx context.Context, sess session.Session, d session.Descriptor) error {
	msg, err := sess.FetchOne(ctx, d)
	if err != nil {
		return errors.Wrapf(err, "fetch message %d", d.UID)
	}

	if err := sess.MarkSeen(ctx, d.UID); err != nil {
		return errors.Wrapf(err, "mark message %d seen", d.UID)
	}

	bodies := make([]string, 0, len(d.Parts))
	for i, part := range d.Parts {
		// A part without a declared encoding is treated as base64.
		scheme := decode.Base64
		if part.Encoding != "" {
			var known bool
			scheme, known = decode.Resolve(part.Encoding)
			if !known {
				l.logger.Warn("unrecognized transfer encoding",
					slog.String("label", part.Encoding),
					slog.String("fallback", scheme.String()),
					slog.Uint64("uid", uint64(d.UID)))
			}
		}
		text, err := decode.Text(scheme, msg.Parts[i])
		if err != nil {
			return errors.Wrapf(err, "decode part %v of message %d", part.Ref, d.UID)
		}
		bodies = append(bodies, text)
	}

	l.messages.Add(1)
	l.messageCounter.Add(ctx, 1)
	return l.handler(ctx, msg.Envelope, bodies)
}
