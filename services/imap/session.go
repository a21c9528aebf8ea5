package imap

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/rfqstack/interfaces"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/tracing"
)

type imapSession struct {
	c       *client.Client
	mailbox string
	cfg     TransportConfig
	log     logger.Logger

	// attachments of the most recent FetchNewMessages call
	cache map[interfaces.MessageRef][]interfaces.AttachmentPart
}

func (s *imapSession) ListFolders(ctx context.Context) ([]string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.ListFolders")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.c.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}
	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, transportErr("list folders", err)
	}

	sort.Strings(folders)
	span.SetTag("folders.count", len(folders))
	return folders, nil
}

func (s *imapSession) selectFolder(folder string) (*imap.MailboxStatus, error) {
	mbox, err := s.c.Select(folder, true)
	if err != nil {
		return nil, transportErr("select "+folder, err)
	}
	return mbox, nil
}

// FetchNewMessages returns messages above the marker in UID order, at most
// MaxPerFetch of them, and the marker advanced past the last one returned.
// A changed UIDVALIDITY discards the old marker and starts the folder over.
func (s *imapSession) FetchNewMessages(ctx context.Context, folder string, since interfaces.Marker) ([]interfaces.RawMessage, interfaces.Marker, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.FetchNewMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder.name", folder)
	span.SetTag("since.uid", since.LastUID)

	s.cache = map[interfaces.MessageRef][]interfaces.AttachmentPart{}

	mbox, err := s.selectFolder(folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, since, err
	}

	if since.UIDValidity != 0 && since.UIDValidity != mbox.UidValidity {
		s.log.Warnf("[%s][%s] UIDVALIDITY changed %d -> %d, resetting high-water mark", s.mailbox, folder, since.UIDValidity, mbox.UidValidity)
		since = interfaces.Marker{}
	}
	marker := interfaces.Marker{UIDValidity: mbox.UidValidity, LastUID: since.LastUID}
	if mbox.Messages == 0 {
		return nil, marker, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(since.LastUID+1, 0)
	uids, err := s.c.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, since, transportErr("uid search", err)
	}

	// n:* always matches the newest message, even when it is below n
	fresh := uids[:0]
	for _, uid := range uids {
		if uid > since.LastUID {
			fresh = append(fresh, uid)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	if len(fresh) > s.cfg.MaxPerFetch {
		s.log.Infof("[%s][%s] %d new messages, fetching the first %d this cycle", s.mailbox, folder, len(fresh), s.cfg.MaxPerFetch)
		fresh = fresh[:s.cfg.MaxPerFetch]
	}
	span.SetTag("messages.new", len(fresh))

	var result []interfaces.RawMessage
	for start := 0; start < len(fresh); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return result, marker, err
		}
		end := start + s.cfg.BatchSize
		if end > len(fresh) {
			end = len(fresh)
		}

		fetched, err := s.fetchBatch(folder, mbox.UidValidity, fresh[start:end])
		if err != nil {
			tracing.TraceErr(span, err)
			// keep what was fetched, the marker covers exactly those
			return result, marker, err
		}
		for _, msg := range fetched {
			result = append(result, msg.raw)
			s.cache[msg.raw.Ref] = msg.attachments
			if msg.raw.Ref.UID > marker.LastUID {
				marker.LastUID = msg.raw.Ref.UID
			}
		}
		// UIDs the server no longer returns were expunged, skip past them
		if last := fresh[end-1]; last > marker.LastUID {
			marker.LastUID = last
		}
	}

	return result, marker, nil
}

type fetchedMessage struct {
	raw         interfaces.RawMessage
	attachments []interfaces.AttachmentPart
}

func (s *imapSession) fetchBatch(folder string, uidValidity uint32, uids []uint32) ([]fetchedMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqSet, items, messages)
	}()

	out, readErr := s.collectMessages(folder, uidValidity, section, messages)
	if err := <-done; err != nil {
		return nil, transportErr("uid fetch", err)
	}
	if readErr != nil {
		return nil, readErr
	}

	sort.Slice(out, func(i, j int) bool { return out[i].raw.Ref.UID < out[j].raw.Ref.UID })
	return out, nil
}

func (s *imapSession) FetchAttachments(ctx context.Context, ref interfaces.MessageRef) ([]interfaces.AttachmentPart, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPSession.FetchAttachments")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("folder.name", ref.Folder)
	span.SetTag("uid", ref.UID)

	if parts, ok := s.cache[ref]; ok {
		return parts, nil
	}

	mbox, err := s.selectFolder(ref.Folder)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if mbox.UidValidity != ref.UIDValidity {
		return nil, fmt.Errorf("folder %s UIDVALIDITY is %d, message reference has %d", ref.Folder, mbox.UidValidity, ref.UIDValidity)
	}

	fetched, err := s.fetchBatch(ref.Folder, ref.UIDValidity, []uint32{ref.UID})
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if len(fetched) == 0 {
		return nil, fmt.Errorf("message %s/%d not found", ref.Folder, ref.UID)
	}
	return fetched[0].attachments, nil
}

func (s *imapSession) Close() error {
	span := opentracing.StartSpan("IMAPSession.Close")
	defer span.Finish()

	s.c.Timeout = s.cfg.LogoutTimeout
	done := make(chan error, 1)
	go func() {
		done <- s.c.Logout()
	}()

	select {
	case err := <-done:
		if err != nil && err != client.ErrAlreadyLoggedOut {
			tracing.TraceErr(span, err)
			return err
		}
		return nil
	case <-time.After(s.cfg.LogoutTimeout):
		span.SetTag("timeout", true)
		s.log.Warnf("[%s] Logout timed out", s.mailbox)
		return s.c.Terminate()
	}
}

// collectMessages parses every fetched message. A body that cannot be read in full fails the
// batch, the channel is still drained so the fetch command can complete.
func (s *imapSession) collectMessages(folder string, uidValidity uint32, section *imap.BodySectionName, messages <-chan *imap.Message) ([]fetchedMessage, error) {
	var out []fetchedMessage
	var readErr error
	for msg := range messages {
		if readErr != nil {
			continue
		}

		var body []byte
		if literal := msg.GetBody(section); literal != nil {
			data, err := io.ReadAll(literal)
			if err != nil {
				s.log.Warnf("[%s][%s] Failed to read body of UID %d: %v", s.mailbox, folder, msg.Uid, err)
				readErr = &ierrors.TransportError{Op: "read body", Err: err}
				continue
			}
			body = data
		}

		ref := interfaces.MessageRef{Folder: folder, UIDValidity: uidValidity, UID: msg.Uid}
		raw, attachments := parseMessage(s.mailbox, ref, msg.Envelope, msg.InternalDate, body, s.log)
		out = append(out, fetchedMessage{raw: raw, attachments: attachments})
	}
	if readErr != nil {
		return nil, readErr
	}
	return out, nil
}
