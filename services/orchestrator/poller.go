package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/metrics"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/internal/tracing"
	"github.com/customeros/rfqstack/internal/utils"
	"github.com/customeros/rfqstack/services/classifier"
)

// PollerState is owned by the poll goroutine. Workers never see the session.
type PollerState struct {
	Markers   map[string]interfaces.Marker
	Session   interfaces.MailSession
	Connected bool
}

func NewPollerState() *PollerState {
	return &PollerState{Markers: map[string]interfaces.Marker{}}
}

// Run polls until ctx is cancelled. The first cycle runs immediately. Connection failures are
// retried with backoff, an authentication failure halts polling and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx = utils.SetMailboxIDInContext(ctx, o.cfg.MailboxID)
	state := NewPollerState()
	defer o.closeSession(state)

	o.resumePending(ctx)

	retry := &backoff.Backoff{Min: o.cfg.InitialBackoff, Max: o.cfg.MaxBackoff, Factor: 1.5}
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		err := o.RunCycle(ctx, state)
		switch {
		case ctx.Err() != nil:
			return nil
		case err == nil:
			retry.Reset()
		case ierrors.IsAuthentication(err):
			o.halt(err)
			return fmt.Errorf("%w: %w", ierrors.ErrPollingHalted, err)
		default:
			wait := retry.Duration()
			o.log.Warnf("Poll cycle failed (attempt %d), retrying in %s: %v", int(retry.Attempt()), wait, err)
			if wait < o.cfg.PollInterval {
				if !sleep(ctx, wait) {
					return nil
				}
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (o *Orchestrator) halt(err error) {
	metrics.PollerHalted()
	o.log.Errorf("ALERT: polling halted for mailbox %s, operator action required: %v", o.cfg.MailboxID, err)
	o.updateStatus(func(status *interfaces.PollerStatus) {
		status.Halted = true
		status.Connected = false
		status.LastError = err.Error()
	})
}

// resumePending dispatches requests left pending by a previous run.
func (o *Orchestrator) resumePending(ctx context.Context) {
	pending, err := o.deps.Requests.ListRecent(ctx, o.cfg.ResumeLimit, enum.RequestStatusPending)
	if err != nil {
		o.log.Errorf("Failed to list pending requests: %v", err)
		return
	}
	if len(pending) > 0 {
		o.log.Infof("Resuming %d pending requests", len(pending))
	}
	for i := len(pending) - 1; i >= 0; i-- {
		o.dispatchAsync(pending[i].ID)
	}
}

// RunCycle makes one pass over the configured folders.
func (o *Orchestrator) RunCycle(ctx context.Context, state *PollerState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.RunCycle")
	defer span.Finish()
	tracing.TagComponentPoller(span)

	if err := o.ensureSession(ctx, state); err != nil {
		tracing.TraceErr(span, err)
		o.recordError(err)
		return err
	}

	available, err := state.Session.ListFolders(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		o.dropSession(state, err)
		return err
	}

	for _, folder := range o.selectFolders(available) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.syncFolder(ctx, state, folder); err != nil {
			tracing.TraceErr(span, err)
			switch {
			case ierrors.IsTransport(err) || ierrors.IsAuthentication(err):
				o.dropSession(state, err)
				return err
			case ierrors.IsRetryable(err):
				o.recordError(err)
				return err
			}
			o.log.Errorf("[%s][%s] Folder sync failed: %v", o.cfg.MailboxID, folder, err)
			o.recordError(err)
		}
	}

	o.updateStatus(func(status *interfaces.PollerStatus) {
		status.LastPoll = utils.Now()
		status.Connected = state.Connected
	})
	return nil
}

func (o *Orchestrator) ensureSession(ctx context.Context, state *PollerState) error {
	if state.Session != nil && state.Connected {
		return nil
	}
	session, err := o.deps.Transport.Connect(ctx, o.deps.Credentials, o.deps.Endpoint)
	if err != nil {
		return err
	}
	state.Session = session
	state.Connected = true
	o.log.Infof("[%s] Connected to %s", o.cfg.MailboxID, o.deps.Endpoint.Address())
	o.updateStatus(func(status *interfaces.PollerStatus) {
		status.Connected = true
		status.LastError = ""
	})
	return nil
}

func (o *Orchestrator) dropSession(state *PollerState, cause error) {
	o.log.Warnf("[%s] Dropping mailbox session: %v", o.cfg.MailboxID, cause)
	o.closeSession(state)
	o.recordError(cause)
}

func (o *Orchestrator) closeSession(state *PollerState) {
	if state.Session != nil {
		if err := state.Session.Close(); err != nil {
			o.log.Debugf("[%s] Error closing session: %v", o.cfg.MailboxID, err)
		}
	}
	state.Session = nil
	state.Connected = false
	o.updateStatus(func(status *interfaces.PollerStatus) { status.Connected = false })
}

func (o *Orchestrator) recordError(err error) {
	o.updateStatus(func(status *interfaces.PollerStatus) { status.LastError = err.Error() })
}

// selectFolders keeps the configured folders the server actually has. INBOX matches case
// insensitively as IMAP requires.
func (o *Orchestrator) selectFolders(available []string) []string {
	byName := make(map[string]string, len(available))
	for _, name := range available {
		key := name
		if strings.EqualFold(name, "INBOX") {
			key = "INBOX"
		}
		byName[key] = name
	}

	var selected []string
	for _, want := range o.cfg.Folders {
		key := strings.TrimSpace(want)
		if strings.EqualFold(key, "INBOX") {
			key = "INBOX"
		}
		if name, ok := byName[key]; ok {
			selected = append(selected, name)
			continue
		}
		o.log.Warnf("[%s] Configured folder %q does not exist on the server", o.cfg.MailboxID, want)
	}
	sort.Strings(selected)
	return selected
}

// syncFolder records new candidate messages of one folder and then moves its high-water
// mark. The mark only passes messages that are durably recorded.
func (o *Orchestrator) syncFolder(ctx context.Context, state *PollerState, folder string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Orchestrator.syncFolder")
	defer span.Finish()
	tracing.TagComponentPoller(span)
	span.LogKV("folder", folder)

	marker, err := o.loadMarker(ctx, state, folder)
	if err != nil {
		return err
	}

	messages, next, err := state.Session.FetchNewMessages(ctx, folder, marker)
	if err != nil {
		return err
	}

	committed := marker
	if next.UIDValidity != marker.UIDValidity {
		committed = interfaces.Marker{UIDValidity: next.UIDValidity}
	}

	var queued []string
	var ingestErr error
	for _, msg := range messages {
		requestID, err := o.ingestMessage(ctx, state.Session, folder, msg)
		if err != nil {
			ingestErr = errors.Wrapf(err, "message uid %d", msg.Ref.UID)
			break
		}
		if requestID != "" {
			queued = append(queued, requestID)
		}
		committed.LastUID = msg.Ref.UID
	}
	if ingestErr == nil {
		committed = next
	}

	if committed != marker {
		err := o.deps.SyncStates.SaveSyncState(ctx, &models.MailboxSyncState{
			MailboxID:   o.cfg.MailboxID,
			FolderName:  folder,
			UIDValidity: committed.UIDValidity,
			LastUID:     committed.LastUID,
		})
		if err != nil {
			o.log.Errorf("[%s][%s] Failed to save sync state: %v", o.cfg.MailboxID, folder, err)
		} else {
			state.Markers[folder] = committed
		}
	}

	for _, id := range queued {
		o.dispatchAsync(id)
	}

	o.updateStatus(func(status *interfaces.PollerStatus) {
		stats := status.Folders[folder]
		stats.LastSeen = committed.LastUID
		stats.Discovered += len(queued)
		stats.LastSync = utils.Now()
		status.Folders[folder] = stats
	})

	if len(messages) > 0 {
		o.log.Infof("[%s][%s] Fetched %d new messages, %d new requests", o.cfg.MailboxID, folder, len(messages), len(queued))
	}
	return ingestErr
}

// ResetFolder forgets the high-water mark of a folder. The next cycle sees the folder's
// messages again; those already recorded are skipped by message id.
func (o *Orchestrator) ResetFolder(ctx context.Context, folder string) error {
	if err := o.deps.SyncStates.DeleteSyncState(ctx, o.cfg.MailboxID, folder); err != nil {
		return err
	}
	o.mu.Lock()
	o.resets[folder] = struct{}{}
	o.mu.Unlock()
	o.log.Infof("[%s][%s] Sync state reset", o.cfg.MailboxID, folder)
	return nil
}

func (o *Orchestrator) takeReset(folder string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.resets[folder]
	delete(o.resets, folder)
	return ok
}

func (o *Orchestrator) loadMarker(ctx context.Context, state *PollerState, folder string) (interfaces.Marker, error) {
	if o.takeReset(folder) {
		delete(state.Markers, folder)
	}
	if marker, ok := state.Markers[folder]; ok {
		return marker, nil
	}
	syncState, err := o.deps.SyncStates.GetSyncState(ctx, o.cfg.MailboxID, folder)
	if err != nil {
		return interfaces.Marker{}, err
	}
	marker := interfaces.Marker{}
	if syncState != nil {
		marker = interfaces.Marker{UIDValidity: syncState.UIDValidity, LastUID: syncState.LastUID}
	}
	state.Markers[folder] = marker
	return marker, nil
}

// ingestMessage records a candidate RFQ with its attachments. It returns the id of a newly
// created request, or "" when the message is skipped or already known.
func (o *Orchestrator) ingestMessage(ctx context.Context, session interfaces.MailSession, folder string, msg interfaces.RawMessage) (string, error) {
	if system, reason := classifier.IsSystemSender(msg.FromAddress); system {
		o.log.Debugf("[%s][%s] Skipping uid %d from system sender: %s", o.cfg.MailboxID, folder, msg.Ref.UID, reason)
		return "", nil
	}

	candidate, keyword := o.deps.Classifier.IsCandidateRFQ(msg.Subject, msg.BodyText)
	if !candidate {
		return "", nil
	}

	if _, err := o.deps.Requests.GetByMessageID(ctx, msg.MessageID); err == nil {
		return "", nil
	} else if !errors.Is(err, repository.ErrRequestNotFound) {
		return "", err
	}

	var err error

	var parts []interfaces.AttachmentPart
	if msg.HasAttachments {
		parts, err = session.FetchAttachments(ctx, msg.Ref)
		if err != nil {
			return "", err
		}
	}

	requestID := models.NewRequestID()
	now := utils.Now().Format(time.RFC3339)
	notes := []string{fmt.Sprintf("[%s] discovered in %s, matched %q", now, folder, keyword)}

	staged, rejected, err := o.stageAttachments(ctx, folder, requestID, parts)
	if err != nil {
		return "", err
	}
	for _, rejection := range rejected {
		notes = append(notes, fmt.Sprintf("[%s] %s", now, rejection))
	}

	request := &models.IngestionRequest{
		ID:              requestID,
		MessageID:       msg.MessageID,
		MailboxID:       o.cfg.MailboxID,
		Folder:          folder,
		ImapUID:         msg.Ref.UID,
		FromAddress:     msg.FromAddress,
		FromName:        msg.FromName,
		ToAddresses:     msg.ToAddresses,
		Subject:         msg.Subject,
		ReceivedAt:      msg.ReceivedAt,
		BodyText:        msg.BodyText,
		MatchedKeyword:  keyword,
		AttachmentCount: len(parts),
		ProcessingNotes: strings.Join(notes, "\n"),
	}
	created, err := o.deps.Requests.CreateWithAttachments(ctx, request, staged)
	if err != nil || !created {
		o.deps.Store.Discard(context.WithoutCancel(ctx), staged)
		return "", err
	}
	metrics.MessageDiscovered(folder)

	return request.ID, nil
}

// stageAttachments uploads every part ahead of the request row. Oversized and disallowed parts
// come back as rejection notes; any other failure discards what was already uploaded.
func (o *Orchestrator) stageAttachments(ctx context.Context, folder, requestID string, parts []interfaces.AttachmentPart) ([]*models.Attachment, []string, error) {
	var staged []*models.Attachment
	var rejected []string
	for _, part := range parts {
		attachment, err := o.deps.Store.Stage(ctx, requestID, part)
		if err == nil {
			staged = append(staged, attachment)
			continue
		}

		var reason string
		switch {
		case errors.Is(err, ierrors.ErrAttachmentTooBig):
			reason = "too_big"
		case errors.Is(err, ierrors.ErrAttachmentType):
			reason = "type"
		default:
			o.deps.Store.Discard(context.WithoutCancel(ctx), staged)
			return nil, nil, errors.Wrapf(err, "attachment %q", part.Filename)
		}
		metrics.AttachmentRejected(reason)
		o.log.Warnf("[%s][%s] Attachment %q of request %s rejected: %v", o.cfg.MailboxID, folder, part.Filename, requestID, err)
		rejected = append(rejected, fmt.Sprintf("attachment %q rejected: %v", part.Filename, err))
	}
	return staged, rejected, nil
}
