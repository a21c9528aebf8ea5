package imap

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/logger"
	"github.com/customeros/rfqstack/internal/utils"
	"github.com/customeros/rfqstack/services/extractor"
)

// parseMessage turns a fetched message into the pipeline's view of it plus its attachments.
func parseMessage(mailbox string, ref interfaces.MessageRef, envelope *imap.Envelope, internalDate time.Time, body []byte, log logger.Logger) (interfaces.RawMessage, []interfaces.AttachmentPart) {
	raw := interfaces.RawMessage{Ref: ref, ReceivedAt: internalDate}

	if envelope != nil {
		raw.Subject = envelope.Subject
		raw.MessageID = utils.NormalizeMessageID(envelope.MessageId)
		if len(envelope.From) > 0 {
			raw.FromName = envelope.From[0].PersonalName
			raw.FromAddress = cleanAddress(envelope.From[0].Address())
		}
		raw.ToAddresses = convertAddresses(envelope.To)
		if raw.ReceivedAt.IsZero() {
			raw.ReceivedAt = envelope.Date
		}
	}

	var attachments []interfaces.AttachmentPart
	if len(body) > 0 {
		env, err := enmime.ReadEnvelope(bytes.NewReader(body))
		if err != nil {
			log.Warnf("[%s][%s] Failed to parse MIME of UID %d: %v", mailbox, ref.Folder, ref.UID, err)
		} else {
			fillFromEnvelope(&raw, env)
			attachments = collectAttachments(env)
		}
	}

	if raw.MessageID == "" {
		raw.MessageID = fmt.Sprintf("%s:%s:%d:%d", mailbox, ref.Folder, ref.UIDValidity, ref.UID)
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = utils.Now()
	}
	raw.ReceivedAt = raw.ReceivedAt.UTC()
	raw.HasAttachments = len(attachments) > 0

	return raw, attachments
}

func fillFromEnvelope(raw *interfaces.RawMessage, env *enmime.Envelope) {
	if raw.MessageID == "" {
		raw.MessageID = utils.NormalizeMessageID(env.GetHeader("Message-ID"))
	}
	if raw.Subject == "" {
		raw.Subject = env.GetHeader("Subject")
	}
	if raw.FromAddress == "" {
		if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
			raw.FromName = from[0].Name
			raw.FromAddress = cleanAddress(from[0].Address)
		}
	}
	if len(raw.ToAddresses) == 0 {
		if to, err := env.AddressList("To"); err == nil {
			for _, addr := range to {
				if clean := cleanAddress(addr.Address); clean != "" {
					raw.ToAddresses = append(raw.ToAddresses, clean)
				}
			}
		}
	}

	raw.BodyText = strings.TrimSpace(env.Text)
	if raw.BodyText == "" && env.HTML != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(env.HTML)); err == nil {
			raw.BodyText = strings.TrimSpace(extractor.HTMLDocumentText(doc))
		}
	}
}

// collectAttachments keeps real attachments and named inline documents. Inline
// images are signature decoration, not RFQ content.
func collectAttachments(env *enmime.Envelope) []interfaces.AttachmentPart {
	var parts []interfaces.AttachmentPart
	for _, a := range env.Attachments {
		parts = append(parts, interfaces.AttachmentPart{
			Filename:    a.FileName,
			ContentType: a.ContentType,
			Content:     a.Content,
		})
	}
	for _, inline := range env.Inlines {
		if inline.FileName == "" || strings.HasPrefix(strings.ToLower(inline.ContentType), "image/") {
			continue
		}
		parts = append(parts, interfaces.AttachmentPart{
			Filename:    inline.FileName,
			ContentType: inline.ContentType,
			Content:     inline.Content,
		})
	}
	return parts
}

func cleanAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	validation := mailvalidate.ValidateEmailSyntax(address)
	if validation.IsValid {
		return validation.CleanEmail
	}
	return strings.ToLower(address)
}

func convertAddresses(addresses []*imap.Address) []string {
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if addr.MailboxName == "" || addr.HostName == "" {
			continue
		}
		if clean := cleanAddress(addr.Address()); clean != "" {
			result = append(result, clean)
		}
	}
	return result
}
