package interfaces

import (
	"context"
	"fmt"
	"time"
)

type MailCredentials struct {
	Username string
	Password string
}

type MailEndpoint struct {
	Host string
	Port int
	// TLS dials implicit TLS, otherwise plaintext upgraded with STARTTLS when offered.
	TLS bool
	// SkipVerify is resolved from the configured allow-list, never set per request.
	SkipVerify bool
}

func (e MailEndpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Marker is the persisted high-water mark of one folder.
type Marker struct {
	UIDValidity uint32
	LastUID     uint32
}

type MessageRef struct {
	Folder      string
	UIDValidity uint32
	UID         uint32
}

type RawMessage struct {
	Ref            MessageRef
	MessageID      string
	FromAddress    string
	FromName       string
	ToAddresses    []string
	Subject        string
	ReceivedAt     time.Time
	BodyText       string
	HasAttachments bool
}

type AttachmentPart struct {
	Filename    string
	ContentType string
	Content     []byte
}

type MailTransport interface {
	Connect(ctx context.Context, credentials MailCredentials, endpoint MailEndpoint) (MailSession, error)
}

// MailSession is owned by a single goroutine, it is not safe for concurrent use.
type MailSession interface {
	ListFolders(ctx context.Context) ([]string, error)
	FetchNewMessages(ctx context.Context, folder string, since Marker) ([]RawMessage, Marker, error)
	FetchAttachments(ctx context.Context, ref MessageRef) ([]AttachmentPart, error)
	Close() error
}

type PollerStatus struct {
	Connected    bool                   `json:"connected"`
	Halted       bool                   `json:"halted"`
	LastError    string                 `json:"lastError,omitempty"`
	LastPoll     time.Time              `json:"lastPoll"`
	InFlight     int                    `json:"inFlight"`
	Folders      map[string]FolderStats `json:"folders"`
	PollInterval string                 `json:"pollInterval"`
}

type FolderStats struct {
	LastSeen   uint32    `json:"lastSeen"`
	Discovered int       `json:"discovered"`
	LastSync   time.Time `json:"lastSync"`
}
