package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/utils"
)

// IngestionRequest is one inbound RFQ message and its pipeline outcome.
type IngestionRequest struct {
	ID        string `gorm:"column:id;type:varchar(50);primaryKey" json:"id"`
	MessageID string `gorm:"column:message_id;type:varchar(500);uniqueIndex;not null" json:"messageId"`
	MailboxID string `gorm:"column:mailbox_id;type:varchar(255);index" json:"mailboxId"`
	Folder    string `gorm:"column:folder;type:varchar(255)" json:"folder"`
	ImapUID   uint32 `gorm:"column:imap_uid" json:"imapUid"`

	FromAddress string         `gorm:"column:from_address;type:varchar(255);index" json:"fromAddress"`
	FromName    string         `gorm:"column:from_name;type:varchar(255)" json:"fromName"`
	ToAddresses pq.StringArray `gorm:"column:to_addresses;type:text" json:"toAddresses"`
	Subject     string         `gorm:"column:subject;type:varchar(1000)" json:"subject"`
	ReceivedAt  time.Time      `gorm:"column:received_at;type:timestamp;index" json:"receivedAt"`
	BodyText    string         `gorm:"column:body_text;type:text" json:"bodyText"`

	Status          enum.RequestStatus `gorm:"column:status;type:varchar(20);index;not null" json:"status"`
	MatchedKeyword  string             `gorm:"column:matched_keyword;type:varchar(100)" json:"matchedKeyword"`
	ProcessingNotes string             `gorm:"column:processing_notes;type:text" json:"processingNotes"`
	ErrorMessage    *string            `gorm:"column:error_message;type:text" json:"errorMessage,omitempty"`

	Requirements     datatypes.JSON `gorm:"column:requirements" json:"-"`
	Confidence       *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
	ConfidencePolicy string         `gorm:"column:confidence_policy;type:varchar(50)" json:"confidencePolicy,omitempty"`
	QuotationRef     *string        `gorm:"column:quotation_ref;type:varchar(255)" json:"quotationRef,omitempty"`

	AttachmentCount     int        `gorm:"column:attachment_count;default:0" json:"attachmentCount"`
	Attempts            int        `gorm:"column:attempts;default:0" json:"attempts"`
	ProcessingStartedAt *time.Time `gorm:"column:processing_started_at;type:timestamp;index" json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time `gorm:"column:completed_at;type:timestamp" json:"completedAt,omitempty"`
	HandedOffAt         *time.Time `gorm:"column:handed_off_at;type:timestamp" json:"handedOffAt,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp" json:"updatedAt"`

	Attachments []Attachment `gorm:"foreignKey:RequestID" json:"attachments,omitempty"`
}

func (IngestionRequest) TableName() string {
	return "ingestion_requests"
}

// NewRequestID lets callers key attachment objects before the request row exists.
func NewRequestID() string {
	return utils.GenerateNanoIDWithPrefix("rfq", 16)
}

func (r *IngestionRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewRequestID()
	}
	if r.Status == "" {
		r.Status = enum.RequestStatusPending
	}
	r.CreatedAt = utils.Now()
	r.UpdatedAt = r.CreatedAt
	return nil
}

// GetRequirements decodes the stored payload. A request without a payload returns nil.
func (r *IngestionRequest) GetRequirements() (*ExtractedRequirements, error) {
	if len(r.Requirements) == 0 {
		return nil, nil
	}
	var reqs ExtractedRequirements
	if err := json.Unmarshal(r.Requirements, &reqs); err != nil {
		return nil, err
	}
	return &reqs, nil
}

func EncodeRequirements(reqs *ExtractedRequirements) (datatypes.JSON, error) {
	if reqs == nil {
		return nil, nil
	}
	data, err := json.Marshal(reqs)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}
