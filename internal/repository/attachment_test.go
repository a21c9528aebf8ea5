package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/testutil"
)

func TestAttachmentRepository_MarkExtractedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	requests := NewIngestionRequestRepository(db)
	attachments := NewAttachmentRepository(db)

	request := newRequest("attach@acme.test", time.Now())
	_, err := requests.CreateIfAbsent(ctx, request)
	require.NoError(t, err)

	attachment := &models.Attachment{
		RequestID:      request.ID,
		Filename:       "helmets.csv",
		ContentType:    "text/csv",
		Size:           42,
		StorageService: enum.StorageLocal,
		StorageKey:     request.ID + "/helmets.csv",
	}
	require.NoError(t, attachments.Create(ctx, attachment))
	assert.NotEmpty(t, attachment.ID)

	require.NoError(t, attachments.MarkExtracted(ctx, attachment.ID, nil))
	failure := "corrupt"
	require.NoError(t, attachments.MarkExtracted(ctx, attachment.ID, &failure))

	stored, err := attachments.GetByID(ctx, attachment.ID)
	require.NoError(t, err)
	assert.True(t, stored.TextExtracted)
	assert.Nil(t, stored.ExtractionError)

	listed, err := attachments.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	withAttachments, err := requests.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, withAttachments.Attachments, 1)
}

func TestAttachmentRepository_CreateRequiresRequest(t *testing.T) {
	attachments := NewAttachmentRepository(testutil.NewTestDB(t))

	err := attachments.Create(context.Background(), &models.Attachment{Filename: "x.pdf"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMailboxSyncRepository_SaveSyncStateUpserts(t *testing.T) {
	ctx := context.Background()
	repo := NewMailboxSyncRepository(testutil.NewTestDB(t))

	state, err := repo.GetSyncState(ctx, "rfq@example.com", "INBOX")
	require.NoError(t, err)
	assert.Nil(t, state)

	require.NoError(t, repo.SaveSyncState(ctx, &models.MailboxSyncState{
		MailboxID: "rfq@example.com", FolderName: "INBOX", UIDValidity: 7, LastUID: 10,
	}))
	require.NoError(t, repo.SaveSyncState(ctx, &models.MailboxSyncState{
		MailboxID: "rfq@example.com", FolderName: "INBOX", UIDValidity: 7, LastUID: 15,
	}))

	state, err = repo.GetSyncState(ctx, "rfq@example.com", "INBOX")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, uint32(15), state.LastUID)
	assert.Equal(t, uint32(7), state.UIDValidity)

	marks, err := repo.GetMailboxSyncStates(ctx, "rfq@example.com")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint32{"INBOX": 15}, marks)

	require.NoError(t, repo.DeleteSyncState(ctx, "rfq@example.com", "INBOX"))
	state, err = repo.GetSyncState(ctx, "rfq@example.com", "INBOX")
	require.NoError(t, err)
	assert.Nil(t, state)
}
