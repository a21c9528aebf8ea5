package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/testutil"
)

func newRequest(messageID string, receivedAt time.Time) *models.IngestionRequest {
	return &models.IngestionRequest{
		MessageID:   messageID,
		MailboxID:   "rfq@example.com",
		Folder:      "INBOX",
		FromAddress: "buyer@acme.test",
		Subject:     "Request for Quotation",
		ReceivedAt:  receivedAt,
		ToAddresses: []string{"rfq@example.com"},
	}
}

func TestIngestionRequestRepository_CreateIfAbsent_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	first := newRequest("msg-1@acme.test", time.Now())
	created, err := repo.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, enum.RequestStatusPending, first.Status)

	created, err = repo.CreateIfAbsent(ctx, newRequest("msg-1@acme.test", time.Now()))
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := repo.GetByMessageID(ctx, "msg-1@acme.test")
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, []string{"rfq@example.com"}, []string(stored.ToAddresses))

	recent, err := repo.ListRecent(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestIngestionRequestRepository_CreateIfAbsent_RequiresMessageID(t *testing.T) {
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	_, err := repo.CreateIfAbsent(context.Background(), newRequest("", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func stagedAttachment(id, filename string) *models.Attachment {
	return &models.Attachment{
		ID:             id,
		Filename:       filename,
		ContentType:    "text/csv",
		Size:           10,
		StorageService: enum.StorageLocal,
		StorageKey:     "staged/" + filename,
	}
}

func TestIngestionRequestRepository_CreateWithAttachments(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDB(t)
	repo := NewIngestionRequestRepository(db)
	attachments := NewAttachmentRepository(db)

	request := newRequest("with-files@acme.test", time.Now())
	created, err := repo.CreateWithAttachments(ctx, request, []*models.Attachment{
		stagedAttachment("", "helmets.csv"),
		stagedAttachment("", "gloves.csv"),
	})
	require.NoError(t, err)
	assert.True(t, created)

	listed, err := attachments.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, attachment := range listed {
		assert.Equal(t, request.ID, attachment.RequestID)
	}

	created, err = repo.CreateWithAttachments(ctx, newRequest("with-files@acme.test", time.Now()), []*models.Attachment{
		stagedAttachment("", "again.csv"),
	})
	require.NoError(t, err)
	assert.False(t, created)

	listed, err = attachments.ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestIngestionRequestRepository_CreateWithAttachments_RollsBackOnAttachmentFailure(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	_, err := repo.CreateWithAttachments(ctx, newRequest("rollback@acme.test", time.Now()), []*models.Attachment{
		stagedAttachment("file_same", "first.csv"),
		stagedAttachment("file_same", "second.csv"),
	})
	require.Error(t, err)

	_, err = repo.GetByMessageID(ctx, "rollback@acme.test")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	created, err := repo.CreateIfAbsent(ctx, newRequest("rollback@acme.test", time.Now()))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestIngestionRequestRepository_GetByID_NotFound(t *testing.T) {
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	_, err := repo.GetByID(context.Background(), "rfq_missing")
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestIngestionRequestRepository_TransitionStatus_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	request := newRequest("msg-claim@acme.test", time.Now())
	_, err := repo.CreateIfAbsent(ctx, request)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.TransitionStatus(ctx, request.ID,
				[]enum.RequestStatus{enum.RequestStatusPending}, enum.RequestStatusProcessing,
				map[string]interface{}{"processing_started_at": time.Now().UTC()})
			assert.NoError(t, err)
			results <- claimed
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for claimed := range results {
		if claimed {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	stored, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.RequestStatusProcessing, stored.Status)
	assert.NotNil(t, stored.ProcessingStartedAt)
}

func TestIngestionRequestRepository_AppendNotes(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	request := newRequest("msg-notes@acme.test", time.Now())
	_, err := repo.CreateIfAbsent(ctx, request)
	require.NoError(t, err)

	require.NoError(t, repo.AppendNotes(ctx, request.ID, "first"))
	require.NoError(t, repo.AppendNotes(ctx, request.ID, "second"))
	require.NoError(t, repo.AppendNotes(ctx, request.ID, ""))

	stored, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", stored.ProcessingNotes)
}

func TestIngestionRequestRepository_ListRecent_FiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	older := newRequest("older@acme.test", base)
	newer := newRequest("newer@acme.test", base.Add(time.Hour))
	for _, r := range []*models.IngestionRequest{older, newer} {
		_, err := repo.CreateIfAbsent(ctx, r)
		require.NoError(t, err)
	}
	_, err := repo.TransitionStatus(ctx, older.ID, []enum.RequestStatus{enum.RequestStatusPending}, enum.RequestStatusProcessing, nil)
	require.NoError(t, err)

	all, err := repo.ListRecent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)

	processing, err := repo.ListRecent(ctx, 10, enum.RequestStatusProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, older.ID, processing[0].ID)
}

func TestIngestionRequestRepository_FindStaleProcessing(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	stale := newRequest("stale@acme.test", time.Now())
	fresh := newRequest("fresh@acme.test", time.Now())
	for _, r := range []*models.IngestionRequest{stale, fresh} {
		_, err := repo.CreateIfAbsent(ctx, r)
		require.NoError(t, err)
	}
	now := time.Now().UTC()
	_, err := repo.TransitionStatus(ctx, stale.ID, []enum.RequestStatus{enum.RequestStatusPending}, enum.RequestStatusProcessing,
		map[string]interface{}{"processing_started_at": now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, fresh.ID, []enum.RequestStatus{enum.RequestStatusPending}, enum.RequestStatusProcessing,
		map[string]interface{}{"processing_started_at": now})
	require.NoError(t, err)

	found, err := repo.FindStaleProcessing(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID, found[0].ID)
}

func TestIngestionRequestRepository_HandoffBookkeeping(t *testing.T) {
	ctx := context.Background()
	repo := NewIngestionRequestRepository(testutil.NewTestDB(t))

	request := newRequest("handoff@acme.test", time.Now())
	_, err := repo.CreateIfAbsent(ctx, request)
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, request.ID, []enum.RequestStatus{enum.RequestStatusPending}, enum.RequestStatusProcessing, nil)
	require.NoError(t, err)
	_, err = repo.TransitionStatus(ctx, request.ID, []enum.RequestStatus{enum.RequestStatusProcessing}, enum.RequestStatusCompleted,
		map[string]interface{}{"completed_at": time.Now().UTC()})
	require.NoError(t, err)

	pending, err := repo.FindPendingHandoff(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkHandedOff(ctx, request.ID, time.Now().UTC()))
	require.NoError(t, repo.SetQuotationRef(ctx, request.ID, "Q-2025-0042"))

	pending, err = repo.FindPendingHandoff(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := repo.GetByID(ctx, request.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.QuotationRef)
	assert.Equal(t, "Q-2025-0042", *stored.QuotationRef)
}
