package requests

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/internal/testutil"
	"github.com/customeros/rfqstack/internal/utils"
)

var allStatuses = []enum.RequestStatus{
	enum.RequestStatusPending,
	enum.RequestStatusProcessing,
	enum.RequestStatusCompleted,
	enum.RequestStatusFailed,
}

type fixture struct {
	db   *gorm.DB
	repo interfaces.IngestionRequestRepository
	sm   *StateMachine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	repo := repository.NewIngestionRequestRepository(db)
	return fixture{db: db, repo: repo, sm: NewStateMachine(repo, testutil.NewTestLogger())}
}

func (f fixture) newRequest(t *testing.T, messageID string) *models.IngestionRequest {
	t.Helper()
	request := &models.IngestionRequest{MessageID: messageID, FromAddress: "buyer@acme.test", Subject: "RFQ"}
	created, err := f.repo.CreateIfAbsent(context.Background(), request)
	require.NoError(t, err)
	require.True(t, created)
	return request
}

func (f fixture) status(t *testing.T, id string) *models.IngestionRequest {
	t.Helper()
	request, err := f.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return request
}

func TestCanTransition_Closure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("non-terminal states only reach processing, completed or failed", prop.ForAll(
		func(from, to enum.RequestStatus) bool {
			if from.IsTerminal() || !CanTransition(from, to) {
				return true
			}
			return to == enum.RequestStatusProcessing || to == enum.RequestStatusCompleted || to == enum.RequestStatusFailed
		},
		gen.OneConstOf(allStatuses[0], allStatuses[1], allStatuses[2], allStatuses[3]),
		gen.OneConstOf(allStatuses[0], allStatuses[1], allStatuses[2], allStatuses[3]),
	))

	properties.Property("terminal states only reach pending", prop.ForAll(
		func(from, to enum.RequestStatus) bool {
			if !from.IsTerminal() || !CanTransition(from, to) {
				return true
			}
			return to == enum.RequestStatusPending
		},
		gen.OneConstOf(allStatuses[0], allStatuses[1], allStatuses[2], allStatuses[3]),
		gen.OneConstOf(allStatuses[0], allStatuses[1], allStatuses[2], allStatuses[3]),
	))

	properties.TestingRun(t)

	assert.False(t, CanTransition(enum.RequestStatusPending, enum.RequestStatusCompleted))
	assert.False(t, CanTransition(enum.RequestStatusCompleted, enum.RequestStatusFailed))
	assert.False(t, CanTransition(enum.RequestStatusProcessing, enum.RequestStatusPending))
	assert.ElementsMatch(t, []enum.RequestStatus{enum.RequestStatusCompleted, enum.RequestStatusFailed}, Next(enum.RequestStatusProcessing))
}

func TestClaim_IsExclusive(t *testing.T) {
	f := newFixture(t)
	request := f.newRequest(t, "<claim@acme.test>")

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := f.sm.Claim(context.Background(), request.ID)
			assert.NoError(t, err)
			if claimed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	stored := f.status(t, request.ID)
	assert.Equal(t, enum.RequestStatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.ProcessingStartedAt)
}

func TestCompleteThenReprocess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	request := f.newRequest(t, "<complete@acme.test>")

	claimed, err := f.sm.Claim(ctx, request.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	reqs := &models.ExtractedRequirements{Items: []models.RequirementItem{{Description: "helmet", Quantity: 50}}}
	require.NoError(t, f.sm.Complete(ctx, request.ID, reqs, 0.95, "v1-default"))

	stored := f.status(t, request.ID)
	assert.Equal(t, enum.RequestStatusCompleted, stored.Status)
	require.NotNil(t, stored.Confidence)
	assert.Equal(t, 0.95, *stored.Confidence)
	assert.Equal(t, "v1-default", stored.ConfidencePolicy)
	decoded, err := stored.GetRequirements()
	require.NoError(t, err)
	assert.Equal(t, reqs.Items, decoded.Items)

	// completing twice is a conflict, the first outcome stands
	assert.ErrorIs(t, f.sm.Complete(ctx, request.ID, nil, 0, "v1-default"), ErrStatusConflict)

	require.NoError(t, f.sm.Reprocess(ctx, request.ID))
	stored = f.status(t, request.ID)
	assert.Equal(t, enum.RequestStatusPending, stored.Status)
	assert.Nil(t, stored.Confidence)
	assert.Nil(t, stored.CompletedAt)
	assert.Empty(t, stored.Requirements)
	assert.Contains(t, stored.ProcessingNotes, "reprocess requested (was completed)")

	claimed, err = f.sm.Claim(ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 2, f.status(t, request.ID).Attempts)
}

func TestFailRequiresProcessing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	request := f.newRequest(t, "<fail@acme.test>")

	assert.ErrorIs(t, f.sm.Fail(ctx, request.ID, "boom", nil), ErrStatusConflict)

	_, err := f.sm.Claim(ctx, request.ID)
	require.NoError(t, err)
	require.NoError(t, f.sm.Fail(ctx, request.ID, "extraction failed after 3 attempts: timeout", nil))

	stored := f.status(t, request.ID)
	assert.Equal(t, enum.RequestStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "timeout")

	require.NoError(t, f.sm.Reprocess(ctx, request.ID))
	stored = f.status(t, request.ID)
	assert.Equal(t, enum.RequestStatusPending, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
}

func TestReprocess_RejectsNonTerminal(t *testing.T) {
	f := newFixture(t)
	request := f.newRequest(t, "<pending@acme.test>")

	assert.ErrorIs(t, f.sm.Reprocess(context.Background(), request.ID), ErrInvalidTransition)
	assert.ErrorIs(t, f.sm.Reprocess(context.Background(), "rfq_missing"), repository.ErrRequestNotFound)
}

func TestSetStatus(t *testing.T) {
	ctx := utils.WithCustomContext(context.Background(), &utils.CustomContext{Operator: "ops@acme.test"})
	f := newFixture(t)
	request := f.newRequest(t, "<operator@acme.test>")

	assert.ErrorIs(t, f.sm.SetStatus(ctx, request.ID, enum.RequestStatusProcessing, ""), ErrInvalidTransition)
	assert.ErrorIs(t, f.sm.SetStatus(ctx, request.ID, enum.RequestStatusCompleted, ""), ErrInvalidTransition)
	assert.ErrorIs(t, f.sm.SetStatus(ctx, request.ID, "archived", ""), ErrInvalidTransition)

	_, err := f.sm.Claim(ctx, request.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.sm.SetStatus(ctx, request.ID, enum.RequestStatusCompleted, "done by hand"), ErrInvalidTransition)
	claimed := f.status(t, request.ID)
	assert.Equal(t, enum.RequestStatusProcessing, claimed.Status)
	assert.Nil(t, claimed.Confidence)
	assert.Nil(t, claimed.CompletedAt)

	require.NoError(t, f.sm.SetStatus(ctx, request.ID, enum.RequestStatusFailed, "worker host died"))

	stored := f.status(t, request.ID)
	assert.Equal(t, enum.RequestStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "worker host died", *stored.ErrorMessage)
	assert.Contains(t, stored.ProcessingNotes, "ops@acme.test set status processing -> failed: worker host died")

	require.NoError(t, f.sm.SetStatus(ctx, request.ID, enum.RequestStatusPending, ""))
	assert.Equal(t, enum.RequestStatusPending, f.status(t, request.ID).Status)
}

func TestFailStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stale := f.newRequest(t, "<stale@acme.test>")
	fresh := f.newRequest(t, "<fresh@acme.test>")

	for _, id := range []string{stale.ID, fresh.ID} {
		_, err := f.sm.Claim(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, f.db.Model(&models.IngestionRequest{}).
		Where("id = ?", stale.ID).
		Update("processing_started_at", time.Now().UTC().Add(-time.Hour)).Error)

	failed, err := f.sm.FailStale(ctx, 30*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	stored := f.status(t, stale.ID)
	assert.Equal(t, enum.RequestStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "abandoned: processing exceeded 30m0s", *stored.ErrorMessage)
	assert.Equal(t, enum.RequestStatusProcessing, f.status(t, fresh.ID).Status)
}
