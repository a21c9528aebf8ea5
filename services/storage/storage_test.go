package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/enum"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/models"
	"github.com/customeros/rfqstack/internal/repository"
	"github.com/customeros/rfqstack/internal/testutil"
	"github.com/customeros/rfqstack/internal/utils"
)

type mockS3Client struct {
	mock.Mock
}

func (m *mockS3Client) Upload(ctx context.Context, input s3manager.UploadInput) error {
	return m.Called(ctx, input).Error(0)
}

func (m *mockS3Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	args := m.Called(ctx, bucket, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockS3Client) Delete(ctx context.Context, bucket, key string) error {
	return m.Called(ctx, bucket, key).Error(0)
}

func TestObjectStorageService_UsesConfiguredBucket(t *testing.T) {
	client := new(mockS3Client)
	svc := NewStorageService(client, StorageConfig{BucketName: "rfq-bucket", Backend: enum.StorageR2})

	client.On("Upload", mock.Anything, mock.MatchedBy(func(in s3manager.UploadInput) bool {
		return *in.Bucket == "rfq-bucket" && *in.Key == "rfq_1/a.pdf" && *in.ContentType == utils.ContentTypePDF
	})).Return(nil)
	client.On("Download", mock.Anything, "rfq-bucket", "rfq_1/a.pdf").Return([]byte("%PDF"), nil)

	require.NoError(t, svc.Upload(context.Background(), "rfq_1/a.pdf", []byte("%PDF"), utils.ContentTypePDF))
	data, err := svc.Download(context.Background(), "rfq_1/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
	assert.Equal(t, enum.StorageR2, svc.Backend())
	client.AssertExpectations(t)
}

func TestLocalStorageService_RoundTripAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, err := NewLocalStorageService(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, svc.Upload(ctx, "rfq_1/quote.txt", []byte("20 helmets"), "text/plain"))
	data, err := svc.Download(ctx, "rfq_1/quote.txt")
	require.NoError(t, err)
	assert.Equal(t, "20 helmets", string(data))

	require.NoError(t, svc.Delete(ctx, "rfq_1/quote.txt"))
	require.NoError(t, svc.Delete(ctx, "rfq_1/quote.txt"))
	_, err = svc.Download(ctx, "rfq_1/quote.txt")
	assert.Error(t, err)
}

func TestLocalStorageService_RejectsEscapingKeys(t *testing.T) {
	svc, err := NewLocalStorageService(t.TempDir())
	require.NoError(t, err)

	err = svc.Upload(context.Background(), "../../etc/passwd", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		contentType string
		expected    string
	}{
		{"keeps simple names", "quote.pdf", "", "quote.pdf"},
		{"strips directories", "../../etc/passwd", "", "passwd"},
		{"strips windows directories", `C:\Users\buyer\RFQ 2024.xlsx`, "", "RFQ_2024.xlsx"},
		{"collapses unsafe runs", "spec  sheet (v2)!.docx", "", "spec_sheet_v2_.docx"},
		{"falls back on empty", "", "application/pdf", "attachment.pdf"},
		{"falls back on dots", "..", "text/csv", "attachment.csv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input, tt.contentType))
		})
	}

	long := strings.Repeat("a", 300) + ".pdf"
	got := SanitizeFilename(long, "")
	assert.Len(t, got, maxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

type storeFixture struct {
	store   interfaces.AttachmentStore
	repo    interfaces.AttachmentRepository
	baseDir string
	request *models.IngestionRequest
}

func newStoreFixture(t *testing.T, maxBytes int64) storeFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	repos := repository.InitRepositories(db)

	request := &models.IngestionRequest{MessageID: "<store@acme.test>", FromAddress: "buyer@acme.test"}
	_, err := repos.IngestionRequestRepository.CreateIfAbsent(context.Background(), request)
	require.NoError(t, err)

	baseDir := t.TempDir()
	local, err := NewLocalStorageService(baseDir)
	require.NoError(t, err)

	store := NewAttachmentStore(local, repos.AttachmentRepository, AttachmentStoreConfig{
		MaxBytes:     maxBytes,
		AllowedTypes: []string{utils.ContentTypePDF, utils.ContentTypeCSV, utils.ContentTypeText},
	})
	return storeFixture{store: store, repo: repos.AttachmentRepository, baseDir: baseDir, request: request}
}

func TestAttachmentStore_SaveAndOpen(t *testing.T) {
	ctx := context.Background()
	f := newStoreFixture(t, 1024)

	content := []byte("item,quantity\nhelmet,20\ngloves,40\n")
	attachment, err := f.store.Save(ctx, f.request.ID, interfaces.AttachmentPart{
		Filename:    "../RFQ list.csv",
		ContentType: "text/csv; charset=utf-8",
		Content:     content,
	})
	require.NoError(t, err)

	assert.Equal(t, "RFQ_list.csv", attachment.Filename)
	assert.Equal(t, utils.ContentTypeCSV, attachment.ContentType)
	assert.Equal(t, utils.ContentTypeCSV, attachment.DetectedType)
	assert.Equal(t, int64(len(content)), attachment.Size)
	assert.Equal(t, enum.StorageLocal, attachment.StorageService)
	assert.Len(t, attachment.ContentHash, 64)
	assert.True(t, strings.HasPrefix(attachment.StorageKey, f.request.ID+"/"))
	assert.True(t, strings.HasSuffix(attachment.StorageKey, "-RFQ_list.csv"))

	_, err = os.Stat(filepath.Join(f.baseDir, filepath.FromSlash(attachment.StorageKey)))
	require.NoError(t, err)

	data, err := f.store.Open(ctx, attachment)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	stored, err := f.repo.ListByRequest(ctx, f.request.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAttachmentStore_DistinctKeysForSameName(t *testing.T) {
	ctx := context.Background()
	f := newStoreFixture(t, 1024)
	part := interfaces.AttachmentPart{Filename: "notes.txt", ContentType: "text/plain", Content: []byte("need 5 pumps")}

	first, err := f.store.Save(ctx, f.request.ID, part)
	require.NoError(t, err)
	second, err := f.store.Save(ctx, f.request.ID, part)
	require.NoError(t, err)

	assert.NotEqual(t, first.StorageKey, second.StorageKey)
	assert.Equal(t, first.ContentHash, second.ContentHash)
}

func TestAttachmentStore_RejectsOversized(t *testing.T) {
	f := newStoreFixture(t, 16)

	_, err := f.store.Save(context.Background(), f.request.ID, interfaces.AttachmentPart{
		Filename:    "big.txt",
		ContentType: "text/plain",
		Content:     []byte(strings.Repeat("x", 17)),
	})
	assert.ErrorIs(t, err, ierrors.ErrAttachmentTooBig)

	stored, err := f.repo.ListByRequest(context.Background(), f.request.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestAttachmentStore_RejectsDisallowedType(t *testing.T) {
	f := newStoreFixture(t, 1024)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

	_, err := f.store.Save(context.Background(), f.request.ID, interfaces.AttachmentPart{
		Filename:    "logo.png",
		ContentType: "image/png",
		Content:     png,
	})
	assert.ErrorIs(t, err, ierrors.ErrAttachmentType)

	_, err = f.store.Save(context.Background(), f.request.ID, interfaces.AttachmentPart{
		Filename:    "logo",
		ContentType: "application/octet-stream",
		Content:     png,
	})
	assert.ErrorIs(t, err, ierrors.ErrAttachmentType)
}

func TestAttachmentStore_ResolvesGenericDeclaredType(t *testing.T) {
	f := newStoreFixture(t, 1024)

	attachment, err := f.store.Save(context.Background(), f.request.ID, interfaces.AttachmentPart{
		Filename:    "quote.pdf",
		ContentType: "application/octet-stream",
		Content:     []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, utils.ContentTypeBin, attachment.ContentType)
	assert.Equal(t, utils.ContentTypePDF, attachment.DetectedType)
}

type failingUpload struct {
	interfaces.StorageService
}

func (failingUpload) Upload(context.Context, string, []byte, string) error {
	return errors.New("connection reset by peer")
}

func TestAttachmentStore_StageThenDiscard(t *testing.T) {
	ctx := context.Background()
	f := newStoreFixture(t, 1024)

	attachment, err := f.store.Stage(ctx, f.request.ID, interfaces.AttachmentPart{
		Filename:    "pumps.txt",
		ContentType: "text/plain",
		Content:     []byte("need 5 pumps"),
	})
	require.NoError(t, err)
	assert.Empty(t, attachment.ID)
	path := filepath.Join(f.baseDir, filepath.FromSlash(attachment.StorageKey))
	_, err = os.Stat(path)
	require.NoError(t, err)

	stored, err := f.repo.ListByRequest(ctx, f.request.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	f.store.Discard(ctx, []*models.Attachment{attachment, nil})
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = f.store.Open(ctx, attachment)
	require.Error(t, err)
	assert.False(t, ierrors.IsRetryable(err))
}

func TestAttachmentStore_UploadFailureIsRetryable(t *testing.T) {
	db := testutil.NewTestDB(t)
	repos := repository.InitRepositories(db)
	local, err := NewLocalStorageService(t.TempDir())
	require.NoError(t, err)
	store := NewAttachmentStore(failingUpload{local}, repos.AttachmentRepository, AttachmentStoreConfig{
		MaxBytes:     1024,
		AllowedTypes: []string{utils.ContentTypeText},
	})

	_, err = store.Stage(context.Background(), "rfq_1", interfaces.AttachmentPart{
		Filename:    "pumps.txt",
		ContentType: "text/plain",
		Content:     []byte("need 5 pumps"),
	})
	require.Error(t, err)
	assert.True(t, ierrors.IsRetryable(err))
	assert.NotErrorIs(t, err, ierrors.ErrAttachmentTooBig)
	assert.NotErrorIs(t, err, ierrors.ErrAttachmentType)
}
