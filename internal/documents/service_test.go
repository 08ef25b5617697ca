package documents

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/contracts"
	"deferred-estate/settlement-backend/pkg/storage"
)

// fakeContracts lets "alice" edit contract 1 and read everything on it
type fakeContracts struct {
	mu   sync.Mutex
	docs map[string]contracts.DocumentRef
}

func newFakeContracts() *fakeContracts {
	return &fakeContracts{docs: make(map[string]contracts.DocumentRef)}
}

func (f *fakeContracts) AttachDocument(ctx context.Context, caller string, id uint64, doc contracts.DocumentRef) (*contracts.DocumentRef, error) {
	if id != 1 {
		return nil, contracts.ErrContractNotFound
	}
	if caller != "alice" {
		return nil, contracts.ErrUnauthorized
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.UploadedBy = caller
	f.docs[doc.ID] = doc
	return &doc, nil
}

func (f *fakeContracts) GetDocument(ctx context.Context, caller string, id uint64, documentID string) (*contracts.DocumentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok || id != 1 {
		return nil, contracts.ErrDocumentNotFound
	}
	if len(doc.AccessList) > 0 && caller != "alice" {
		return nil, contracts.ErrUnauthorized
	}
	return &doc, nil
}

func newTestService(t *testing.T) (Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewService(newFakeContracts(), store, Options{MaxSize: 1024}, zap.NewNop()), store
}

func upload(t *testing.T, svc Service, caller, content string, access ...contracts.AccessLevel) (*contracts.DocumentRef, error) {
	t.Helper()
	return svc.UploadDocument(context.Background(), caller, 1, UploadRequest{
		Name:       "deed.pdf",
		MimeType:   "application/pdf",
		Size:       int64(len(content)),
		AccessList: access,
		Content:    strings.NewReader(content),
	})
}

func TestUploadAndDownload(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	doc, err := upload(t, svc, "alice", "notary deed", contracts.AccessSeller)
	require.NoError(t, err)
	assert.Equal(t, "alice", doc.UploadedBy)
	assert.Equal(t, "contracts/1/documents/"+doc.ID+"/deed.pdf", doc.StorageKey)
	assert.Len(t, doc.Checksum, 64)
	assert.Equal(t, 1, store.Len())

	download, err := svc.DownloadDocument(ctx, "alice", 1, doc.ID)
	require.NoError(t, err)
	defer download.Body.Close()
	data, err := io.ReadAll(download.Body)
	require.NoError(t, err)
	assert.Equal(t, "notary deed", string(data))

	_, err = svc.DownloadDocument(ctx, "mallory", 1, doc.ID)
	assert.ErrorIs(t, err, contracts.ErrUnauthorized)

	result, err := svc.VerifyDocument(ctx, "alice", 1, doc.ID)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	url, err := svc.PresignedURL(ctx, "alice", 1, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, url, doc.StorageKey)
}

func TestUploadRemovesObjectWhenAttachFails(t *testing.T) {
	svc, store := newTestService(t)

	_, err := upload(t, svc, "mallory", "forged deed")

	assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	assert.Zero(t, store.Len())
}

func TestUploadRejectsEmptyAndOversized(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := upload(t, svc, "alice", "")
	assert.ErrorIs(t, err, ErrEmptyDocument)

	_, err = upload(t, svc, "alice", strings.Repeat("x", 2048))
	assert.ErrorIs(t, err, ErrDocumentTooLarge)
	assert.Equal(t, 413, StatusFor(err))
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	doc, err := upload(t, svc, "alice", "original")
	require.NoError(t, err)
	require.NoError(t, store.Upload(ctx, doc.StorageKey, "application/pdf", strings.NewReader("tampered")))

	result, err := svc.VerifyDocument(ctx, "bob", 1, doc.ID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestDownloadMissingObject(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	doc, err := upload(t, svc, "alice", "deed")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, doc.StorageKey))

	_, err = svc.DownloadDocument(ctx, "alice", 1, doc.ID)
	assert.ErrorIs(t, err, contracts.ErrDocumentNotFound)
}
