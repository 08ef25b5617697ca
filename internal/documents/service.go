package documents

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/contracts"
	"deferred-estate/settlement-backend/pkg/storage"
)

// Contracts is the part of the contract service documents attach to
type Contracts interface {
	AttachDocument(ctx context.Context, caller string, id uint64, doc contracts.DocumentRef) (*contracts.DocumentRef, error)
	GetDocument(ctx context.Context, caller string, id uint64, documentID string) (*contracts.DocumentRef, error)
}

type Service interface {
	UploadDocument(ctx context.Context, caller string, contractID uint64, req UploadRequest) (*contracts.DocumentRef, error)
	DownloadDocument(ctx context.Context, caller string, contractID uint64, documentID string) (*Download, error)
	PresignedURL(ctx context.Context, caller string, contractID uint64, documentID string) (string, error)
	VerifyDocument(ctx context.Context, caller string, contractID uint64, documentID string) (*VerifyResult, error)
}

type Options struct {
	MaxSize    int64
	PresignTTL time.Duration
}

type documentService struct {
	contracts Contracts
	store     storage.ObjectStore
	opts      Options
	logger    *zap.Logger
}

func NewService(contracts Contracts, store storage.ObjectStore, opts Options, logger *zap.Logger) Service {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &documentService{
		contracts: contracts,
		store:     store,
		opts:      opts,
		logger:    logger,
	}
}

func (s *documentService) UploadDocument(ctx context.Context, caller string, contractID uint64, req UploadRequest) (*contracts.DocumentRef, error) {
	if req.Content == nil || req.Size == 0 {
		return nil, ErrEmptyDocument
	}
	if s.opts.MaxSize > 0 && req.Size > s.opts.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrDocumentTooLarge, req.Size, s.opts.MaxSize)
	}

	docID := uuid.New().String()
	key := objectKey(contractID, docID, req.Name)
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	hash := sha256.New()
	body := io.TeeReader(req.Content, hash)
	if s.opts.MaxSize > 0 {
		// guards against a declared size smaller than the body
		body = io.LimitReader(body, s.opts.MaxSize+1)
	}
	if err := s.store.Upload(ctx, key, mimeType, body); err != nil {
		return nil, err
	}

	doc, err := s.contracts.AttachDocument(ctx, caller, contractID, contracts.DocumentRef{
		ID:         docID,
		Name:       req.Name,
		MimeType:   mimeType,
		Size:       req.Size,
		AccessList: req.AccessList,
		StorageKey: key,
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned document", zap.String("key", key), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("Document uploaded",
		zap.Uint64("contract_id", contractID),
		zap.String("document_id", docID),
		zap.String("caller", caller),
		zap.Int64("size", req.Size))
	return doc, nil
}

func (s *documentService) DownloadDocument(ctx context.Context, caller string, contractID uint64, documentID string) (*Download, error) {
	doc, err := s.contracts.GetDocument(ctx, caller, contractID, documentID)
	if err != nil {
		return nil, err
	}
	body, err := s.open(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &Download{Document: doc, Body: body}, nil
}

func (s *documentService) PresignedURL(ctx context.Context, caller string, contractID uint64, documentID string) (string, error) {
	doc, err := s.contracts.GetDocument(ctx, caller, contractID, documentID)
	if err != nil {
		return "", err
	}
	if doc.StorageKey == "" {
		return "", contracts.ErrDocumentNotFound
	}
	return s.store.GetPresignedURL(ctx, doc.StorageKey, s.opts.PresignTTL)
}

// VerifyDocument recomputes the stored object's checksum
func (s *documentService) VerifyDocument(ctx context.Context, caller string, contractID uint64, documentID string) (*VerifyResult, error) {
	doc, err := s.contracts.GetDocument(ctx, caller, contractID, documentID)
	if err != nil {
		return nil, err
	}
	body, err := s.open(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, body); err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", documentID, err)
	}
	sum := hex.EncodeToString(hash.Sum(nil))
	return &VerifyResult{DocumentID: documentID, Checksum: sum, Valid: sum == doc.Checksum}, nil
}

func (s *documentService) open(ctx context.Context, doc *contracts.DocumentRef) (io.ReadCloser, error) {
	if doc.StorageKey == "" {
		return nil, contracts.ErrDocumentNotFound
	}
	body, err := s.store.Download(ctx, doc.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		s.logger.Error("Document metadata without stored object", zap.String("key", doc.StorageKey))
		return nil, fmt.Errorf("%w: %s", contracts.ErrDocumentNotFound, doc.ID)
	}
	return body, err
}

// StatusFor maps document errors to HTTP statuses, deferring to the contract mapping
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrDocumentTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return contracts.StatusFor(err)
	}
}
