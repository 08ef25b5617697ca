package documents

import (
	"errors"
	"io"

	"deferred-estate/settlement-backend/internal/contracts"
)

var (
	ErrEmptyDocument    = errors.New("document is empty")
	ErrDocumentTooLarge = errors.New("document exceeds the size limit")
)

type UploadRequest struct {
	Name       string
	MimeType   string
	Size       int64
	AccessList []contracts.AccessLevel
	Content    io.Reader
}

// Download is an open document body; the caller closes Body
type Download struct {
	Document *contracts.DocumentRef
	Body     io.ReadCloser
}

type VerifyResult struct {
	DocumentID string `json:"document_id"`
	Checksum   string `json:"checksum"`
	Valid      bool   `json:"valid"`
}
