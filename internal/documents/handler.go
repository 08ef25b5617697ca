package documents

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"deferred-estate/settlement-backend/internal/auth"
	"deferred-estate/settlement-backend/internal/contracts"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublicRoutes serves documents; anonymous callers only see public ones
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	docs := r.Group("/contracts/:id/documents")
	{
		docs.GET("/:doc_id", h.Download)
		docs.GET("/:doc_id/url", h.PresignedURL)
		docs.GET("/:doc_id/verify", h.Verify)
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/contracts/:id/documents", h.Upload)
}

// Upload expects a multipart form with "file" and an optional comma separated "access_list"
func (h *Handler) Upload(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	id, ok := parseContractID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	var accessList []contracts.AccessLevel
	for _, level := range strings.Split(c.PostForm("access_list"), ",") {
		if level = strings.TrimSpace(level); level != "" {
			accessList = append(accessList, contracts.AccessLevel(level))
		}
	}
	name := c.PostForm("name")
	if name == "" {
		name = file.Filename
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	doc, err := h.service.UploadDocument(c.Request.Context(), caller, id, UploadRequest{
		Name:       name,
		MimeType:   file.Header.Get("Content-Type"),
		Size:       file.Size,
		AccessList: accessList,
		Content:    f,
	})
	if err != nil {
		h.respondError(c, "Failed to upload document", err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *Handler) Download(c *gin.Context) {
	id, ok := parseContractID(c)
	if !ok {
		return
	}
	caller, _ := auth.CallerFromContext(c)

	download, err := h.service.DownloadDocument(c.Request.Context(), caller, id, c.Param("doc_id"))
	if err != nil {
		h.respondError(c, "Failed to download document", err)
		return
	}
	defer download.Body.Close()

	headers := map[string]string{
		"Content-Disposition": `attachment; filename="` + strings.ReplaceAll(download.Document.Name, `"`, "") + `"`,
	}
	c.DataFromReader(http.StatusOK, download.Document.Size, download.Document.MimeType, download.Body, headers)
}

func (h *Handler) PresignedURL(c *gin.Context) {
	id, ok := parseContractID(c)
	if !ok {
		return
	}
	caller, _ := auth.CallerFromContext(c)

	url, err := h.service.PresignedURL(c.Request.Context(), caller, id, c.Param("doc_id"))
	if err != nil {
		h.respondError(c, "Failed to presign document", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) Verify(c *gin.Context) {
	id, ok := parseContractID(c)
	if !ok {
		return
	}
	caller, _ := auth.CallerFromContext(c)

	result, err := h.service.VerifyDocument(c.Request.Context(), caller, id, c.Param("doc_id"))
	if err != nil {
		h.respondError(c, "Failed to verify document", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseContractID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract id"})
		return 0, false
	}
	return id, true
}
