package handler

import (
	"io"
	"mime"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docpipe/internal/pkg/errcode"
	appErr "github.com/xxxsen/docpipe/internal/pkg/errors"
	"github.com/xxxsen/docpipe/internal/pkg/response"
	"github.com/xxxsen/docpipe/internal/repo"
	"github.com/xxxsen/docpipe/internal/service"
)

const maxUploadBytes = 64 << 20

type DocumentHandler struct {
	intake *service.IntakeService
	docs   *repo.DocumentRepo
	chunks *repo.ChunkRepo
}

func NewDocumentHandler(intake *service.IntakeService, docs *repo.DocumentRepo, chunks *repo.ChunkRepo) *DocumentHandler {
	return &DocumentHandler{intake: intake, docs: docs, chunks: chunks}
}

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

type documentResponse struct {
	DocumentID   string `json:"document_id"`
	Status       string `json:"status"`
	MimeType     string `json:"mime_type"`
	ByteSize     int64  `json:"byte_size"`
	ErrorMessage string `json:"error_message,omitempty"`
	Ctime        int64  `json:"ctime"`
	Mtime        int64  `json:"mtime"`
}

type chunkResponse struct {
	ChunkID     string `json:"chunk_id"`
	Ordinal     int    `json:"ordinal"`
	TokenCount  int    `json:"token_count"`
	HasVector   bool   `json:"has_vector"`
	ContentHash string `json:"content_hash"`
}

// Upload is the synchronous intake boundary: it answers with the document
// id and current status; progress past that point is asynchronous.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID := c.PostForm("user_id")
	if userID == "" {
		response.Error(c, errcode.ErrInvalid, "user_id is required")
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if file.Size > maxUploadBytes {
		response.Error(c, errcode.ErrInvalidFile, "file too large")
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	raw, err := io.ReadAll(io.LimitReader(opened, maxUploadBytes+1))
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	if len(raw) > maxUploadBytes {
		response.Error(c, errcode.ErrInvalidFile, "file too large")
		return
	}
	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(file.Filename))
	}

	doc, err := h.intake.Intake(c.Request.Context(), userID, raw, mimeType, file.Filename)
	if err != nil {
		if appErr.IsConflict(err) || err == appErr.ErrInvalid {
			response.Error(c, errcode.ErrInvalid, "invalid upload")
			return
		}
		response.Error(c, errcode.ErrUploadFailed, "failed to accept upload")
		return
	}
	response.Success(c, uploadResponse{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
	})
}

// Get exposes document status and error message only; internal paths and
// service identifiers stay inside.
func (h *DocumentHandler) Get(c *gin.Context) {
	userID := c.Query("user_id")
	docID := c.Param("id")
	doc, err := h.docs.Get(c.Request.Context(), docID)
	if err != nil || (userID != "" && doc.UserID != userID) {
		response.Error(c, errcode.ErrNotFound, "document not found")
		return
	}
	response.Success(c, documentResponse{
		DocumentID:   doc.ID,
		Status:       string(doc.Status),
		MimeType:     doc.MimeType,
		ByteSize:     doc.ByteSize,
		ErrorMessage: doc.ErrorMessage,
		Ctime:        doc.Ctime,
		Mtime:        doc.Mtime,
	})
}

func (h *DocumentHandler) ListChunks(c *gin.Context) {
	docID := c.Param("id")
	doc, err := h.docs.Get(c.Request.Context(), docID)
	if err != nil {
		response.Error(c, errcode.ErrNotFound, "document not found")
		return
	}
	chunks, err := h.chunks.ListByDocument(c.Request.Context(), doc.ID)
	if err != nil {
		response.Error(c, errcode.ErrInternal, "failed to list chunks")
		return
	}
	out := make([]chunkResponse, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, chunkResponse{
			ChunkID:     chunk.ID,
			Ordinal:     chunk.Ordinal,
			TokenCount:  chunk.TokenCount,
			HasVector:   chunk.Embedding != nil,
			ContentHash: chunk.ContentHash,
		})
	}
	response.Success(c, out)
}
