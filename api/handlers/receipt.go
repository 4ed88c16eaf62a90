package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/service/receipt"
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

// ReceiptService is the part of the coordinator the HTTP layer calls.
type ReceiptService interface {
	Submit(ctx context.Context, up receipt.Upload, hints []string) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.DocumentDetails, error)
}

type ReceiptHandler struct {
	service ReceiptService
	logger  logger.Logger
}

// SubmitResponse 定义上传响应结构
type SubmitResponse struct {
	ID        string        `json:"id"`
	Status    models.Status `json:"status"`
	FileID    string        `json:"fileId"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewReceiptHandler(service ReceiptService, log logger.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		service: service,
		logger:  log.Named("http"),
	}
}

// Submit accepts a multipart upload: "file" plus optional repeated
// "categories". Each value is one hint, passed on as written.
func (h *ReceiptHandler) Submit(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, "Invalid file upload", apperr.E(apperr.KindInvalidUpload, "http.Submit", err))
		return
	}
	defer file.Close()

	doc, err := h.service.Submit(c.Request.Context(), receipt.Upload{
		Filename: header.Filename,
		Reader:   file,
	}, categories(c.PostFormArray("categories")))
	if err != nil {
		h.handleError(c, "Failed to submit receipt", err)
		return
	}

	c.JSON(http.StatusCreated, SubmitResponse{
		ID:        doc.ID,
		Status:    doc.Status,
		FileID:    doc.FileID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	})
}

// GetByID returns the document and its latest result; details is null
// until structuring finishes.
func (h *ReceiptHandler) GetByID(c *gin.Context) {
	id := c.Param("id")
	if strings.TrimSpace(id) == "" {
		h.handleError(c, "Receipt ID is required", apperr.Errorf(apperr.KindInvalidUpload, "http.GetByID", "empty id"))
		return
	}

	details, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, "Failed to get receipt", err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func categories(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// statusFor maps an error kind to the HTTP status the client sees.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidUpload:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUpstream:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// handleError 统一错误处理
func (h *ReceiptHandler) handleError(c *gin.Context, message string, err error) {
	status := statusFor(err)
	log := logger.FromContext(c.Request.Context(), h.logger).With(
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	)
	if status >= http.StatusInternalServerError {
		log.Error(message)
	} else {
		log.Warn(message)
	}

	c.JSON(status, ErrorResponse{
		Error:   string(apperr.KindOf(err)),
		Message: err.Error(),
	})
}
