package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pingone-bulk-console/internal/config"
	"github.com/pingone-bulk-console/internal/mapper"
	"github.com/pingone-bulk-console/internal/models"
	"github.com/pingone-bulk-console/internal/results"
	"github.com/pingone-bulk-console/internal/service"
)

// OperationHandler handles bulk operation endpoints
type OperationHandler struct {
	services *service.Services
	cfg      *config.Config
	log      zerolog.Logger
}

// NewOperationHandler creates a new OperationHandler
func NewOperationHandler(services *service.Services, cfg *config.Config, log zerolog.Logger) *OperationHandler {
	return &OperationHandler{
		services: services,
		cfg:      cfg,
		log:      log.With().Str("handler", "operations").Logger(),
	}
}

// Submit handles POST /v1/operations/{import|modify|delete}.
// Accepts a JSON body of already-parsed records, or a multipart upload of
// the raw CSV (field "file") with credentials as form fields.
func (h *OperationHandler) Submit(kind models.OperationKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, rowErrors, err := h.readRequest(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		op, err := h.services.Operations.Start(kind, req)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrOperationInProgress):
				c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("%s operation already in progress", kind)})
			case errors.Is(err, service.ErrBadRequest):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				h.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to start operation")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start operation"})
			}
			return
		}

		h.log.Info().
			Str("operation_id", op.ID).
			Str("kind", string(kind)).
			Int("row_errors", len(rowErrors)).
			Msg("Operation accepted")

		response := gin.H{
			"operation_id": op.ID,
			"kind":         op.Kind,
			"status":       op.Status,
		}
		if len(rowErrors) > 0 {
			response["row_errors"] = rowErrors
		}
		c.JSON(http.StatusAccepted, response)
	}
}

// readRequest extracts the operation request from either body shape
func (h *OperationHandler) readRequest(c *gin.Context) (*models.OperationRequest, []mapper.RowError, error) {
	if c.ContentType() == "multipart/form-data" {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, nil, fmt.Errorf("file upload is required")
		}
		defer file.Close()

		records, rowErrors, err := mapper.ReadCSV(file)
		if err != nil {
			return nil, nil, err
		}
		req := &models.OperationRequest{
			Users:         records,
			EnvironmentID: c.PostForm("environmentId"),
			ClientID:      c.PostForm("clientId"),
			ClientSecret:  c.PostForm("clientSecret"),
		}
		return req, rowErrors, nil
	}

	var req models.OperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, nil, fmt.Errorf("invalid request body: %v", err)
	}
	return &req, nil, nil
}

// GetOperation handles GET /v1/operations/:operation_id.
// With ?page= the result list is paginated; otherwise the full snapshot is
// returned.
func (h *OperationHandler) GetOperation(c *gin.Context) {
	op, ok := h.services.Operations.Get(c.Param("operation_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}

	if pageParam := c.Query("page"); pageParam != "" {
		pageIndex, _ := strconv.Atoi(pageParam)
		pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(results.DefaultPageSize)))
		page := results.Paginate(op.Results, pageIndex, pageSize)
		c.JSON(http.StatusOK, gin.H{
			"operation_id": op.ID,
			"kind":         op.Kind,
			"status":       op.Status,
			"summary":      op.Summary,
			"error":        op.Error,
			"page":         page,
		})
		return
	}

	c.JSON(http.StatusOK, op)
}

// CancelOperation handles POST /v1/operations/:operation_id/cancel
func (h *OperationHandler) CancelOperation(c *gin.Context) {
	id := c.Param("operation_id")
	if _, ok := h.services.Operations.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	if !h.services.Operations.Cancel(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "operation already finished"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operation_id": id, "cancelled": true})
}

// ExportResults handles GET /v1/operations/:operation_id/export
func (h *OperationHandler) ExportResults(c *gin.Context) {
	op, ok := h.services.Operations.Get(c.Param("operation_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
		return
	}
	if !op.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "operation still running"})
		return
	}

	filename := results.ExportFilename(op.Kind, time.Now())
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if err := results.WriteCSV(c.Writer, op.Results); err != nil {
		h.log.Error().Err(err).Str("operation_id", op.ID).Msg("Failed to write export")
	}
}
