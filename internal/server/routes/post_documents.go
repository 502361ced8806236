package routes

import (
	"encoding/json"
	"net/http"

	"github.com/tracemap/cartograph/internal/queue"
	"github.com/tracemap/cartograph/internal/server/middleware"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graph"
	"github.com/tracemap/cartograph/pkg/logger"

	"github.com/labstack/echo/v4"
)

// CreateDocumentHandler stores a new document and queues it for extraction
func CreateDocumentHandler(c echo.Context) error {
	type createDocumentBody struct {
		Name    string `json:"name" validate:"required"`
		Content string `json:"content" validate:"required"`
	}

	type createDocumentResponse struct {
		Message     string           `json:"message"`
		Document    *common.Document `json:"document,omitempty"`
		PredictedMs int64            `json:"predicted_ms,omitempty"`
	}

	data := new(createDocumentBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createDocumentResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	doc, err := app.Storage.CreateDocument(ctx, data.Name, data.Content)
	if err != nil {
		logger.Error("Failed to create document", "err", err)
		return c.JSON(http.StatusInternalServerError, createDocumentResponse{
			Message: "Internal server error",
		})
	}

	predicted, err := app.Storage.PredictDuration(ctx, graph.ProcessStatType, len(data.Content))
	if err != nil {
		predicted = 0
	}

	body, _ := json.Marshal(queue.ExtractDocumentMsg{DocumentID: doc.ID})
	if err := queue.PublishFIFO(app.Queue, queue.ExtractQueue, body); err != nil {
		logger.Error("Failed to publish to extract_queue", "document", doc.ID, "err", err)
	}

	return c.JSON(http.StatusOK, createDocumentResponse{
		Message:     "Document created successfully",
		Document:    doc,
		PredictedMs: predicted,
	})
}

// ProcessDocumentHandler queues an existing document for (re)extraction
func ProcessDocumentHandler(c echo.Context) error {
	type processDocumentParams struct {
		DocumentID string `param:"id" validate:"required"`
	}

	type processDocumentResponse struct {
		Message     string           `json:"message"`
		Document    *common.Document `json:"document,omitempty"`
		PredictedMs int64            `json:"predicted_ms,omitempty"`
	}

	params := new(processDocumentParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, processDocumentResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, processDocumentResponse{
			Message: "Invalid request params",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	doc, err := app.Storage.GetDocument(ctx, params.DocumentID)
	if err != nil {
		if common.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, processDocumentResponse{
				Message: "Document not found",
			})
		}
		logger.Error("Failed to load document", "document", params.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, processDocumentResponse{
			Message: "Internal server error",
		})
	}

	var predicted int64
	if content, err := app.Storage.GetDocumentContent(ctx, doc.ID); err == nil {
		if p, err := app.Storage.PredictDuration(ctx, graph.ProcessStatType, len(content)); err == nil {
			predicted = p
		}
	}

	body, _ := json.Marshal(queue.ExtractDocumentMsg{DocumentID: doc.ID})
	if err := queue.PublishFIFO(app.Queue, queue.ExtractQueue, body); err != nil {
		logger.Error("Failed to publish to extract_queue", "document", doc.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, processDocumentResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, processDocumentResponse{
		Message:     "Document queued for processing",
		Document:    doc,
		PredictedMs: predicted,
	})
}
