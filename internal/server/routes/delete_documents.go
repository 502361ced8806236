package routes

import (
	"encoding/json"
	"net/http"

	"github.com/tracemap/cartograph/internal/queue"
	"github.com/tracemap/cartograph/internal/server/middleware"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/logger"

	"github.com/labstack/echo/v4"
)

// DeleteDocumentHandler queues a document for cascade deletion
func DeleteDocumentHandler(c echo.Context) error {
	type deleteDocumentParams struct {
		DocumentID string `param:"id" validate:"required"`
	}

	type deleteDocumentResponse struct {
		Message    string `json:"message"`
		DocumentID string `json:"document_id,omitempty"`
	}

	params := new(deleteDocumentParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteDocumentResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, deleteDocumentResponse{
			Message: "Invalid request params",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	doc, err := app.Storage.GetDocument(ctx, params.DocumentID)
	if err != nil {
		if common.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, deleteDocumentResponse{
				Message: "Document not found",
			})
		}
		logger.Error("Failed to load document", "document", params.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteDocumentResponse{
			Message: "Internal server error",
		})
	}

	body, _ := json.Marshal(queue.DeleteDocumentMsg{DocumentID: doc.ID})
	if err := queue.PublishFIFO(app.Queue, queue.DeleteQueue, body); err != nil {
		logger.Error("Failed to publish to delete_queue", "document", doc.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, deleteDocumentResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, deleteDocumentResponse{
		Message:    "Document queued for deletion",
		DocumentID: doc.ID,
	})
}
