package routes

import (
	"net/http"

	"github.com/tracemap/cartograph/internal/server/middleware"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graph"
	"github.com/tracemap/cartograph/pkg/logger"

	"github.com/labstack/echo/v4"
)

// GetDocumentStatusHandler reports pipeline progress for one document
func GetDocumentStatusHandler(c echo.Context) error {
	type statusParams struct {
		DocumentID string `param:"id" validate:"required"`
	}

	type statusResponse struct {
		Message     string                 `json:"message"`
		Document    *common.Document       `json:"document,omitempty"`
		Stages      []common.PipelineStage `json:"stages,omitempty"`
		PredictedMs int64                  `json:"predicted_ms,omitempty"`
	}

	params := new(statusParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, statusResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, statusResponse{
			Message: "Invalid request params",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	doc, err := app.Storage.GetDocument(ctx, params.DocumentID)
	if err != nil {
		if common.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, statusResponse{
				Message: "Document not found",
			})
		}
		logger.Error("Failed to load document", "document", params.DocumentID, "err", err)
		return c.JSON(http.StatusInternalServerError, statusResponse{
			Message: "Internal server error",
		})
	}

	stages, err := app.Storage.GetPipelineStages(ctx, doc.ID)
	if err != nil {
		logger.Error("Failed to load pipeline stages", "document", doc.ID, "err", err)
		return c.JSON(http.StatusInternalServerError, statusResponse{
			Message: "Internal server error",
		})
	}

	// A prediction is only useful while the document is still in flight.
	var predicted int64
	if doc.Status == common.StatusPending || doc.Status == common.StatusExtracting {
		if content, err := app.Storage.GetDocumentContent(ctx, doc.ID); err == nil {
			if p, err := app.Storage.PredictDuration(ctx, graph.ProcessStatType, len(content)); err == nil {
				predicted = p
			}
		}
	}

	return c.JSON(http.StatusOK, statusResponse{
		Message:     "OK",
		Document:    doc,
		Stages:      stages,
		PredictedMs: predicted,
	})
}
