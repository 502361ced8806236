package routes

import (
	"net/http"
	"time"

	"github.com/tracemap/cartograph/internal/metrics"
	"github.com/tracemap/cartograph/internal/server/middleware"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/logger"
	"github.com/tracemap/cartograph/pkg/query"
	"github.com/tracemap/cartograph/pkg/store"

	"github.com/labstack/echo/v4"
)

// QueryHandler answers a context query over the knowledge graph
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Query string `json:"query" validate:"required"`
		Scope string `json:"scope"`
		Mode  string `json:"mode"`
		Limit int    `json:"limit"`
	}

	type queryResponse struct {
		Message string                `json:"message"`
		Data    *query.SearchResponse `json:"data,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	start := time.Now()
	res, err := app.Search.Query(ctx, data.Query, store.Scope{Document: data.Scope}, query.Mode(data.Mode), data.Limit)
	if err != nil {
		if common.IsValidation(err) {
			return c.JSON(http.StatusBadRequest, queryResponse{
				Message: "Invalid request body",
			})
		}
		logger.Error("[Search] Query failed", "err", err)
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message: "Internal server error",
		})
	}
	metrics.ObserveQueryDuration(string(res.Mode), time.Since(start).Seconds())

	return c.JSON(http.StatusOK, queryResponse{
		Message: "OK",
		Data:    res,
	})
}
