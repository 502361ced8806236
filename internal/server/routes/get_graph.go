package routes

import (
	"net/http"

	"github.com/tracemap/cartograph/internal/server/middleware"
	"github.com/tracemap/cartograph/pkg/common"
	"github.com/tracemap/cartograph/pkg/graphalgo"
	"github.com/tracemap/cartograph/pkg/logger"
	"github.com/tracemap/cartograph/pkg/store"

	"github.com/labstack/echo/v4"
)

// GetEntityNeighborsHandler lists the bounded-hop neighborhood of an entity
func GetEntityNeighborsHandler(c echo.Context) error {
	type neighborsParams struct {
		EntityID string `param:"id" validate:"required"`
		MaxHops  int    `query:"max_hops"`
	}

	type neighborsResponse struct {
		Message   string               `json:"message"`
		EntityID  string               `json:"entity_id,omitempty"`
		Neighbors []graphalgo.Neighbor `json:"neighbors"`
	}

	params := new(neighborsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborsResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborsResponse{
			Message: "Invalid request params",
		})
	}
	if params.MaxHops == 0 {
		params.MaxHops = 1
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	neighbors, err := app.Search.Neighbors(ctx, params.EntityID, params.MaxHops)
	if err != nil {
		if common.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, neighborsResponse{
				Message: "Entity not found",
			})
		}
		if common.IsValidation(err) {
			return c.JSON(http.StatusBadRequest, neighborsResponse{
				Message: "Invalid request params",
			})
		}
		logger.Error("[Search] Neighbors failed", "entity", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, neighborsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, neighborsResponse{
		Message:   "OK",
		EntityID:  params.EntityID,
		Neighbors: neighbors,
	})
}

// GetPathHandler reports the cheapest path between two entities
func GetPathHandler(c echo.Context) error {
	type pathParams struct {
		From string `query:"from" validate:"required"`
		To   string `query:"to" validate:"required"`
	}

	type pathResponse struct {
		Message string               `json:"message"`
		Path    []graphalgo.PathStep `json:"path"`
	}

	params := new(pathParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, pathResponse{
			Message: "Invalid request params",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, pathResponse{
			Message: "Invalid request params",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	path, err := app.Search.Path(ctx, params.From, params.To)
	if err != nil {
		if common.IsValidation(err) {
			return c.JSON(http.StatusBadRequest, pathResponse{
				Message: "Invalid request params",
			})
		}
		logger.Error("[Search] Path failed", "from", params.From, "to", params.To, "err", err)
		return c.JSON(http.StatusInternalServerError, pathResponse{
			Message: "Internal server error",
		})
	}

	message := "OK"
	if len(path) == 0 {
		message = "No path found"
	}

	return c.JSON(http.StatusOK, pathResponse{
		Message: message,
		Path:    path,
	})
}

// GetGraphStatsHandler reports aggregate graph figures
func GetGraphStatsHandler(c echo.Context) error {
	type statsParams struct {
		Scope string `query:"scope"`
	}

	type statsResponse struct {
		Message string             `json:"message"`
		Stats   *common.GraphStats `json:"stats,omitempty"`
	}

	params := new(statsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, statsResponse{
			Message: "Invalid request params",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	stats, err := app.Storage.GraphStats(ctx, store.Scope{Document: params.Scope})
	if err != nil {
		if common.IsNotFound(err) {
			return c.JSON(http.StatusNotFound, statsResponse{
				Message: "Document not found",
			})
		}
		logger.Error("[Search] Graph stats failed", "err", err)
		return c.JSON(http.StatusInternalServerError, statsResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, statsResponse{
		Message: "OK",
		Stats:   stats,
	})
}
