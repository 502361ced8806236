package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/tracemap/cartograph/pkg/query"
	"github.com/tracemap/cartograph/pkg/store"
)

// App bundles the shared clients handlers pull from the request context.
type App struct {
	Storage store.GraphStorage
	Search  query.SearchClient
	Queue   *amqp091.Channel
}

type AppContext struct {
	echo.Context
	App *App
}

// AppContextMiddleware injects the shared application clients into every
// request context.
func AppContextMiddleware(
	storage store.GraphStorage,
	search query.SearchClient,
	queue *amqp091.Channel,
) echo.MiddlewareFunc {
	app := &App{
		Storage: storage,
		Search:  search,
		Queue:   queue,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
