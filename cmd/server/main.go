package main

import (
	"github.com/tracemap/cartograph/internal/server"
	"github.com/tracemap/cartograph/internal/util"
	"github.com/tracemap/cartograph/pkg/logger"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	logger.Init(logger.NewConsole(logger.ConsoleParams{
		Debug: debug,
	}))

	server.Init()
}
