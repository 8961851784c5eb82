package main

import (
	"github.com/bluefishs/CK-Missive-sub000/internal/server"
	"github.com/bluefishs/CK-Missive-sub000/internal/util"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"
	"github.com/bluefishs/CK-Missive-sub000/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
