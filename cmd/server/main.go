package main

import (
	"github.com/hansard-kg/engine/internal/app"
	"github.com/hansard-kg/engine/internal/server"
)

func main() {
	app.InitLogger("server")
	server.Init()
}
