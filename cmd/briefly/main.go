package main

import (
	"github.com/NukkadFoods/Webstorybackend/cmd/cmd"
	"github.com/NukkadFoods/Webstorybackend/internal/logger"
)

func main() {
	logger.Init()
	cmd.Execute()
}
