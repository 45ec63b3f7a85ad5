package main

import (
	"context"
	"os"

	"github.com/RoadrunnerWMC/wii-code-tools/cmd"
)

func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
