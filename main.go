package main

import (
	"os"

	"github.com/jaishree29/slaaang-omegle-feature-backend/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
