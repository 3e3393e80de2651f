package main

import (
	"os"

	"github.com/MrEthical07/umbra/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		// Cobra already printed the error.
		os.Exit(1)
	}
}
