package main

import (
	"os"

	"github.com/onwardai/keith-agent/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
