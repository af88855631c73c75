package main

import (
	"os"

	"github.com/pagebeat/pagebeat/cmd/pagebeatctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
