package main

import (
	"os"

	"github.com/lazerflow/lazerflow/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
