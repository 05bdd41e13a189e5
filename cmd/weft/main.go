package main

import (
	"os"

	"github.com/weftai/weft/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
