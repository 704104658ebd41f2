package main

import (
	"os"

	"github.com/mirrorkit/wikidot-mirror/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
