package main

import (
	"os"

	"github.com/weldr-dev/runr/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
