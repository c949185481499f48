package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/vendhub-io/vendhub/cmd/vendhub/app"
)

func main() {
	if err := app.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
