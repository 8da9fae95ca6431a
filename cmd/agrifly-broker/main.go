package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/agrifly-io/agrifly/cmd/agrifly-broker/app"
)

func main() {
	if err := app.NewBrokerCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
