package main

import (
	"os"

	"github.com/majorcontext/authprofiles/cmd/authprofiles/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
