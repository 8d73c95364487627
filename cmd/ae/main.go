package main

import (
	"os"

	"github.com/dstn-dev/autoenroll/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
