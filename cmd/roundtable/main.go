package main

import (
	"os"

	"github.com/roundtable/relay/cmd/roundtable/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
