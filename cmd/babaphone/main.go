package main

import (
	"fmt"
	"os"

	"babaphone/cmd/babaphone/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "babaphone:", err)
		os.Exit(1)
	}
}
