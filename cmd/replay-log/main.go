package main

import (
	"os"
)

func main() {
	command := NewReplayLogCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}
