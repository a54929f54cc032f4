package main

import (
	"os"
)

func main() {
	if err := run(&app{}, os.Args[1:]); err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}
