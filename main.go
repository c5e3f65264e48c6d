package main

import (
	"os"

	"github.com/adalundhe/phrasedec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
