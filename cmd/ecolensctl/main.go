package main

import (
	"os"

	tool "github.com/ecolens-api/internal/tools/ecolensctl"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
