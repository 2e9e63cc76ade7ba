package main

import (
	"os"

	"picturetalk-backend/internal/console"
)

func main() {
	if err := console.Execute(); err != nil {
		os.Exit(1)
	}
}
