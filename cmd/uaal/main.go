package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/ocx/uaal/internal/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️  Failed to load .env: %v", err)
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
