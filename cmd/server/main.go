package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/wlan-tools/bulkops-backend/internal/domain"
	"github.com/wlan-tools/bulkops-backend/internal/server"
)

func main() {
	conf := domain.GetDefaultConfig()
	conf.CheckUsage()

	devEnvironment := os.Getenv("DEV_ENVIRONMENT")
	var environmentFileName string
	if devEnvironment == "production" {
		environmentFileName = ".production.env"
	} else {
		environmentFileName = ".development.env"
	}

	// Load ENV from .env file
	err := godotenv.Load(environmentFileName)
	if err != nil {
		log.Printf("Failed to load environment file \"%s\"", environmentFileName)
	}

	srv := server.NewServer(conf)

	// Blocking call.
	err = srv.Serve()
	if err != nil {
		panic(err)
	}
}
