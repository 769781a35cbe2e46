package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/joho/godotenv"

	_ "github.com/klipach/picchu"
)

const defaultPort = "8082"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	slog.Info("started", slog.String("port", port))

	if err := funcframework.Start(port); err != nil {
		slog.Error("funcframework.Start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("done")
}
