package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

func main() {
	app := mustBootstrapBoiPrintAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("boiprint-api stopped", "error", err.Error())
		app.Close()
		os.Exit(1)
	}
}
