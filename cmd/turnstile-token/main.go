package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/turnstile/pkg/cli"
)

func main() {
	// Same .env the gateway reads, if there is one.
	_ = godotenv.Load()

	logger := setupLogger(os.Getenv("TURNSTILE_LOG_LEVEL"))

	root := cli.NewRootCommand(os.Stdout, logger)
	if err := root.Execute(os.Stdout, os.Args[1:]); err != nil {
		logger.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
