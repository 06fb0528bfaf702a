package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/open-teleop/presence/internal/devserver"
	customlog "github.com/open-teleop/presence/pkg/log"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	addr := flag.String("addr", envOr("DEVSERVER_ADDR", ":3000"), "listen address")
	operatorSecret := flag.String("operator-secret", envOr("PRESENCE_OPERATOR_SECRET", "operator"), "secret granting the operator role")
	observerSecret := flag.String("observer-secret", envOr("PRESENCE_OBSERVER_SECRET", "observer"), "secret granting the client role")
	signingKey := flag.String("signing-key", os.Getenv("DEVSERVER_SIGNING_KEY"), "HS256 key for access tokens, random when empty")
	tokenTTL := flag.Duration("token-ttl", time.Hour, "access token lifetime")
	interval := flag.Duration("telemetry-interval", time.Second, "telemetry push interval")
	sendVideo := flag.Bool("video", false, "push placeholder video frames with telemetry")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	appLogger, err := customlog.NewLogrusLogger(*logLevel, "")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	key := []byte(*signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			appLogger.Fatalf("Failed to generate signing key: %v", err)
		}
	}
	operatorHash, err := devserver.HashSecret(*operatorSecret)
	if err != nil {
		appLogger.Fatalf("Failed to hash operator secret: %v", err)
	}
	observerHash, err := devserver.HashSecret(*observerSecret)
	if err != nil {
		appLogger.Fatalf("Failed to hash observer secret: %v", err)
	}

	server, err := devserver.New(devserver.Options{
		OperatorSecretHash: operatorHash,
		ObserverSecretHash: observerHash,
		SigningKey:         key,
		TokenTTL:           *tokenTTL,
		TelemetryInterval:  *interval,
		SendVideo:          *sendVideo,
		Logger:             appLogger,
	})
	if err != nil {
		appLogger.Fatalf("Failed to create devserver: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "Open-Teleop Presence Devserver",
		ErrorHandler: customErrorHandler,
	})
	app.Use(logger.New())
	app.Use(recover.New())
	server.Register(app)

	go func() {
		appLogger.Infof("Devserver starting on %s", *addr)
		if err := app.Listen(*addr); err != nil {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Infof("Shutting down devserver...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
