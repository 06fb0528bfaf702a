package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/nats-io/nats.go"

	"github.com/open-teleop/presence/domain/diagnostic"
	"github.com/open-teleop/presence/domain/teleop"
	"github.com/open-teleop/presence/domain/video"
	"github.com/open-teleop/presence/pkg/access"
	"github.com/open-teleop/presence/pkg/api"
	"github.com/open-teleop/presence/pkg/channel"
	"github.com/open-teleop/presence/pkg/config"
	"github.com/open-teleop/presence/pkg/input"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/network"
	"github.com/open-teleop/presence/pkg/processing"
	"github.com/open-teleop/presence/pkg/relay"
	"github.com/open-teleop/presence/pkg/session"
	"github.com/open-teleop/presence/pkg/zeromq"
	"github.com/open-teleop/presence/services"
)

func main() {
	configDir := flag.String("config-dir", os.Getenv("PRESENCE_CONFIG_DIR"), "directory containing presence_config.yaml")
	flag.Parse()
	if *configDir == "" {
		*configDir = "./config"
	}

	bootstrapConfig, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load bootstrap config: %v", err)
	}

	appLogger, err := customlog.NewLogrusLogger(bootstrapConfig.Logging.Level, bootstrapConfig.Logging.LogPath)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	installID := bootstrapConfig.Identity.InstallID
	if installID == "" {
		installID = session.NewInstallID()
		appLogger.Warnf("No install_id configured, using %s for this run", installID)
	}
	appLogger = appLogger.WithField("install", installID)

	registry := processing.NewEventRegistry(appLogger)
	tokens := access.NewClient(bootstrapConfig.Remote.ServerURL, bootstrapConfig.Remote.RequestTimeout(), appLogger)

	var prober network.Prober = network.InterfaceProber{}
	if bootstrapConfig.Network.ProbeServer {
		prober = network.AllProber{network.InterfaceProber{}, network.ServerProber{Checker: tokens}}
	}
	monitor := network.NewMonitor(prober, bootstrapConfig.Network.ProbeInterval(), appLogger)

	channelURL, err := socketURL(bootstrapConfig.Remote.ServerURL, bootstrapConfig.Remote.ChannelPath)
	if err != nil {
		appLogger.Fatalf("Invalid server_url: %v", err)
	}
	channels := func(identity session.Identity) (session.Channel, error) {
		header := http.Header{}
		header.Set(channel.HeaderGUID, identity.InstallID)
		header.Set(channel.HeaderToken, identity.Token)
		header.Set(channel.HeaderConnectionID, identity.ConnectionID)
		return channel.NewSocket(channel.Options{
			URL:          channelURL,
			Header:       header,
			PingInterval: bootstrapConfig.Remote.PingInterval(),
			PongWait:     bootstrapConfig.Remote.PongWait(),
			Logger:       appLogger,
			Registry:     registry,
		}), nil
	}

	hub := api.NewEventHub(appLogger)
	videoService := video.NewVideoService(appLogger)
	observers := session.Observers{hub}
	videoService.StartStream(hub.BroadcastVideo)

	var zmqService *zeromq.Service
	var zmqPublisher *zeromq.SessionPublisher
	if bootstrapConfig.ZeroMQ.RequestBindAddress != "" {
		zmqService, err = zeromq.NewService(bootstrapConfig.ZeroMQ, appLogger)
		if err != nil {
			appLogger.Fatalf("Failed to create ZeroMQ service: %v", err)
		}
		zmqPublisher = zeromq.NewSessionPublisher(zmqService, appLogger)
		observers = append(observers, zmqPublisher)
		videoService.StartStream(zmqPublisher.PublishVideo)
	}

	var natsConn *nats.Conn
	if bootstrapConfig.NATS.URL != "" {
		natsConn, err = relay.Connect(bootstrapConfig.NATS, "presence-"+installID, appLogger)
		if err != nil {
			appLogger.Warnf("NATS relay disabled: %v", err)
		} else {
			observers = append(observers, relay.NewRelay(natsConn, bootstrapConfig.NATS.SubjectPrefix, installID, appLogger))
		}
	}

	controller, err := session.NewController(session.Options{
		InstallID:      installID,
		OperatorSecret: bootstrapConfig.Remote.OperatorSecret,
		ObserverSecret: bootstrapConfig.Remote.ObserverSecret,
		RequestTimeout: bootstrapConfig.Remote.RequestTimeout(),
		MailboxSize:    bootstrapConfig.Processing.MailboxSize,
		IOWorkers:      bootstrapConfig.Processing.IOWorkers,
		IOQueueSize:    bootstrapConfig.Processing.IOQueueSize,
	}, session.Dependencies{
		Tokens:       tokens,
		Channels:     channels,
		Reachability: monitor,
		Observer:     observers,
		Video:        videoService,
		Logger:       appLogger,
	})
	if err != nil {
		appLogger.Fatalf("Failed to create session controller: %v", err)
	}

	profiles, err := services.NewProfileService(bootstrapConfig.Data.ProfilePath(), appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to load control profile: %v", err)
	}
	pipeline := input.NewPipeline(profiles.GetCurrentProfile(), controller, appLogger)
	profiles.AddListener(pipeline.ApplyProfile)
	if zmqPublisher != nil {
		profiles.SetPublisher(zmqPublisher)
	}

	teleopService := teleop.NewTeleopService(pipeline, appLogger)
	diagnosticService := diagnostic.NewDiagnosticService(controller, registry)

	if zmqService != nil {
		zeromq.RegisterSessionHandlers(zmqService.Dispatcher(), controller, teleopService, profiles, appLogger)
		zmqService.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	controller.Start()
	controller.CreateSession()

	source, err := input.OpenSource(profiles.GetCurrentProfile().Joystick, appLogger)
	if err != nil {
		appLogger.Warnf("Gamepad disabled: %v", err)
	} else if source != nil {
		go func() {
			if err := source.Run(ctx, pipeline.HandleAxes); err != nil && !errors.Is(err, context.Canceled) {
				appLogger.Warnf("Gamepad stopped: %v", err)
			}
		}()
	}

	app := fiber.New(fiber.Config{
		AppName:               "Open-Teleop Presence",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "open-teleop presence",
			"install": installID,
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api.RegisterSessionRoutes(app, controller, appLogger)
	api.RegisterConfigRoutes(app, profiles, appLogger)
	api.RegisterWebSocketRoutes(app, hub, pipeline, appLogger)

	apiGroup := app.Group("/api")
	apiGroup.Post("/teleop/command", teleopService.CommandHandler)
	diagnosticRoutes := apiGroup.Group("/diagnostics")
	diagnosticRoutes.Get("/", diagnosticService.GetMetricsHandler)
	diagnosticRoutes.Delete("/events", diagnosticService.ResetEventsHandler)
	apiGroup.Get("/video/stream", videoService.StreamHandler)

	port := bootstrapConfig.Server.HTTPPort
	go func() {
		appLogger.Infof("Server starting on port %d", port)
		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Infof("Shutting down...")

	controller.Terminate()
	cancel()
	if source != nil {
		_ = source.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}

	controller.Close()
	monitor.Stop()
	if zmqService != nil {
		zmqService.Stop()
	}
	if natsConn != nil {
		natsConn.Close()
	}
	appLogger.Infof("Presence client exited properly")
}

// socketURL turns the http(s) server URL into the ws(s) channel URL.
func socketURL(serverURL, channelPath string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(channelPath, "/")
	return u.String(), nil
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
