package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-vigil/internal/analysis"
	"github.com/technosupport/ts-vigil/internal/api"
	"github.com/technosupport/ts-vigil/internal/bus"
	"github.com/technosupport/ts-vigil/internal/capture"
	"github.com/technosupport/ts-vigil/internal/config"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/middleware"
	"github.com/technosupport/ts-vigil/internal/notify"
	"github.com/technosupport/ts-vigil/internal/patrol"
	"github.com/technosupport/ts-vigil/internal/pipeline"
	"github.com/technosupport/ts-vigil/internal/ratelimit"
	"github.com/technosupport/ts-vigil/internal/snapshots"
	"github.com/technosupport/ts-vigil/internal/timeline"
	"github.com/technosupport/ts-vigil/internal/tokens"
	"github.com/technosupport/ts-vigil/internal/triggers"
)

func main() {
	configPath := flag.String("config", "configs/vigil.yaml", "Path to the YAML config")
	flag.Parse()

	// 1. Config & logging
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
	}
	setupLogging(cfg)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := config.NewRegistry(cfg.Cameras)
	config.NewWatcher(*configPath, registry, cfg.ConfigPoll).Start(rootCtx)

	// 2. Storage
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("DB open error")
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	if err := db.PingContext(rootCtx); err != nil {
		// The recorder spools while the database is away.
		log.Error().Err(err).Msg("DB ping failed, events will spool until it is reachable")
	}
	events := data.EventModel{DB: db}
	faces := data.FaceModel{DB: db}

	spool, err := timeline.NewSpool(cfg.Timeline.SpoolDir, cfg.Timeline.SpoolMaxMB)
	if err != nil {
		log.Fatal().Err(err).Msg("timeline spool init failed")
	}
	recorder := timeline.NewRecorder(events, faces, spool)
	recorder.StartReplayer(rootCtx, cfg.Timeline.ReplayInterval)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	// 3. Analysis collaborators
	frames := capture.NewSnapshotSource(registry, cfg.Frames.Timeout)
	vision := analysis.NewGeminiProvider(analysis.GeminiConfig{
		Endpoint: cfg.Vision.Endpoint,
		APIKey:   cfg.Vision.APIKey,
		Model:    cfg.Vision.Model,
		Timeout:  cfg.Vision.Timeout,
	})
	collab := analysis.Collaborators{Frames: frames, Vision: vision, People: faces}
	if cfg.Faces.Endpoint != "" {
		collab.Faces = analysis.NewFaceServiceClient(analysis.FaceServiceConfig{
			Endpoint:      cfg.Faces.Endpoint,
			MinSimilarity: cfg.Faces.MinSimilarity,
			Timeout:       cfg.Faces.Timeout,
		})
	}
	if cfg.Minio.Endpoint != "" {
		store, err := snapshots.NewStore(snapshots.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Region:    cfg.Minio.Region,
			Secure:    cfg.Minio.Secure,
		})
		if err != nil {
			log.Error().Err(err).Msg("snapshot store disabled")
		} else {
			collab.Store = store
		}
	}
	orchestrator := analysis.NewOrchestrator(analysis.Config{
		FrameRetryDelays:     cfg.Frames.RetryDelays,
		FrameTimeout:         cfg.Frames.Timeout,
		FaceTimeout:          cfg.Faces.Timeout,
		VisionTimeout:        cfg.Vision.Timeout,
		VisionAttempts:       cfg.Vision.Attempts,
		VisionBaseDelay:      cfg.Vision.BaseBackoff,
		Language:             cfg.Vision.Language,
		NotificationMaxRunes: cfg.Notify.NotificationMaxRunes,
	}, collab)

	patroller := patrol.NewPatroller(patrol.Config{
		PerCameraTimeout: cfg.Patrol.PerCameraTimeout,
		Slack:            cfg.Patrol.Slack,
		Prompt:           cfg.Patrol.Prompt,
		SummaryTimeout:   cfg.Vision.Timeout,
		SummaryAttempts:  cfg.Vision.Attempts,
		SummaryBackoff:   cfg.Vision.BaseBackoff,
	}, orchestrator, vision)

	// 4. Notification channels
	channels := map[data.ChannelKind]notify.Channel{
		data.ChannelWebhook: notify.NewWebhookChannel(cfg.Webhook.Timeout, cfg.Webhook.Headers),
	}
	if cfg.WhatsApp.BaseURL != "" {
		channels[data.ChannelChat] = notify.NewChatChannel(notify.ChatConfig{
			BaseURL:  cfg.WhatsApp.BaseURL,
			Username: cfg.WhatsApp.Username,
			Password: cfg.WhatsApp.Password,
			DeviceID: cfg.WhatsApp.DeviceID,
		})
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("ts-vigil"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn().Err(err).Msg("nats disconnected")
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
			}))
		if err != nil {
			log.Error().Err(err).Msg("NATS connect failed, nats channel disabled")
		} else {
			defer nc.Drain()
			channels[data.ChannelNATS] = notify.NewNATSChannel(nc)
		}
	}

	var producer sarama.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = notify.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			log.Error().Err(err).Msg("Kafka producer failed, kafka channel disabled")
		} else {
			defer producer.Close()
			channels[data.ChannelKafka] = notify.NewKafkaChannel(producer, cfg.Kafka.Topic)
		}
	}

	var mqttClient mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = bus.ConnectMQTT(bus.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			log.Error().Err(err).Msg("MQTT connect failed, mqtt channel disabled")
			mqttClient = nil
		} else {
			channels[data.ChannelMQTT] = notify.NewMQTTChannel(mqttClient, cfg.MQTT.QoS)
		}
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		SendTimeout: cfg.Notify.SendTimeout,
		Attempts:    cfg.Notify.Attempts,
		Backoff:     cfg.Notify.Backoff,
	}, channels)

	// 5. Pipeline
	engine := pipeline.NewEngine(pipeline.Config{
		QueueBound:        cfg.Pipeline.QueueBound,
		RunTimeout:        cfg.Pipeline.RunTimeout,
		PatrolRecipients:  cfg.Patrol.Recipients,
		DefaultRecipients: cfg.Notify.DefaultRecipients,
		DedupTTL:          cfg.Dedup.TTL,
		DedupMaxKeys:      cfg.Dedup.MaxKeys,
	}, pipeline.Deps{
		Cameras:  registry,
		Analyzer: orchestrator,
		Patrol:   patroller,
		Notifier: dispatcher,
		Recorder: recorder,
	})

	scheduler := triggers.NewScheduler(triggers.SchedulerConfig{
		Resolution:     cfg.Scheduler.Resolution,
		PatrolInterval: cfg.Patrol.Interval,
	}, registry, engine)
	scheduler.Start()

	var motion *triggers.MotionWatcher
	if cfg.Motion.Enabled {
		motion = triggers.NewMotionWatcher(triggers.MotionConfig{
			PollInterval: cfg.Motion.PollInterval,
			Threshold:    cfg.Motion.Threshold,
			FrameTimeout: cfg.Frames.Timeout,
		}, frames, registry, engine)
		motion.Start()
	}

	// 6. Bus listeners
	if nc != nil {
		listener := bus.NewNATSListener(nc, engine)
		if err := listener.Start(); err != nil {
			log.Error().Err(err).Msg("NATS trigger listener disabled")
		} else {
			defer listener.Stop()
		}
	}

	if mqttClient != nil {
		bus.NewMQTTListener(engine, cfg.MQTT.QoS).Subscribe(mqttClient)
	}

	// 7. HTTP
	routerCfg := api.RouterConfig{
		Triggers: api.NewTriggerHandler(engine, registry),
		Events:   api.NewEventHandler(events),
		Health: map[string]api.HealthCheck{
			"database": db.PingContext,
		},
	}
	if rdb != nil {
		routerCfg.Health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		if cfg.RateLimit.PerIP.Enabled() || cfg.RateLimit.PerService.Enabled() {
			if cfg.RateLimit.IPHashSalt == "" {
				log.Warn().Msg("rate_limit.ip_hash_salt not set, using the built-in salt")
			}
			limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit.IPHashSalt)
			routerCfg.RateLimit = middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit)
		}
	}
	if cfg.Auth.SigningKey != "" {
		var revoked tokens.RevocationList
		if rdb != nil {
			revoked = tokens.NewRedisRevocations(rdb)
		}
		routerCfg.Auth = middleware.NewServiceAuth(tokens.NewManager(cfg.Auth.SigningKey), revoked)
	} else {
		log.Warn().Msg("auth.signing_key not set, API is unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("cameras", len(registry.Cameras())).Msg("ts-vigil listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	scheduler.Stop()
	if motion != nil {
		motion.Stop()
	}
	engine.Stop()
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
	recorder.ReplaySpool(shutdownCtx)
	log.Info().Msg("stopped")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "ts-vigil").Logger()
}
