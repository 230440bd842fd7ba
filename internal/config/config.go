// Package config loads daemon settings from YAML with environment overrides
// and keeps the live camera set.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
	"github.com/technosupport/ts-vigil/internal/data"
	"github.com/technosupport/ts-vigil/internal/middleware"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr" env:"VIGIL_ADDR"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"VIGIL_SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" env:"VIGIL_LOG_LEVEL"`
		Pretty bool   `yaml:"pretty" env:"VIGIL_LOG_PRETTY"`
	} `yaml:"log"`

	Database struct {
		DSN          string `yaml:"dsn" env:"DATABASE_DSN"`
		MaxOpenConns int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`

	Auth struct {
		SigningKey string `yaml:"signing_key" env:"VIGIL_SIGNING_KEY"`
	} `yaml:"auth"`

	RateLimit middleware.RateLimitConfig `yaml:"rate_limit" envPrefix:"VIGIL_RATE_LIMIT_"`

	NATS struct {
		URL string `yaml:"url" env:"NATS_URL"`
	} `yaml:"nats"`

	Kafka struct {
		Brokers  []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		Topic    string   `yaml:"topic" env:"KAFKA_TOPIC"`
		ClientID string   `yaml:"client_id" env:"KAFKA_CLIENT_ID"`
	} `yaml:"kafka"`

	MQTT struct {
		Broker   string `yaml:"broker" env:"MQTT_BROKER"`
		ClientID string `yaml:"client_id" env:"MQTT_CLIENT_ID"`
		Username string `yaml:"username" env:"MQTT_USERNAME"`
		Password string `yaml:"password" env:"MQTT_PASSWORD"`
		QoS      byte   `yaml:"qos" env:"MQTT_QOS"`
	} `yaml:"mqtt"`

	Minio struct {
		Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
		Region    string `yaml:"region" env:"MINIO_REGION"`
		Secure    bool   `yaml:"secure" env:"MINIO_SECURE"`
	} `yaml:"minio"`

	Vision struct {
		Endpoint    string        `yaml:"endpoint" env:"VISION_ENDPOINT"`
		APIKey      string        `yaml:"api_key" env:"VISION_API_KEY"`
		Model       string        `yaml:"model" env:"VISION_MODEL"`
		Timeout     time.Duration `yaml:"timeout" env:"VISION_TIMEOUT"`
		Attempts    int           `yaml:"attempts" env:"VISION_ATTEMPTS"`
		BaseBackoff time.Duration `yaml:"base_backoff" env:"VISION_BASE_BACKOFF"`
		Language    string        `yaml:"language" env:"VISION_LANGUAGE"`
	} `yaml:"vision"`

	Faces struct {
		Endpoint      string        `yaml:"endpoint" env:"FACES_ENDPOINT"`
		MinSimilarity float64       `yaml:"min_similarity" env:"FACES_MIN_SIMILARITY"`
		Timeout       time.Duration `yaml:"timeout" env:"FACES_TIMEOUT"`
	} `yaml:"faces"`

	Frames struct {
		Timeout     time.Duration   `yaml:"timeout" env:"FRAMES_TIMEOUT"`
		RetryDelays []time.Duration `yaml:"retry_delays"`
	} `yaml:"frames"`

	WhatsApp struct {
		BaseURL  string `yaml:"base_url" env:"WHATSAPP_BASE_URL"`
		Username string `yaml:"username" env:"WHATSAPP_USERNAME"`
		Password string `yaml:"password" env:"WHATSAPP_PASSWORD"`
		DeviceID string `yaml:"device_id" env:"WHATSAPP_DEVICE_ID"`
	} `yaml:"whatsapp"`

	Webhook struct {
		Timeout time.Duration     `yaml:"timeout"`
		Headers map[string]string `yaml:"headers"`
	} `yaml:"webhook"`

	Notify struct {
		SendTimeout          time.Duration    `yaml:"send_timeout" env:"NOTIFY_SEND_TIMEOUT"`
		Attempts             int              `yaml:"attempts" env:"NOTIFY_ATTEMPTS"`
		Backoff              time.Duration    `yaml:"backoff" env:"NOTIFY_BACKOFF"`
		NotificationMaxRunes int              `yaml:"notification_max_runes"`
		DefaultRecipients    []data.Recipient `yaml:"default_recipients"`
	} `yaml:"notify"`

	Pipeline struct {
		QueueBound int           `yaml:"queue_bound" env:"PIPELINE_QUEUE_BOUND"`
		RunTimeout time.Duration `yaml:"run_timeout" env:"PIPELINE_RUN_TIMEOUT"`
	} `yaml:"pipeline"`

	Patrol struct {
		Interval         time.Duration    `yaml:"interval" env:"PATROL_INTERVAL"`
		PerCameraTimeout time.Duration    `yaml:"per_camera_timeout" env:"PATROL_PER_CAMERA_TIMEOUT"`
		Slack            time.Duration    `yaml:"slack" env:"PATROL_SLACK"`
		Prompt           string           `yaml:"prompt"`
		Recipients       []data.Recipient `yaml:"recipients"`
	} `yaml:"patrol"`

	Motion struct {
		Enabled      bool          `yaml:"enabled" env:"MOTION_ENABLED"`
		PollInterval time.Duration `yaml:"poll_interval" env:"MOTION_POLL_INTERVAL"`
		Threshold    int           `yaml:"threshold" env:"MOTION_THRESHOLD"`
	} `yaml:"motion"`

	Scheduler struct {
		Resolution time.Duration `yaml:"resolution" env:"SCHEDULER_RESOLUTION"`
	} `yaml:"scheduler"`

	Timeline struct {
		SpoolDir       string        `yaml:"spool_dir" env:"TIMELINE_SPOOL_DIR"`
		SpoolMaxMB     int64         `yaml:"spool_max_mb" env:"TIMELINE_SPOOL_MAX_MB"`
		ReplayInterval time.Duration `yaml:"replay_interval" env:"TIMELINE_REPLAY_INTERVAL"`
	} `yaml:"timeline"`

	Dedup struct {
		TTL     time.Duration `yaml:"ttl" env:"DEDUP_TTL"`
		MaxKeys int           `yaml:"max_keys" env:"DEDUP_MAX_KEYS"`
	} `yaml:"dedup"`

	ConfigPoll time.Duration `yaml:"config_poll" env:"VIGIL_CONFIG_POLL"`

	Cameras []data.Camera `yaml:"cameras"`
}

// Load reads path, applies environment overrides, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := ValidateCameras(cfg.Cameras); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "vigil.events"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "ts-vigil"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ts-vigil"
	}
	if c.MQTT.QoS == 0 {
		c.MQTT.QoS = 1
	}
	if c.Minio.Bucket == "" {
		c.Minio.Bucket = "vigil-frames"
	}
	if c.Pipeline.QueueBound == 0 {
		c.Pipeline.QueueBound = 3
	}
	if c.Pipeline.RunTimeout == 0 {
		c.Pipeline.RunTimeout = 3 * time.Minute
	}
	if c.Patrol.Interval == 0 {
		c.Patrol.Interval = 6 * time.Hour
	}
	if c.Patrol.PerCameraTimeout == 0 {
		c.Patrol.PerCameraTimeout = 20 * time.Second
	}
	if c.Patrol.Slack == 0 {
		c.Patrol.Slack = 5 * time.Second
	}
	if c.Motion.PollInterval == 0 {
		c.Motion.PollInterval = 2 * time.Second
	}
	if c.Motion.Threshold == 0 {
		c.Motion.Threshold = 10
	}
	if c.Scheduler.Resolution == 0 {
		c.Scheduler.Resolution = 15 * time.Second
	}
	if c.Timeline.SpoolDir == "" {
		c.Timeline.SpoolDir = "data/spool"
	}
	if c.Timeline.SpoolMaxMB == 0 {
		c.Timeline.SpoolMaxMB = 256
	}
	if c.Timeline.ReplayInterval == 0 {
		c.Timeline.ReplayInterval = 30 * time.Second
	}
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = 10 * time.Minute
	}
	if c.Dedup.MaxKeys == 0 {
		c.Dedup.MaxKeys = 4096
	}
	if c.ConfigPoll == 0 {
		c.ConfigPoll = 60 * time.Second
	}
	for i := range c.Cameras {
		if c.Cameras[i].Cooldown == 0 {
			c.Cameras[i].Cooldown = 60 * time.Second
		}
	}
}

var validTriggers = []data.TriggerKind{
	data.TriggerMotion, data.TriggerSchedule, data.TriggerWebhook, data.TriggerMessage, data.TriggerPatrol,
}

var validChannels = []data.ChannelKind{
	data.ChannelChat, data.ChannelWebhook, data.ChannelNATS, data.ChannelKafka, data.ChannelMQTT,
}

// ValidateCameras rejects camera sets the pipeline cannot run with.
func ValidateCameras(cams []data.Camera) error {
	var errs []error
	seen := map[string]bool{}
	for i, c := range cams {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("camera %d: id is required", i))
			continue
		}
		if seen[c.ID] {
			errs = append(errs, fmt.Errorf("camera %q: duplicate id", c.ID))
		}
		seen[c.ID] = true
		if c.Cooldown < 0 {
			errs = append(errs, fmt.Errorf("camera %q: negative cooldown", c.ID))
		}
		for _, k := range c.Triggers {
			if !lo.Contains(validTriggers, k) {
				errs = append(errs, fmt.Errorf("camera %q: unknown trigger %q", c.ID, k))
			}
		}
		for _, r := range c.Recipients {
			if !lo.Contains(validChannels, r.Channel) {
				errs = append(errs, fmt.Errorf("camera %q: unknown channel %q", c.ID, r.Channel))
			}
		}
	}
	return errors.Join(errs...)
}
