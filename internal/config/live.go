package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LiveConfig is the configuration of the repquest-live tracking CLI.
type LiveConfig struct {
	ServerURL  string        `yaml:"server_url"`
	Token      string        `yaml:"token"`
	Subject    string        `yaml:"subject"`
	AttemptsDB string        `yaml:"attempts_db"`
	Camera     CameraConfig  `yaml:"camera"`
	Pose       PoseConfig    `yaml:"pose"`
	MQTT       MQTTConfig    `yaml:"mqtt"`
	Coach      LiveCoach     `yaml:"coach"`
	Timeout    time.Duration `yaml:"request_timeout"`
}

// CameraConfig maps facing directions to V4L2 devices.
type CameraConfig struct {
	Environment       string        `yaml:"environment"`
	User              string        `yaml:"user"`
	Default           string        `yaml:"default"`
	FirstFrameTimeout time.Duration `yaml:"first_frame_timeout"`
}

// PoseConfig describes the pose estimation worker process.
type PoseConfig struct {
	Command        string        `yaml:"command"`
	Model          string        `yaml:"model"`
	Args           []string      `yaml:"args"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MQTTConfig enables snapshot publishing when Broker is set.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type LiveCoach struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultLivePath returns ~/.config/repquest/live.yaml.
func DefaultLivePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "live.yaml"
	}
	return filepath.Join(dir, "repquest", "live.yaml")
}

// LoadLive reads the CLI config. A missing file is not an error when
// optional is true; defaults and environment overrides still apply:
//
//	REPQUEST_LIVE_SERVER_URL, REPQUEST_LIVE_TOKEN, REPQUEST_LIVE_SUBJECT,
//	REPQUEST_MQTT_BROKER, REPQUEST_POSE_COMMAND
func LoadLive(path string, optional bool) (*LiveConfig, error) {
	cfg := &LiveConfig{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if v := os.Getenv("REPQUEST_LIVE_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("REPQUEST_LIVE_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("REPQUEST_LIVE_SUBJECT"); v != "" {
		cfg.Subject = v
	}
	if v := os.Getenv("REPQUEST_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("REPQUEST_POSE_COMMAND"); v != "" {
		cfg.Pose.Command = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *LiveConfig) applyDefaults() {
	if c.Camera.Default == "" {
		c.Camera.Default = "/dev/video0"
	}
	if c.Camera.FirstFrameTimeout == 0 {
		c.Camera.FirstFrameTimeout = 5 * time.Second
	}
	if c.Pose.Command == "" {
		c.Pose.Command = "repquest-pose"
	}
	if c.Pose.RequestTimeout == 0 {
		c.Pose.RequestTimeout = 2 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "repquest-live"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "repquest/quests"
	}
	if c.Coach.Cooldown == 0 {
		c.Coach.Cooldown = 4500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	if c.AttemptsDB == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.AttemptsDB = filepath.Join(dir, "repquest", "attempts.db")
		} else {
			c.AttemptsDB = "attempts.db"
		}
	}
}

func (c *LiveConfig) validate() error {
	if c.Token != "" && c.ServerURL == "" {
		return fmt.Errorf("server_url is required when token is set")
	}
	if c.Token != "" && c.Subject == "" {
		return fmt.Errorf("subject is required when token is set")
	}
	if c.Coach.Cooldown < 0 {
		return fmt.Errorf("coach.cooldown must not be negative")
	}
	return nil
}

// Authenticated reports whether server calls carry credentials.
func (c *LiveConfig) Authenticated() bool {
	return c.ServerURL != "" && c.Token != ""
}
