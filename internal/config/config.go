package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kyuhyong/surveillance-camera/internal/camera"
	"github.com/kyuhyong/surveillance-camera/internal/state"
	"github.com/kyuhyong/surveillance-camera/internal/transcode"
)

// Config represents the complete recorder configuration
type Config struct {
	Camera          CameraConfig    `yaml:"camera"`
	Detection       DetectionConfig `yaml:"detection"`
	Recording       RecordingConfig `yaml:"recording"`
	Storage         StorageConfig   `yaml:"storage"`
	Transcode       TranscodeConfig `yaml:"transcode"`
	Retention       RetentionConfig `yaml:"retention"`
	State           StateConfig     `yaml:"state"`
	Handoff         HandoffConfig   `yaml:"handoff"`
	Relay           RelayConfig     `yaml:"relay"`
	Log             LogConfig       `yaml:"log"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// CameraConfig selects the capture backend
type CameraConfig struct {
	Backend     string        `yaml:"backend"` // usb, picamera
	Device      string        `yaml:"device"`  // usb device id, empty for the first camera
	Command     string        `yaml:"command"` // picamera capture tool
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	FPS         int           `yaml:"fps"`
	Warmup      time.Duration `yaml:"warmup"`
	PixelFormat string        `yaml:"pixel_format"` // mjpeg, yuv420
}

// DetectionConfig contains motion detector settings
type DetectionConfig struct {
	Interval            time.Duration `yaml:"interval"`
	BrightnessThreshold int           `yaml:"brightness_threshold"`
	ReadyCount          int           `yaml:"ready_count"`
	DiffThreshold       int           `yaml:"diff_threshold"`
	MinArea             int           `yaml:"min_area"`
	BlurSize            int           `yaml:"blur_size"`
	DilateIterations    int           `yaml:"dilate_iterations"`
}

// RecordingConfig contains clip settings
type RecordingConfig struct {
	Duration  time.Duration `yaml:"duration"`
	Width     int           `yaml:"width"`
	Height    int           `yaml:"height"`
	FPS       int           `yaml:"fps"`
	TargetFPS int           `yaml:"target_fps"` // capture loop pacing
	Overlay   bool          `yaml:"overlay"`
}

// StorageConfig contains artifact locations
type StorageConfig struct {
	ClipsDir  string `yaml:"clips_dir"`
	StreamDir string `yaml:"stream_dir"`
	ImagesDir string `yaml:"images_dir"`
	Database  string `yaml:"database"`
}

// TranscodeConfig contains ffmpeg settings
type TranscodeConfig struct {
	FFmpeg  string `yaml:"ffmpeg"`
	Profile string `yaml:"profile"` // generic, picamera; defaults to the camera backend
	Preset  string `yaml:"preset"`
	CRF     int    `yaml:"crf"`
	Queue   int    `yaml:"queue"`
}

// RetentionConfig contains clip expiry settings
type RetentionConfig struct {
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"` // six-field cron expression or a descriptor such as @every 24h
}

// StateConfig selects the control state backend
type StateConfig struct {
	Backend string `yaml:"backend"` // sqlite, file
	Path    string `yaml:"path"`    // file backend only
}

// HandoffConfig contains queue depths
type HandoffConfig struct {
	FrameDepth        int `yaml:"frame_depth"`
	NotificationDepth int `yaml:"notification_depth"`
}

// RelayConfig contains notification consumers
type RelayConfig struct {
	WebsocketAddr  string     `yaml:"websocket_addr"` // empty disables the preview server
	PreviewQuality int        `yaml:"preview_quality"`
	MQTT           MQTTConfig     `yaml:"mqtt"`
	Telegram       TelegramConfig `yaml:"telegram"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker   string `yaml:"broker"` // empty disables MQTT
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

// TelegramConfig contains chat alert and command settings
type TelegramConfig struct {
	Token    string        `yaml:"token"` // empty disables Telegram
	ChatID   int64         `yaml:"chat_id"`
	Cooldown time.Duration `yaml:"cooldown"`
	Commands bool          `yaml:"commands"` // accept /arm, /disarm, /sensitivity from the chat
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // tint, text, json
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Backend: camera.BackendPiCamera,
			Width:   640,
			Height:  480,
			FPS:     20,
		},
		Detection: DetectionConfig{
			Interval:            500 * time.Millisecond,
			BrightnessThreshold: 50,
			ReadyCount:          3,
			DiffThreshold:       25,
			MinArea:             500,
			BlurSize:            21,
			DilateIterations:    2,
		},
		Recording: RecordingConfig{
			Duration:  5 * time.Second,
			Width:     640,
			Height:    480,
			FPS:       20,
			TargetFPS: 20,
			Overlay:   true,
		},
		Storage: StorageConfig{
			ClipsDir:  "recorded_clips",
			StreamDir: "stream_clips",
			ImagesDir: "recorded_images",
			Database:  "data/survcam.db",
		},
		Transcode: TranscodeConfig{
			FFmpeg: "ffmpeg",
			CRF:    23,
			Queue:  16,
		},
		Retention: RetentionConfig{
			Days:     7,
			Schedule: "@every 24h",
		},
		State: StateConfig{
			Backend: state.BackendSQLite,
			Path:    state.DefaultFileName,
		},
		Handoff: HandoffConfig{
			FrameDepth:        10,
			NotificationDepth: 5,
		},
		Relay: RelayConfig{
			PreviewQuality: 70,
			MQTT: MQTTConfig{
				Topic: "survcam/clips",
				QoS:   1,
			},
			Telegram: TelegramConfig{
				Cooldown: 30 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "tint",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads and parses a YAML configuration file over the defaults. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if cfg.Transcode.Profile == "" {
		cfg.Transcode.Profile = transcode.ProfileGeneric
		if cfg.Camera.Backend == camera.BackendPiCamera {
			cfg.Transcode.Profile = transcode.ProfilePiCamera
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the recorder cannot run with.
func Validate(cfg *Config) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch cfg.Camera.Backend {
	case camera.BackendUSB, camera.BackendPiCamera:
	default:
		add("camera.backend %q must be %s or %s", cfg.Camera.Backend, camera.BackendUSB, camera.BackendPiCamera)
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 || cfg.Camera.FPS <= 0 {
		add("camera width, height and fps must be positive")
	}
	switch cfg.Camera.PixelFormat {
	case "", camera.PixelFormatMJPEG, camera.PixelFormatYUV420:
	default:
		add("camera.pixel_format %q must be %s or %s", cfg.Camera.PixelFormat, camera.PixelFormatMJPEG, camera.PixelFormatYUV420)
	}

	if cfg.Detection.Interval <= 0 {
		add("detection.interval must be positive")
	}
	if cfg.Detection.BrightnessThreshold < 0 || cfg.Detection.BrightnessThreshold > 255 {
		add("detection.brightness_threshold must be within 0-255")
	}
	if cfg.Detection.DiffThreshold < 0 || cfg.Detection.DiffThreshold > 255 {
		add("detection.diff_threshold must be within 0-255")
	}
	if cfg.Detection.ReadyCount < 0 || cfg.Detection.MinArea < 0 || cfg.Detection.DilateIterations < 0 {
		add("detection counts must not be negative")
	}
	if cfg.Detection.BlurSize < 1 || cfg.Detection.BlurSize%2 == 0 {
		add("detection.blur_size must be a positive odd number")
	}

	if cfg.Recording.Duration <= 0 {
		add("recording.duration must be positive")
	}
	if cfg.Recording.Width <= 0 || cfg.Recording.Height <= 0 || cfg.Recording.FPS <= 0 || cfg.Recording.TargetFPS <= 0 {
		add("recording width, height, fps and target_fps must be positive")
	}

	if cfg.Storage.ClipsDir == "" || cfg.Storage.StreamDir == "" || cfg.Storage.ImagesDir == "" {
		add("storage directories must be set")
	}
	if cfg.Storage.Database == "" {
		add("storage.database must be set")
	}

	switch cfg.Transcode.Profile {
	case transcode.ProfileGeneric, transcode.ProfilePiCamera:
	default:
		add("transcode.profile %q must be %s or %s", cfg.Transcode.Profile, transcode.ProfileGeneric, transcode.ProfilePiCamera)
	}

	if cfg.Retention.Days <= 0 {
		add("retention.days must be positive")
	}

	switch cfg.State.Backend {
	case state.BackendSQLite:
	case state.BackendFile:
		if cfg.State.Path == "" {
			add("state.path must be set for the file backend")
		}
	default:
		add("state.backend %q must be %s or %s", cfg.State.Backend, state.BackendSQLite, state.BackendFile)
	}

	if cfg.Handoff.FrameDepth <= 0 || cfg.Handoff.NotificationDepth <= 0 {
		add("handoff depths must be positive")
	}
	if cfg.Relay.MQTT.QoS > 2 {
		add("relay.mqtt.qos must be 0, 1 or 2")
	}
	if cfg.Relay.Telegram.Token != "" && cfg.Relay.Telegram.ChatID == 0 {
		add("relay.telegram.chat_id must be set when a token is configured")
	}
	if cfg.Relay.Telegram.Cooldown < 0 {
		add("relay.telegram.cooldown must not be negative")
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "tint", "text", "json":
	default:
		add("log.format %q must be tint, text or json", cfg.Log.Format)
	}

	if cfg.ShutdownTimeout <= 0 {
		add("shutdown_timeout must be positive")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
