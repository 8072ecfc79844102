package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"camstream/internal/camera"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Stream    StreamConfig    `yaml:"stream"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"`                            // リッスンするホスト
	Port int    `yaml:"port" validate:"min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定。ストリーミングのため WriteTimeout は0（無効）にする
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"`
}

// CameraConfig はカメラの初期化設定
type CameraConfig struct {
	Driver      string `yaml:"driver" validate:"required,oneof=v4l2 ffmpeg testpattern"`
	Device      string `yaml:"device" validate:"required"` // デバイスパス。auto で自動検出
	PixelFormat string `yaml:"pixel_format" validate:"required,oneof=jpeg grayscale rgb565 yuv422"`
	Width       int    `yaml:"width" validate:"min=1,max=4096"`
	Height      int    `yaml:"height" validate:"min=1,max=4096"`
	FPS         int    `yaml:"fps" validate:"min=1,max=120"`

	// フレームバッファ数
	BufferCount int `yaml:"buffer_count" validate:"min=1,max=32"`

	// センサーの反転
	HMirror bool `yaml:"hmirror"`
	VFlip   bool `yaml:"vflip"`

	// センサー側でJPEGを出力する場合の品質
	JPEGQuality int `yaml:"jpeg_quality" validate:"min=1,max=100"`
}

// StreamConfig はストリーム配信の設定
type StreamConfig struct {
	Path string `yaml:"path" validate:"required,startswith=/"`

	// 非JPEGフレーム変換時の品質
	EncodeQuality int `yaml:"encode_quality" validate:"min=1,max=100"`
}

// TelemetryConfig は計測値の出力設定
type TelemetryConfig struct {
	LogFrames bool       `yaml:"log_frames"`                 // フレームごとのログ出力
	LogEvery  int        `yaml:"log_every" validate:"min=0"` // N フレームごとに出力
	MQTT      MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig はMQTTへの計測値送信の設定。Broker が空なら無効
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id" validate:"required_with=Broker"`
	Topic    string `yaml:"topic" validate:"required_with=Broker"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `yaml:"pretty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Driver:      "v4l2",
			Device:      "/dev/video0",
			PixelFormat: "grayscale",
			Width:       640,
			Height:      480,
			FPS:         15,
			BufferCount: 2,
			HMirror:     true,
			JPEGQuality: 80,
		},
		Stream: StreamConfig{
			Path:          "/stream",
			EncodeQuality: 80,
		},
		Telemetry: TelemetryConfig{
			LogFrames: true,
			LogEvery:  1,
			MQTT: MQTTConfig{
				ClientID: "camstream",
				Topic:    "camstream",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load は設定を読み込む
//
// デフォルト値に path のYAMLファイル（空なら省略）を重ね、環境変数で上書きしてから検証する。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Driver = getEnvOrDefault("CAMERA_DRIVER", c.Camera.Driver)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.PixelFormat = strings.ToLower(getEnvOrDefault("CAMERA_PIXEL_FORMAT", c.Camera.PixelFormat))
	c.Telemetry.MQTT.Broker = getEnvOrDefault("MQTT_BROKER", c.Telemetry.MQTT.Broker)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s=%v (%s)", fe.Namespace(), fe.Value(), fe.Tag()))
			}
			return fmt.Errorf("無効な設定値: %s", strings.Join(msgs, ", "))
		}
		return err
	}

	if c.Camera.PixelFormat == "yuv422" && c.Camera.Width%2 != 0 {
		return fmt.Errorf("yuv422 の幅は偶数である必要があります: %d", c.Camera.Width)
	}
	switch c.Stream.Path {
	case "/", "/health", "/api/status", "/api/snapshot":
		return fmt.Errorf("ストリームのパスが他のエンドポイントと重複しています: %s", c.Stream.Path)
	}
	if c.Camera.Driver == "ffmpeg" && c.Camera.PixelFormat != "jpeg" {
		return fmt.Errorf("ffmpeg ドライバーは pixel_format=jpeg のみ対応しています: %s", c.Camera.PixelFormat)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CameraSettings はカメラドライバー向けの設定を返す
func (c *Config) CameraSettings() (camera.Config, error) {
	format, err := camera.ParsePixelFormat(c.Camera.PixelFormat)
	if err != nil {
		return camera.Config{}, err
	}

	return camera.Config{
		Driver:      c.Camera.Driver,
		Device:      c.Camera.Device,
		Format:      format,
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		FPS:         c.Camera.FPS,
		BufferCount: c.Camera.BufferCount,
		HMirror:     c.Camera.HMirror,
		VFlip:       c.Camera.VFlip,
		Quality:     c.Camera.JPEGQuality,
	}, nil
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
