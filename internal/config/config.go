// Package config はアプリケーション全体の設定を読み込みます。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix は環境変数による上書きの接頭辞です。
const EnvPrefix = "EXCALI_BANANA"

const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Board     BoardConfig     `mapstructure:"board"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Events    EventsConfig    `mapstructure:"events"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host        string        `mapstructure:"host"`
	Port        string        `mapstructure:"port"`
	Mode        string        `mapstructure:"mode"`
	Timeout     time.Duration `mapstructure:"timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// Addr は listen するアドレスです。
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

type GeneratorConfig struct {
	// Backend は "http" (リモートサービス) または "gemini" (直接呼び出し) です。
	Backend         string        `mapstructure:"backend"`
	Endpoint        string        `mapstructure:"endpoint"`
	Timeout         time.Duration `mapstructure:"timeout"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	AspectRatio     string        `mapstructure:"aspect_ratio"`
	Compress        bool          `mapstructure:"compress"`
	CompressQuality int           `mapstructure:"compress_quality"`
	// Seed は 0 以外なら生成のシードを固定します。
	Seed int64 `mapstructure:"seed"`
	// MaxInputEdge は送信するスケッチの長辺の上限です。0 なら既定値を使います。
	MaxInputEdge int `mapstructure:"max_input_edge"`
	// Headers は http バックエンドへのリクエストに付けるヘッダーです。
	Headers map[string]string `mapstructure:"headers"`
}

type CaptureConfig struct {
	ExportScale float64 `mapstructure:"export_scale"`
	Padding     float64 `mapstructure:"padding"`
	// SurfaceURL が設定されていれば、描画面のスナップショットをここから取得します。
	SurfaceURL string `mapstructure:"surface_url"`
	// DisableExporter は第一の方式を無効にし、描画面からの取得だけを使います。
	DisableExporter bool `mapstructure:"disable_exporter"`
}

type BoardConfig struct {
	Theme string `mapstructure:"theme"`
}

type StorageConfig struct {
	// Dir はローカルディレクトリか gs://bucket/prefix です。
	Dir string `mapstructure:"dir"`
	// GCS はシーンの読み込みと出力先に gs:// を使えるようにします。Dir が gs:// なら常に有効です。
	GCS bool `mapstructure:"gcs"`
}

// UsesGCS は GCS クライアントが必要かを返します。
func (s StorageConfig) UsesGCS() bool {
	return s.GCS || strings.HasPrefix(s.Dir, "gs://")
}

type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timeout", 3*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("generator.backend", BackendGemini)
	v.SetDefault("generator.endpoint", "http://localhost:8080/api/generate")
	v.SetDefault("generator.timeout", 2*time.Minute)
	v.SetDefault("generator.api_key", "")
	v.SetDefault("generator.model", "gemini-2.5-flash-image")
	v.SetDefault("generator.aspect_ratio", "")
	v.SetDefault("generator.compress", true)
	v.SetDefault("generator.compress_quality", 75)
	v.SetDefault("generator.seed", 0)
	v.SetDefault("generator.max_input_edge", 0)

	v.SetDefault("capture.export_scale", 1.0)
	v.SetDefault("capture.padding", 10.0)
	v.SetDefault("capture.surface_url", "")
	v.SetDefault("capture.disable_exporter", false)

	v.SetDefault("board.theme", "light")

	v.SetDefault("storage.dir", "./storage")
	v.SetDefault("storage.gcs", false)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "excali-banana.generations")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig は config.yaml を探して読み込みます。ファイルが無くても既定値と環境変数で動作します。
// paths を省略した場合は ./config と . を探します。
func LoadConfig(paths ...string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if len(paths) == 0 {
		paths = []string{"./config", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("generator.api_key", EnvPrefix+"_GENERATOR_API_KEY", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
	}
	return v, nil
}

// ParseConfig は viper の内容を Config に変換して検証します。
func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load は LoadConfig と ParseConfig をまとめて行います。
func Load(paths ...string) (*Config, error) {
	v, err := LoadConfig(paths...)
	if err != nil {
		return nil, err
	}
	return ParseConfig(v)
}

// Validate は組み合わせとして成立しない設定を検出します。
func (c *Config) Validate() error {
	var errs []error
	switch c.Generator.Backend {
	case BackendHTTP:
		if c.Generator.Endpoint == "" {
			errs = append(errs, errors.New("generator.endpoint is required for the http backend"))
		}
	case BackendGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown generator.backend %q", c.Generator.Backend))
	}
	if c.Generator.MaxInputEdge < 0 {
		errs = append(errs, errors.New("generator.max_input_edge must not be negative"))
	}
	if strings.HasPrefix(c.Storage.Dir, "s3://") {
		errs = append(errs, errors.New("storage.dir does not support s3://"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Capture.ExportScale <= 0 {
		errs = append(errs, errors.New("capture.export_scale must be positive"))
	}
	if c.Capture.DisableExporter && c.Capture.SurfaceURL == "" {
		errs = append(errs, errors.New("capture.surface_url is required when the exporter is disabled"))
	}
	if c.Board.Theme != "light" && c.Board.Theme != "dark" {
		errs = append(errs, fmt.Errorf("unknown board.theme %q", c.Board.Theme))
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		errs = append(errs, errors.New("events.brokers is required when events are enabled"))
	}
	return errors.Join(errs...)
}
