package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 3*time.Minute, cfg.Server.Timeout)
	assert.Equal(t, BackendGemini, cfg.Generator.Backend)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.Generator.Model)
	assert.True(t, cfg.Generator.Compress)
	assert.Equal(t, 75, cfg.Generator.CompressQuality)
	assert.Equal(t, 1.0, cfg.Capture.ExportScale)
	assert.Equal(t, 10.0, cfg.Capture.Padding)
	assert.Equal(t, "light", cfg.Board.Theme)
	assert.False(t, cfg.Events.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Events.Brokers)
	assert.Zero(t, cfg.Generator.Seed)
	assert.Zero(t, cfg.Generator.MaxInputEdge)
	assert.False(t, cfg.Storage.UsesGCS())
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: "9090"
  timeout: 45s
generator:
  backend: http
  endpoint: http://generator.internal/api/generate
  timeout: 30s
  seed: 42
  max_input_edge: 1024
  headers:
    X-Api-Key: secret
capture:
  export_scale: 2
board:
  theme: dark
storage:
  dir: gs://banana-bucket/exports
events:
  enabled: true
  brokers: ["kafka:9092"]
  topic: sketches
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.Timeout)
	assert.Equal(t, BackendHTTP, cfg.Generator.Backend)
	assert.Equal(t, "http://generator.internal/api/generate", cfg.Generator.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, int64(42), cfg.Generator.Seed)
	assert.Equal(t, 1024, cfg.Generator.MaxInputEdge)
	// viper はキーを小文字にする
	assert.Equal(t, map[string]string{"x-api-key": "secret"}, cfg.Generator.Headers)
	assert.True(t, cfg.Storage.UsesGCS())
	assert.Equal(t, 2.0, cfg.Capture.ExportScale)
	assert.Equal(t, "dark", cfg.Board.Theme)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Events.Brokers)
	assert.Equal(t, "sketches", cfg.Events.Topic)
}

func TestLoad_Env(t *testing.T) {
	t.Run("接頭辞付きの環境変数で上書きできる", func(t *testing.T) {
		t.Setenv("EXCALI_BANANA_SERVER_PORT", "7070")
		t.Setenv("EXCALI_BANANA_GENERATOR_MODEL", "gemini-3-pro-image-preview")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "7070", cfg.Server.Port)
		assert.Equal(t, "gemini-3-pro-image-preview", cfg.Generator.Model)
	})

	t.Run("GEMINI_API_KEY も使える", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "from-gemini-env")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "from-gemini-env", cfg.Generator.APIKey)
	})

	t.Run("接頭辞付きのキーが優先される", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "from-gemini-env")
		t.Setenv("EXCALI_BANANA_GENERATOR_API_KEY", "from-prefixed-env")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "from-prefixed-env", cfg.Generator.APIKey)
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "正常", mutate: func(c *Config) {}},
		{name: "未知のバックエンド", mutate: func(c *Config) { c.Generator.Backend = "dalle" }, wantErr: "generator.backend"},
		{name: "http でエンドポイントなし", mutate: func(c *Config) { c.Generator.Backend = BackendHTTP; c.Generator.Endpoint = "" }, wantErr: "generator.endpoint"},
		{name: "倍率が0", mutate: func(c *Config) { c.Capture.ExportScale = 0 }, wantErr: "export_scale"},
		{name: "Exporter 無効で描画面なし", mutate: func(c *Config) { c.Capture.DisableExporter = true }, wantErr: "surface_url"},
		{name: "未知のテーマ", mutate: func(c *Config) { c.Board.Theme = "sepia" }, wantErr: "board.theme"},
		{name: "長辺の上限が負", mutate: func(c *Config) { c.Generator.MaxInputEdge = -1 }, wantErr: "max_input_edge"},
		{name: "s3 の保存先", mutate: func(c *Config) { c.Storage.Dir = "s3://bucket/out" }, wantErr: "storage.dir"},
		{name: "ブローカーなし", mutate: func(c *Config) { c.Events.Enabled = true; c.Events.Brokers = nil }, wantErr: "events.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
