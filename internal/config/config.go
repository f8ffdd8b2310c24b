package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Stream  StreamConfig  `yaml:"stream"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Admin   AdminConfig   `yaml:"admin"`
	Journal JournalConfig `yaml:"journal"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

// StreamConfig はMJPEG配信ポートの設定
type StreamConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定 (0で無効)
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // リクエスト読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 1回の書き込みタイムアウト

	MaxParts int `yaml:"max_parts"` // 1リクエストで送るJPEGの上限
}

// IngestConfig は取り込みパイプラインの設定
type IngestConfig struct {
	InboxDir   string        `yaml:"inbox_dir"`  // 撮影プロセスが画像を置くディレクトリ
	StoreDir   string        `yaml:"store_dir"`  // 取り込んだ画像の保存先
	Interval   time.Duration `yaml:"interval"`   // 走査間隔
	Extensions []string      `yaml:"extensions"` // 取り込み対象の拡張子
}

// AdminConfig は管理用HTTP APIの設定
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// JournalConfig は取り込み履歴の設定
type JournalConfig struct {
	Path string `yaml:"path"` // 空なら無効
}

// NotifyConfig はMQTT通知の設定
type NotifyConfig struct {
	Broker   string `yaml:"broker"` // host:port、空なら無効
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // text / json
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			Host:         "0.0.0.0",
			Port:         1111,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			MaxParts:     11,
		},
		Ingest: IngestConfig{
			InboxDir:   "upload",
			StoreDir:   "capture",
			Interval:   1 * time.Second,
			Extensions: []string{".jpg"},
		},
		Admin: AdminConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8080,
		},
		Notify: NotifyConfig{
			Topic:    "utsushie/images",
			ClientID: "utsushie",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → YAMLファイル (path が空でなければ) → 環境変数 の順に上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
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
	c.Stream.Host = getEnvOrDefault("UTSUSHIE_STREAM_HOST", c.Stream.Host)
	c.Stream.Port = getEnvAsIntOrDefault("UTSUSHIE_STREAM_PORT", c.Stream.Port)
	c.Ingest.InboxDir = getEnvOrDefault("UTSUSHIE_INBOX_DIR", c.Ingest.InboxDir)
	c.Ingest.StoreDir = getEnvOrDefault("UTSUSHIE_STORE_DIR", c.Ingest.StoreDir)
	c.Ingest.Interval = getEnvAsDurationOrDefault("UTSUSHIE_SCAN_INTERVAL", c.Ingest.Interval)
	c.Admin.Port = getEnvAsIntOrDefault("UTSUSHIE_ADMIN_PORT", c.Admin.Port)
	c.Journal.Path = getEnvOrDefault("UTSUSHIE_JOURNAL_PATH", c.Journal.Path)
	c.Notify.Broker = getEnvOrDefault("UTSUSHIE_MQTT_BROKER", c.Notify.Broker)
	c.Log.Level = getEnvOrDefault("UTSUSHIE_LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	if c.Stream.Port < 1 || c.Stream.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なストリームポート番号: %d", c.Stream.Port))
	}
	if c.Stream.ReadTimeout < 0 || c.Stream.WriteTimeout < 0 {
		errs = append(errs, errors.New("タイムアウトに負の値は指定できません"))
	}
	if c.Stream.MaxParts <= 0 {
		errs = append(errs, fmt.Errorf("無効なパート数上限: %d", c.Stream.MaxParts))
	}

	if c.Ingest.InboxDir == "" {
		errs = append(errs, errors.New("inboxディレクトリが設定されていません"))
	}
	if c.Ingest.StoreDir == "" {
		errs = append(errs, errors.New("ストアディレクトリが設定されていません"))
	}
	if c.Ingest.Interval <= 0 {
		errs = append(errs, fmt.Errorf("無効な走査間隔: %s", c.Ingest.Interval))
	}
	for _, ext := range c.Ingest.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("拡張子は '.' で始めてください: %q", ext))
		}
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		errs = append(errs, fmt.Errorf("無効な管理APIポート番号: %d", c.Admin.Port))
	}

	if c.Notify.Broker != "" && c.Notify.Topic == "" {
		errs = append(errs, errors.New("MQTTトピックが設定されていません"))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("無効なログ形式: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// CheckDirectories はinboxとストアが存在するディレクトリであることを確認する
func (c *Config) CheckDirectories() error {
	for _, dir := range []string{c.Ingest.InboxDir, c.Ingest.StoreDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("ディレクトリが利用できません: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("ディレクトリではありません: %s", dir)
		}
	}
	return nil
}

// StreamAddress はストリームサーバーのリッスンアドレスを返す
func (c *Config) StreamAddress() string {
	return fmt.Sprintf("%s:%d", c.Stream.Host, c.Stream.Port)
}

// AdminAddress は管理APIのリッスンアドレスを返す
func (c *Config) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}

// SlogLevel はログレベルをslog.Levelに変換する
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("無効なログレベル: %q", l.Level)
	}
	return level, nil
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault は環境変数を時間として取得する ("500ms", "2s" など)
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
