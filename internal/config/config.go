package config

import (
	"path/filepath"
	"time"
)

const (
	DefaultUploadRoot = "./uploads" // Корневая директория сессий
	TempDirName       = "_tmp"      // Каталог для промежуточного хранения загрузок
	ReservedPrefix    = "_"         // Каталоги с этим префиксом не являются сессиями

	MaxFiles     = 10        // Максимальное количество файлов в одной загрузке
	MaxFileSize  = 25 << 20  // Максимальный объем одного файла: 25 MB
	MaxTotalSize = 100 << 20 // Максимальный объем всей загрузки: 100 MB

	CleanupIntervalMS = 5 * 60 * 1000  // Период запуска очистки: 5 минут
	SessionLifetimeMS = 60 * 60 * 1000 // Время жизни сессии: 1 час
)

const (
	// MaxConcurrentUploads ограничивает количество одновременно обрабатываемых загрузок и архивов
	MaxConcurrentUploads = 10
	// MaxConnectionsPerIP устанавливает ограничение на максимальное количество одновременных соединений
	// с API от одного IP-адреса
	MaxConnectionsPerIP = 10
	// MaxUploadBytesPerIP определяет максимальный объем данных, который может быть загружен на сервер
	// с одного IP-адреса до очередного сброса статистики
	MaxUploadBytesPerIP = 1 << 30 // 1 GB
	// RequestsPerSecond ограничивает количество запросов, которые могут быть отправлены с одного IP-адреса в секунду
	RequestsPerSecond = 20
	// StatsResetInterval период сброса статистики по IP
	StatsResetInterval = 24 * time.Hour
)

const (
	DefaultGenerationBaseURL = "https://api.midjourneyapi.io/v2"
	GenerationTimeout        = 60 * time.Second
	GenerateRequestsPerMin   = 30
)

// Config конфигурация сервиса
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Limits     LimitsConfig     `koanf:"limits"`
	Redis      RedisConfig      `koanf:"redis"`
	Generation GenerationConfig `koanf:"generation"`
	Logging    LoggingConfig    `koanf:"logging"`
}

type ServerConfig struct {
	Port      int    `koanf:"port" validate:"min=1,max=65535"`
	PublicDir string `koanf:"public_dir"`
	// Брать IP клиента из X-Forwarded-For / X-Real-IP; только за доверенным прокси
	TrustProxy bool `koanf:"trust_proxy"`
}

type StorageConfig struct {
	UploadRoot        string `koanf:"upload_root" validate:"required"`
	TempDir           string `koanf:"temp_dir"`
	CleanupIntervalMS int64  `koanf:"cleanup_interval_ms" validate:"min=1"`
	SessionLifetimeMS int64  `koanf:"session_lifetime_ms" validate:"min=1"`
}

type LimitsConfig struct {
	MaxFiles             int   `koanf:"max_files" validate:"min=1"`
	MaxFileSize          int64 `koanf:"max_file_size" validate:"min=1"`
	MaxTotalSize         int64 `koanf:"max_total_size" validate:"min=1"`
	MaxConcurrentUploads int64 `koanf:"max_concurrent_uploads" validate:"min=1"`
	RequestsPerSecond    int   `koanf:"requests_per_second" validate:"min=0"`
	MaxConnectionsPerIP  int64 `koanf:"max_connections_per_ip" validate:"min=0"`
	MaxUploadBytesPerIP  int64 `koanf:"max_upload_bytes_per_ip" validate:"min=0"`
}

// RedisConfig пустой Addr означает хранение метаданных в памяти
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"min=0"`
}

type GenerationConfig struct {
	APIKey         string   `koanf:"api_key"`
	BaseURL        string   `koanf:"base_url" validate:"required,url"`
	RequestsPerMin int      `koanf:"requests_per_min" validate:"min=1"`
	UpstreamRPS    int      `koanf:"upstream_rps" validate:"min=1"`
	TimeoutSeconds int      `koanf:"timeout_seconds" validate:"min=1"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default возвращает конфигурацию со значениями по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      3000,
			PublicDir: "./public",
		},
		Storage: StorageConfig{
			UploadRoot:        DefaultUploadRoot,
			CleanupIntervalMS: CleanupIntervalMS,
			SessionLifetimeMS: SessionLifetimeMS,
		},
		Limits: LimitsConfig{
			MaxFiles:             MaxFiles,
			MaxFileSize:          MaxFileSize,
			MaxTotalSize:         MaxTotalSize,
			MaxConcurrentUploads: MaxConcurrentUploads,
			RequestsPerSecond:    RequestsPerSecond,
			MaxConnectionsPerIP:  MaxConnectionsPerIP,
			MaxUploadBytesPerIP:  MaxUploadBytesPerIP,
		},
		Generation: GenerationConfig{
			BaseURL:        DefaultGenerationBaseURL,
			RequestsPerMin: GenerateRequestsPerMin,
			UpstreamRPS:    2,
			TimeoutSeconds: int(GenerationTimeout / time.Second),
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// TempDirPath каталог промежуточного хранения; по умолчанию {UploadRoot}/_tmp
func (c StorageConfig) TempDirPath() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return filepath.Join(c.UploadRoot, TempDirName)
}

func (c StorageConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMS) * time.Millisecond
}

func (c StorageConfig) SessionLifetime() time.Duration {
	return time.Duration(c.SessionLifetimeMS) * time.Millisecond
}

func (c GenerationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
