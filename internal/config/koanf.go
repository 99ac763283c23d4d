package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar переменная окружения с путем к YAML-файлу конфигурации
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths пути поиска файла конфигурации, если CONFIG_PATH не задан
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

// envMappings связывает переменные окружения с ключами конфигурации
var envMappings = map[string]string{
	"port":                    "server.port",
	"public_dir":              "server.public_dir",
	"trust_proxy":             "server.trust_proxy",
	"upload_root":             "storage.upload_root",
	"temp_dir":                "storage.temp_dir",
	"cleanup_interval_ms":     "storage.cleanup_interval_ms",
	"session_lifetime_ms":     "storage.session_lifetime_ms",
	"max_files":               "limits.max_files",
	"max_file_size":           "limits.max_file_size",
	"max_total_size":          "limits.max_total_size",
	"max_concurrent_uploads":  "limits.max_concurrent_uploads",
	"rate_limit_rps":          "limits.requests_per_second",
	"max_connections_per_ip":  "limits.max_connections_per_ip",
	"max_upload_bytes_per_ip": "limits.max_upload_bytes_per_ip",
	"redis_addr":              "redis.addr",
	"redis_password":          "redis.password",
	"redis_db":                "redis.db",
	"midjourney_api_key":      "generation.api_key",
	"midjourney_base_url":     "generation.base_url",
	"generate_rate_limit":     "generation.requests_per_min",
	"generate_upstream_rps":   "generation.upstream_rps",
	"generate_cors_origins":   "generation.allowed_origins",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
}

// Load собирает конфигурацию: значения по умолчанию, затем YAML-файл, затем переменные окружения
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitOrigins(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate проверяет ограничения на значения конфигурации
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Limits.MaxFileSize > c.Limits.MaxTotalSize {
		return fmt.Errorf("max file size %d exceeds max total size %d", c.Limits.MaxFileSize, c.Limits.MaxTotalSize)
	}
	if err := c.Storage.validateTempDir(); err != nil {
		return err
	}
	return nil
}

// validateTempDir временный каталог внутри UploadRoot должен начинаться с ReservedPrefix,
// иначе очистка примет его за сессию
func (c StorageConfig) validateTempDir() error {
	root, temp := absPath(c.UploadRoot), absPath(c.TempDirPath())
	rel, err := filepath.Rel(root, temp)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	if rel == "." || !strings.HasPrefix(first, ReservedPrefix) {
		return fmt.Errorf("temp dir %s inside upload root must start with %q", c.TempDirPath(), ReservedPrefix)
	}
	return nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitOrigins превращает список origin из переменной окружения (через запятую) в срез
func splitOrigins(k *koanf.Koanf) error {
	const key = "generation.allowed_origins"
	raw, ok := k.Get(key).(string)
	if !ok {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if err := k.Set(key, origins); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}
