package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"relaybot/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	IPC    IPCConfig    `yaml:"ipc"`
	Web    WebConfig    `yaml:"web"`
	Slack  SlackConfig  `yaml:"slack"`
	LLM    LLMConfig    `yaml:"llm"`
	Reply  ReplyConfig  `yaml:"reply"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// IPCConfig holds settings for the loopback channel between web and worker.
type IPCConfig struct {
	ListenAddr       string        `yaml:"listen_addr"` // worker bind address
	Endpoint         string        `yaml:"endpoint"`    // web dial address
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"` // 0 = no deadline
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// WebConfig holds the webhook HTTP server settings.
type WebConfig struct {
	Addr            string          `yaml:"addr"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	Enabled           bool     `yaml:"enabled"`
	RequestsPerMinute int      `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty"` // X-Forwarded-For honoured only from these
}

// SlackConfig holds Slack credentials and API settings.
type SlackConfig struct {
	BotToken         string `yaml:"bot_token"`
	SigningSecret    string `yaml:"signing_secret"`
	APIURL           string `yaml:"api_url,omitempty"` // override for tests and proxies
	MaxDownloadBytes int64  `yaml:"max_download_bytes"`
}

// PoolConfig holds HTTP connection pool settings for the completion client.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// BreakerConfig holds circuit breaker settings for stream initiation.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LLMConfig holds the OpenAI-compatible completion endpoint settings.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// ReplyConfig shapes how the worker builds and streams a reply.
type ReplyConfig struct {
	SystemPrompt string        `yaml:"system_prompt"`
	Placeholder  string        `yaml:"placeholder"`
	ErrorNotice  string        `yaml:"error_notice"`
	UpdatePeriod time.Duration `yaml:"update_period"`
	MaxHistory   int           `yaml:"max_history"`
	ImageDetail  string        `yaml:"image_detail"` // auto, low, high
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		IPC: IPCConfig{
			ListenAddr:       "0.0.0.0:4000",
			Endpoint:         "127.0.0.1:4000",
			DialTimeout:      5 * time.Second,
			HandshakeTimeout: 5 * time.Second,
			MaxMessageBytes:  4 * 1024 * 1024,
			ShutdownTimeout:  30 * time.Second,
		},
		Web: WebConfig{
			Addr:            "0.0.0.0:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             50,
			},
		},
		Slack: SlackConfig{
			MaxDownloadBytes: 20 * 1024 * 1024,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4-vision-preview",
			MaxTokens:   2048,
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Reply: ReplyConfig{
			SystemPrompt: "You are a helpful assistant replying inside a Slack thread. Be concise.",
			Placeholder:  "…",
			ErrorNotice:  "Sorry, I could not generate a reply.",
			UpdatePeriod: time.Second,
			MaxHistory:   50,
			ImageDetail:  "auto",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve config path: %w", domain.ErrConfigLoad, err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config: %w", domain.ErrConfigLoad, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("%w: read config: %w", domain.ErrConfigLoad, err)
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("RELAYBOT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps RELAYBOT_* env vars to config fields. The plain
// SLACK_CLIENT_TOKEN, SLACK_SIGNING_SECRET and OPENAI_API_KEY variables are
// honoured as fallbacks for the credential fields.
func ApplyEnvOverrides(cfg *Config) {
	setString(&cfg.IPC.ListenAddr, "RELAYBOT_IPC_LISTEN_ADDR")
	setString(&cfg.IPC.Endpoint, "RELAYBOT_IPC_ENDPOINT")
	setDuration(&cfg.IPC.ShutdownTimeout, "RELAYBOT_IPC_SHUTDOWN_TIMEOUT")
	setString(&cfg.Web.Addr, "RELAYBOT_WEB_ADDR")
	setString(&cfg.Slack.APIURL, "RELAYBOT_SLACK_API_URL")
	setString(&cfg.LLM.BaseURL, "RELAYBOT_LLM_BASE_URL")
	setString(&cfg.LLM.Model, "RELAYBOT_LLM_MODEL")
	setDuration(&cfg.Reply.UpdatePeriod, "RELAYBOT_REPLY_UPDATE_PERIOD")
	setString(&cfg.Reply.SystemPrompt, "RELAYBOT_REPLY_SYSTEM_PROMPT")
	setString(&cfg.Logger.Level, "RELAYBOT_LOGGER_LEVEL")
	setString(&cfg.Logger.Format, "RELAYBOT_LOGGER_FORMAT")
	setString(&cfg.Tracer.Exporter, "RELAYBOT_TRACER_EXPORTER")
	if v := os.Getenv("RELAYBOT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("RELAYBOT_LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}

	setString(&cfg.Slack.BotToken, "RELAYBOT_SLACK_BOT_TOKEN", "SLACK_CLIENT_TOKEN")
	setString(&cfg.Slack.SigningSecret, "RELAYBOT_SLACK_SIGNING_SECRET", "SLACK_SIGNING_SECRET")
	setString(&cfg.LLM.APIKey, "RELAYBOT_LLM_API_KEY", "OPENAI_API_KEY")
}

// setString assigns the first non-empty variable among keys to dst.
func setString(dst *string, keys ...string) {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			*dst = v
			return
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// decryptSecrets finds "enc:..." values in credential fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name  string
		field *string
	}{
		{"slack.bot_token", &cfg.Slack.BotToken},
		{"slack.signing_secret", &cfg.Slack.SigningSecret},
		{"llm.api_key", &cfg.LLM.APIKey},
	}
	for _, s := range secrets {
		if !strings.HasPrefix(*s.field, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.field, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %w", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %w", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat config: %w", domain.ErrConfigLoad, err)
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return fmt.Errorf("%w: config file %s has insecure permissions %o (want 0600 or 0644)",
			domain.ErrConfigLoad, path, mode)
	}
	return nil
}
