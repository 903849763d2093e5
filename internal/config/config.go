package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultSubject = "Modelo 347 - Declaración Anual de Operaciones con Terceras Personas"
	DefaultBody    = "Estimado/a cliente,\n\n" +
		"Adjunto encontrará la carta informativa relativa a la declaración anual " +
		"de operaciones con terceras personas (Modelo 347) correspondiente al " +
		"ejercicio fiscal.\n\n" +
		"Por favor, revise detenidamente la información contenida y no dude en " +
		"ponerse en contacto con nosotros si tiene alguna consulta o discrepancia.\n\n" +
		"Atentamente,\nNATU Laboratories"
)

type Config struct {
	HTTPHost   string `toml:"http_host"`
	HTTPPort   int    `toml:"http_port"`
	DBPath     string `toml:"db_path"`
	AuthSecret string `toml:"auth_secret"`
	LockPath   string `toml:"lock_path"`
	LogFormat  string `toml:"log_format"`
	LogLevel   string `toml:"log_level"`

	SMTP    SMTP    `toml:"smtp"`
	Letters Letters `toml:"letters"`
	Sandbox Sandbox `toml:"sandbox"`
}

type SMTP struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Sender     string `toml:"sender"`
	Password   string `toml:"password"`
	RequireTLS bool   `toml:"require_tls"`
	// Timeout is a Go duration string such as "30s".
	Timeout string `toml:"timeout"`
}

type Letters struct {
	SplitMarker     string `toml:"split_marker"`
	Subject         string `toml:"subject"`
	Body            string `toml:"body"`
	ThrottleSeconds int    `toml:"throttle_seconds"`
}

type Sandbox struct {
	Port        int    `toml:"port"`
	AuthEnabled bool   `toml:"auth_enabled"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
}

func Default() Config {
	return Config{
		HTTPHost:  "127.0.0.1",
		HTTPPort:  3025,
		LockPath:  defaultLockPath(),
		LogFormat: "text",
		LogLevel:  "info",
		SMTP: SMTP{
			Host:       "smtp.office365.com",
			Port:       587,
			RequireTLS: true,
			Timeout:    "30s",
		},
		Letters: Letters{
			SplitMarker:     "B73798340",
			Subject:         DefaultSubject,
			Body:            DefaultBody,
			ThrottleSeconds: 2,
		},
		Sandbox: Sandbox{
			Port:     2025,
			Username: "sandbox",
			Password: "sandbox",
		},
	}
}

// Load starts from the defaults, applies the TOML file at path when it
// exists and then the environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("open config: %w", err)
		default:
			defer file.Close()
			if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPHost = getEnvString("HTTP_HOST", c.HTTPHost)
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.DBPath = getEnvString("DB_PATH", c.DBPath)
	c.AuthSecret = getEnvString("AUTH_SECRET", c.AuthSecret)
	c.LockPath = getEnvString("LOCK_PATH", c.LockPath)
	c.LogFormat = getEnvString("LOG_FORMAT", c.LogFormat)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)

	c.SMTP.Host = getEnvString("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Sender = getEnvString("SMTP_SENDER", c.SMTP.Sender)
	c.SMTP.Password = getEnvString("SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.RequireTLS = getEnvBool("SMTP_REQUIRE_TLS", c.SMTP.RequireTLS)
	c.SMTP.Timeout = getEnvString("SMTP_TIMEOUT", c.SMTP.Timeout)

	c.Letters.SplitMarker = getEnvString("SPLIT_MARKER", c.Letters.SplitMarker)
	c.Letters.Subject = getEnvString("EMAIL_SUBJECT", c.Letters.Subject)
	c.Letters.Body = getEnvString("EMAIL_BODY", c.Letters.Body)
	c.Letters.ThrottleSeconds = getEnvInt("THROTTLE_SECONDS", c.Letters.ThrottleSeconds)

	c.Sandbox.Port = getEnvInt("SANDBOX_SMTP_PORT", c.Sandbox.Port)
	c.Sandbox.AuthEnabled = getEnvBool("SANDBOX_AUTH_ENABLED", c.Sandbox.AuthEnabled)
	c.Sandbox.Username = getEnvString("SANDBOX_USERNAME", c.Sandbox.Username)
	c.Sandbox.Password = getEnvString("SANDBOX_PASSWORD", c.Sandbox.Password)
}

// Validate checks ranges only. Credentials are checked by ValidateForSending.
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"http_port":    c.HTTPPort,
		"smtp.port":    c.SMTP.Port,
		"sandbox.port": c.Sandbox.Port,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	if strings.TrimSpace(c.SMTP.Host) == "" {
		return errors.New("smtp.host must be set")
	}
	if _, err := c.SMTPTimeout(); err != nil {
		return err
	}
	if c.Letters.ThrottleSeconds < 0 {
		return errors.New("letters.throttle_seconds must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// ValidateForSending checks what a real dispatch needs on top of Validate.
func (c *Config) ValidateForSending() error {
	if c.SMTP.Sender == "" {
		return errors.New("smtp.sender is required. Set SMTP_SENDER")
	}
	if c.SMTP.Password == "" {
		return errors.New("smtp.password is required. Set SMTP_PASSWORD")
	}
	return nil
}

// SMTPTimeout accepts a duration string or a bare number of seconds.
func (c *Config) SMTPTimeout() (time.Duration, error) {
	value := strings.TrimSpace(c.SMTP.Timeout)
	if seconds, err := strconv.Atoi(value); err == nil {
		value = strconv.Itoa(seconds) + "s"
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("smtp.timeout must be a positive duration, got %q", c.SMTP.Timeout)
	}
	return d, nil
}

func (c *Config) Throttle() time.Duration {
	return time.Duration(c.Letters.ThrottleSeconds) * time.Second
}

func defaultLockPath() string {
	return os.TempDir() + string(os.PathSeparator) + "envios-masivos.lock"
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
