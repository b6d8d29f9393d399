package core

import (
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug    bool
		TestMode bool
		Env      string // DEV (default), TEST, QA, PROD
		AppName  string
		Build    string
		WorkDir  string

		SecretKey        []byte
		DefaultFromEmail string
		FrontendBaseURL  string
		RollbarToken     string

		API      APIConfig
		Session  SessionConfig
		OTP      OTPConfig
		Server   ServerConfig
		Database DatabaseConfig
		Email    EmailConfig
	}

	// APIConfig configures the REST client side: where the backend lives
	// and how long we wait for it.
	APIConfig struct {
		BaseURL string
		Timeout time.Duration
	}

	SessionConfig struct {
		FilePath string
	}

	OTPConfig struct {
		ResendCooldown time.Duration
		Expiry         time.Duration
		MaxAttempts    int
	}

	ServerConfig struct {
		Host                      string
		Addr                      string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Path string // sqlite file; ":memory:" for tests
	}

	EmailConfig struct {
		SendgridAPIKey string
		SMTPHost       string
		SMTPPort       int
		SMTPUsername   string
		SMTPPassword   string
	}
)

// NewConfig loads configuration from config/.env.<env> (if present) and the
// environment, with sane defaults for local development.
func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Elimu")
	conf.SetDefault("build", "dev")
	conf.SetDefault("secretKey", "x3q5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("apiBaseURL", "http://localhost:8000")
	conf.SetDefault("apiTimeout", 15*time.Second)
	conf.SetDefault("sessionFilePath", defaultSessionPath())
	conf.SetDefault("otpResendCooldown", 120*time.Second)
	conf.SetDefault("otpExpiry", 10*time.Minute)
	conf.SetDefault("otpMaxAttempts", 5)
	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverAddr", ":8000")
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	conf.SetDefault("shutdownTimeout", 5*time.Second)
	conf.SetDefault("databasePath", "elimu.db")

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd, _ := os.Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Debug:            conf.GetBool("debug"),
		TestMode:         conf.GetBool("testMode"),
		Env:              env,
		AppName:          conf.GetString("appName"),
		Build:            conf.GetString("build"),
		WorkDir:          wd,
		SecretKey:        []byte(conf.GetString("secretKey")),
		DefaultFromEmail: conf.GetString("defaultFromEmail"),
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		RollbarToken:     conf.GetString("rollbarToken"),
		API: APIConfig{
			BaseURL: conf.GetString("apiBaseURL"),
			Timeout: conf.GetDuration("apiTimeout"),
		},
		Session: SessionConfig{
			FilePath: conf.GetString("sessionFilePath"),
		},
		OTP: OTPConfig{
			ResendCooldown: conf.GetDuration("otpResendCooldown"),
			Expiry:         conf.GetDuration("otpExpiry"),
			MaxAttempts:    conf.GetInt("otpMaxAttempts"),
		},
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			Addr:                      conf.GetString("serverAddr"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
			ShutdownTimeout:           conf.GetDuration("shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Path: conf.GetString("databasePath"),
		},
		Email: EmailConfig{
			SendgridAPIKey: conf.GetString("sendgridApiKey"),
			SMTPHost:       conf.GetString("smtpHost"),
			SMTPPort:       conf.GetInt("smtpPort"),
			SMTPUsername:   conf.GetString("smtpUsername"),
			SMTPPassword:   conf.GetString("smtpPassword"),
		},
	}
}

// NewTestConfig returns a Config suitable for unit tests: in-memory database
// and short deltas so tests do not wait on timers.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.TestMode = true
	conf.Database.Path = ":memory:"
	conf.Server.JWTExpirationDelta = 10 * time.Minute
	return conf
}

// DefaultFrom returns the default sender address.
func (c *Config) DefaultFrom() mail.Address {
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".elimu-session.json"
	}
	return filepath.Join(home, ".elimu", "session.json")
}
