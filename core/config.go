package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Port                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	BackendConfig struct {
		BaseURL string
		Token   string
		Timeout time.Duration
	}

	CacheConfig struct {
		TTL          time.Duration
		SettleDelays []time.Duration
	}

	Config struct {
		Env       string
		Build     string
		AppName   string
		Debug     bool
		TestMode  bool
		SecretKey string

		Server  ServerConfig
		Backend BackendConfig
		Cache   CacheConfig

		DatabaseURL string
		RedisAddr   string

		DefaultAdmissionFee decimal.Decimal
		SessionIdleTimeout  time.Duration

		// CLI operator session
		BranchID       int
		BranchType     string
		AcademicYearID int
		Operator       string

		DefaultFromEmail string
		SendgridApiKey   string
		RollbarToken     string
	}
)

func (s ServerConfig) Address() string { return net.JoinHostPort(s.Host, s.Port) }

// NewConfig loads the configuration from defaults, `config/.env.<env>` and the environment.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Admissions Desk")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "k2@9-xv!bq0d#e(4m1_z7a^ph$w3+ty8)gr6&nc5")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 8*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 24*time.Hour)
	v.SetDefault("backend.baseURL", "http://localhost:8080/api/v1")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.settleDelays", "")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("admission.defaultFee", "3000")
	v.SetDefault("session.idleTimeout", 30*time.Minute)
	v.SetDefault("session.branchID", 0)
	v.SetDefault("session.branchType", BranchSchool)
	v.SetDefault("session.academicYearID", 0)
	v.SetDefault("session.operator", "")
	v.SetDefault("email.defaultFrom", "Admissions Desk <noreply@localhost>")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	fee, err := decimal.NewFromString(v.GetString("admission.defaultFee"))
	if err != nil {
		log.Fatalf("config.admission.defaultFee(%s): %v", v.GetString("admission.defaultFee"), err)
	}

	return &Config{
		Env:       env,
		Build:     v.GetString("build"),
		AppName:   v.GetString("appName"),
		Debug:     v.GetBool("debug"),
		TestMode:  v.GetBool("testMode"),
		SecretKey: v.GetString("secretKey"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Port:                      v.GetString("server.port"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(v.GetString("backend.baseURL"), "/"),
			Token:   v.GetString("backend.token"),
			Timeout: v.GetDuration("backend.timeout"),
		},
		Cache: CacheConfig{
			TTL:          v.GetDuration("cache.ttl"),
			SettleDelays: ParseDurations(v.GetString("cache.settleDelays")),
		},
		DatabaseURL:         v.GetString("database.url"),
		RedisAddr:           v.GetString("redis.addr"),
		DefaultAdmissionFee: fee,
		SessionIdleTimeout:  v.GetDuration("session.idleTimeout"),
		BranchID:            v.GetInt("session.branchID"),
		BranchType:          strings.ToUpper(v.GetString("session.branchType")),
		AcademicYearID:      v.GetInt("session.academicYearID"),
		Operator:            v.GetString("session.operator"),
		DefaultFromEmail:    v.GetString("email.defaultFrom"),
		SendgridApiKey:      v.GetString("sendgridApiKey"),
		RollbarToken:        v.GetString("rollbarToken"),
	}
}

// ParseDurations parses a comma separated list of durations ("200ms,300ms"), skipping invalid entries.
func ParseDurations(s string) []time.Duration {
	var durations []time.Duration
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if d, err := time.ParseDuration(part); err == nil && d > 0 {
			durations = append(durations, d)
		}
	}
	return durations
}
