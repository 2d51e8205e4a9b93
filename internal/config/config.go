// Package config loads the host service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourorg/payment-confirmation/internal/circuitbreaker"
	"github.com/yourorg/payment-confirmation/internal/poller"
)

// Gateway modes.
const (
	ModeHTTP = "http"
	ModeDemo = "demo"
)

const (
	defaultPort       = "8080"
	defaultAPITimeout = 15 * time.Second
)

// Config holds all configuration for the host service.
type Config struct {
	Port string

	// Payment backend
	GatewayMode string // ModeHTTP or ModeDemo
	APIBaseURL  string
	APIToken    string
	APITimeout  time.Duration

	Poll    poller.Config
	Breaker circuitbreaker.Config

	// Optional
	PolicyRulesFile    string
	ContractSchemaFile string // replaces the embedded payment request schema
	TraceStdout        bool
}

// Default returns a configuration that runs against the in-memory gateway.
func Default() Config {
	return Config{
		Port:        defaultPort,
		GatewayMode: ModeDemo,
		APITimeout:  defaultAPITimeout,
		Poll:        poller.DefaultConfig(),
	}
}

// Validate checks the configuration and fills unset fields with defaults.
func (c *Config) Validate() error {
	switch c.GatewayMode {
	case "":
		c.GatewayMode = ModeDemo
	case ModeHTTP:
		if c.APIBaseURL == "" {
			return fmt.Errorf("PAYMENT_API_BASE_URL is required in %s mode", ModeHTTP)
		}
		if c.APIToken == "" {
			return fmt.Errorf("PAYMENT_API_TOKEN is required in %s mode", ModeHTTP)
		}
	case ModeDemo:
	default:
		return fmt.Errorf("unsupported GATEWAY_MODE %q", c.GatewayMode)
	}
	if c.Poll.Interval < 0 || c.Poll.MaxAttempts < 0 || c.Poll.MaxFailures < 0 || c.Poll.NotFoundGraceAttempts < 0 {
		return errors.New("polling settings must not be negative")
	}
	if c.Poll.SuccessDisplayDelay < 0 {
		return errors.New("POLL_SUCCESS_DELAY must not be negative")
	}

	if c.Port == "" {
		c.Port = defaultPort
	}
	if c.APITimeout <= 0 {
		c.APITimeout = defaultAPITimeout
	}
	def := poller.DefaultConfig()
	if c.Poll.Interval == 0 {
		c.Poll.Interval = def.Interval
	}
	if c.Poll.MaxAttempts == 0 {
		c.Poll.MaxAttempts = def.MaxAttempts
	}
	if c.Poll.MaxFailures == 0 {
		c.Poll.MaxFailures = def.MaxFailures
	}
	if c.Poll.NotFoundGraceAttempts == 0 {
		c.Poll.NotFoundGraceAttempts = def.NotFoundGraceAttempts
	}
	return nil
}

// Load reads a .env file when present, then the environment, on top of Default.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Config: could not load .env: %v", err)
	}

	c := Default()
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
	unum := func(key string, dst *uint32) {
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = uint32(n)
	}

	str("PORT", &c.Port)
	str("GATEWAY_MODE", &c.GatewayMode)
	str("PAYMENT_API_BASE_URL", &c.APIBaseURL)
	str("PAYMENT_API_TOKEN", &c.APIToken)
	dur("PAYMENT_API_TIMEOUT", &c.APITimeout)
	dur("POLL_INTERVAL", &c.Poll.Interval)
	num("POLL_MAX_ATTEMPTS", &c.Poll.MaxAttempts)
	num("POLL_MAX_FAILURES", &c.Poll.MaxFailures)
	num("POLL_NOT_FOUND_GRACE", &c.Poll.NotFoundGraceAttempts)
	dur("POLL_SUCCESS_DELAY", &c.Poll.SuccessDisplayDelay)
	unum("BREAKER_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold)
	dur("BREAKER_OPEN_TIMEOUT", &c.Breaker.ResetTimeout)
	str("POLICY_RULES_FILE", &c.PolicyRulesFile)
	str("CONTRACT_SCHEMA_FILE", &c.ContractSchemaFile)
	if v, ok := os.LookupEnv("TRACE_STDOUT"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("TRACE_STDOUT: %w", err))
		}
		c.TraceStdout = b
	}
	c.GatewayMode = strings.ToLower(c.GatewayMode)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
