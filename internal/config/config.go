// Package config loads tipsync settings from the environment.
//
// An optional .env file in the working directory is read first; variables
// already set in the process environment win. Unset values fall back to
// defaults, with the data directory under the XDG data home.
package config

import (
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"

	"github.com/kimhsiao/tipsync/backend/internal/eligibility"
	"github.com/kimhsiao/tipsync/backend/internal/errors"
	"github.com/kimhsiao/tipsync/backend/internal/models"
	syncpkg "github.com/kimhsiao/tipsync/backend/internal/sync"
	"github.com/kimhsiao/tipsync/backend/internal/sync/gateway"
	"github.com/kimhsiao/tipsync/backend/internal/sync/network"
	"github.com/kimhsiao/tipsync/backend/internal/sync/scheduler"
)

// DefaultGatewayURL is the gateway sandbox.
const DefaultGatewayURL = "https://sandbox.safaricom.co.ke"

// deviceIDFile holds the generated device id inside the data directory.
const deviceIDFile = "device_id"

// Config holds all runtime settings.
type Config struct {
	DataDir  string
	DeviceID string
	LogLevel string

	DesktopAddr  string
	CallbackAddr string

	GatewayBaseURL string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string

	SubmitTimeout     time.Duration
	SurfaceRejections bool
	RetryInterval     time.Duration
	SweepInterval     time.Duration
	StalePolicy       scheduler.StalePolicy
	StaleAfter        time.Duration

	ProbeURL        string
	ProbeInterval   time.Duration
	NetworkDebounce time.Duration

	// QueueKey seals customer phone numbers in the queue. Empty disables sealing.
	QueueKey string

	Caps        eligibility.Caps
	PhoneRegion string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(errors.ErrConfig, "failed to read .env", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}

	cfg := &Config{
		DataDir:  p.str("TIPSYNC_DATA_DIR", filepath.Join(xdg.DataHome, "tipsync")),
		DeviceID: p.str("TIPSYNC_DEVICE_ID", ""),
		LogLevel: p.str("TIPSYNC_LOG_LEVEL", "info"),

		DesktopAddr:  p.str("TIPSYNC_DESKTOP_ADDR", "localhost:8090"),
		CallbackAddr: p.str("TIPSYNC_CALLBACK_ADDR", ":8080"),

		GatewayBaseURL: p.str("MPESA_BASE_URL", DefaultGatewayURL),
		ConsumerKey:    p.str("MPESA_CONSUMER_KEY", ""),
		ConsumerSecret: p.str("MPESA_CONSUMER_SECRET", ""),
		ShortCode:      p.str("MPESA_SHORTCODE", ""),
		PassKey:        p.str("MPESA_PASSKEY", ""),
		CallbackURL:    p.str("MPESA_CALLBACK_URL", ""),

		SubmitTimeout:     p.duration("TIPSYNC_SUBMIT_TIMEOUT", 30*time.Second),
		SurfaceRejections: p.boolean("TIPSYNC_SURFACE_REJECTIONS", false),
		RetryInterval:     p.duration("TIPSYNC_RETRY_INTERVAL", time.Minute),
		SweepInterval:     p.duration("TIPSYNC_SWEEP_INTERVAL", time.Hour),
		StaleAfter:        p.duration("TIPSYNC_STALE_AFTER", 72*time.Hour),

		ProbeInterval:   p.duration("TIPSYNC_PROBE_INTERVAL", 15*time.Second),
		NetworkDebounce: p.duration("TIPSYNC_NETWORK_DEBOUNCE", 0),

		QueueKey:    p.str("TIPSYNC_QUEUE_KEY", ""),
		PhoneRegion: strings.ToUpper(p.str("TIPSYNC_PHONE_REGION", eligibility.DefaultRegion)),
	}
	cfg.ProbeURL = p.str("TIPSYNC_PROBE_URL", cfg.GatewayBaseURL)

	defaults := eligibility.DefaultCaps()
	cfg.Caps = eligibility.Caps{
		models.PlanLite:     p.integer("TIPSYNC_CAP_LITE", defaults[models.PlanLite]),
		models.PlanStandard: p.integer("TIPSYNC_CAP_STANDARD", defaults[models.PlanStandard]),
		models.PlanPremium:  p.integer("TIPSYNC_CAP_PREMIUM", defaults[models.PlanPremium]),
	}

	policy, err := scheduler.ParseStalePolicy(getenv("TIPSYNC_STALE_POLICY"))
	if err != nil {
		p.errs = append(p.errs, "TIPSYNC_STALE_POLICY: "+err.Error())
	}
	cfg.StalePolicy = policy

	if len(p.errs) > 0 {
		return nil, errors.New(errors.ErrConfig, "invalid configuration: "+strings.Join(p.errs, "; "))
	}
	return cfg, nil
}

// GatewayConfigured reports whether the gateway credentials are set.
func (c *Config) GatewayConfigured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.ShortCode != "" && c.PassKey != "" && c.CallbackURL != ""
}

// Gateway returns the STK client settings.
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		BaseURL:        c.GatewayBaseURL,
		ConsumerKey:    c.ConsumerKey,
		ConsumerSecret: c.ConsumerSecret,
		ShortCode:      c.ShortCode,
		PassKey:        c.PassKey,
		CallbackURL:    c.CallbackURL,
	}
}

// Engine returns the sync engine settings.
func (c *Config) Engine() *syncpkg.Config {
	cfg := syncpkg.DefaultConfig()
	cfg.SubmitTimeout = c.SubmitTimeout
	cfg.SurfaceRejections = c.SurfaceRejections
	return cfg
}

// Scheduler returns the retry scheduler settings.
func (c *Config) Scheduler() *scheduler.SchedulerConfig {
	return &scheduler.SchedulerConfig{
		RetryInterval: c.RetryInterval,
		SweepInterval: c.SweepInterval,
		StalePolicy:   c.StalePolicy,
		StaleAfter:    c.StaleAfter,
	}
}

// Network returns the monitor settings.
func (c *Config) Network() network.Options {
	return network.Options{Debounce: c.NetworkDebounce}
}

// Eligibility returns the checker settings.
func (c *Config) Eligibility() eligibility.Options {
	return eligibility.Options{Caps: c.Caps, Region: c.PhoneRegion}
}

// EnsureDeviceID fills DeviceID from the data directory, generating and
// persisting one on first run.
func (c *Config) EnsureDeviceID() error {
	if c.DeviceID != "" {
		return nil
	}

	path := filepath.Join(c.DataDir, deviceIDFile)
	data, err := os.ReadFile(path)
	if err == nil && len(strings.TrimSpace(string(data))) > 0 {
		c.DeviceID = strings.TrimSpace(string(data))
		return nil
	}
	if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.Wrap(errors.ErrConfig, "failed to read device id", err)
	}

	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to create data directory", err)
	}
	id := ulid.MustNew(ulid.Now(), rand.Reader).String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to write device id", err)
	}
	c.DeviceID = id
	return nil
}

type parser struct {
	getenv func(string) string
	errs   []string
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.errs = append(p.errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}

func (p *parser) integer(key string, def int64) int64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		p.errs = append(p.errs, fmt.Sprintf("%s: invalid amount %q", key, v))
		return def
	}
	return n
}
