package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentworkforce/liftrelay/internal/docstore"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr     = ":8080"
	DefaultTimezone = "America/New_York"
	DefaultMaxAge   = 48 * time.Hour
)

var DefaultRotation = []string{
	"Push Day",
	"Pull Day",
	"Leg + Abs Day",
	"Focus Day",
	"Full Body Power Day",
}

type Settings struct {
	SigningSecret   string         `yaml:"signing_secret"`
	MaxAge          time.Duration  `yaml:"max_age"`
	PublicBaseURL   string         `yaml:"public_base_url"`
	ListenAddr      string         `yaml:"listen_addr"`
	Timezone        string         `yaml:"timezone"`
	DefaultRotation []string       `yaml:"default_rotation"`
	RateLimitMax    int            `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration  `yaml:"rate_limit_window"`
	MaxBodyBytes    int64          `yaml:"max_body_bytes"`
	Store           StoreSettings  `yaml:"store"`
	Layout          LayoutSettings `yaml:"layout"`
}

type StoreSettings struct {
	// DSN selects the backend directly. When empty the GitHub contents API
	// for Owner/Repo is used.
	DSN            string `yaml:"dsn"`
	APIBaseURL     string `yaml:"api_base_url"`
	Owner          string `yaml:"owner"`
	Repo           string `yaml:"repo"`
	Token          string `yaml:"token"`
	Branch         string `yaml:"branch"`
	CommitterName  string `yaml:"committer_name"`
	CommitterEmail string `yaml:"committer_email"`
	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKeyFile string `yaml:"private_key_file"`
	MaxRetries     int    `yaml:"max_retries"`
}

type LayoutSettings struct {
	HistoryRoot   string `yaml:"history_root"`
	StateRoot     string `yaml:"state_root"`
	PlansRoot     string `yaml:"plans_root"`
	SchedulesRoot string `yaml:"schedules_root"`
	SplitsRoot    string `yaml:"splits_root"`
}

func Defaults() Settings {
	return Settings{
		MaxAge:          DefaultMaxAge,
		ListenAddr:      DefaultAddr,
		Timezone:        DefaultTimezone,
		DefaultRotation: append([]string(nil), DefaultRotation...),
		Store:           StoreSettings{APIBaseURL: "https://api.github.com", CommitterName: "liftrelay"},
		Layout: LayoutSettings{
			HistoryRoot:   "User History",
			StateRoot:     "state",
			PlansRoot:     "workout_splits",
			SchedulesRoot: "schedules",
			SplitsRoot:    "splits",
		},
	}
}

// Load reads the optional YAML file at path over the defaults and then
// applies environment overrides.
func Load(path string) (Settings, error) {
	settings := Defaults()
	path = strings.TrimSpace(path)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyEnv(&settings)
	settings.normalize()
	if _, err := time.LoadLocation(settings.Timezone); err != nil {
		return Settings{}, fmt.Errorf("invalid timezone %q: %w", settings.Timezone, err)
	}
	return settings, nil
}

func applyEnv(s *Settings) {
	s.SigningSecret = stringEnv(s.SigningSecret, "LIFTRELAY_SIGNING_SECRET", "SIGNING_SECRET")
	s.MaxAge = durationEnv("LIFTRELAY_MAX_AGE", s.MaxAge)
	s.PublicBaseURL = stringEnv(s.PublicBaseURL, "LIFTRELAY_PUBLIC_BASE_URL", "NETLIFY_BASE")
	s.ListenAddr = stringEnv(s.ListenAddr, "LIFTRELAY_ADDR")
	s.Timezone = stringEnv(s.Timezone, "LIFTRELAY_TIMEZONE")
	if raw := strings.TrimSpace(os.Getenv("LIFTRELAY_DEFAULT_ROTATION")); raw != "" {
		s.DefaultRotation = splitList(raw)
	}
	s.RateLimitMax = intEnv("LIFTRELAY_RATE_LIMIT_MAX", s.RateLimitMax)
	s.RateLimitWindow = durationEnv("LIFTRELAY_RATE_LIMIT_WINDOW", s.RateLimitWindow)
	s.MaxBodyBytes = int64Env("LIFTRELAY_MAX_BODY_BYTES", s.MaxBodyBytes)

	s.Store.DSN = stringEnv(s.Store.DSN, "LIFTRELAY_STORE_DSN")
	s.Store.APIBaseURL = stringEnv(s.Store.APIBaseURL, "LIFTRELAY_GITHUB_API")
	s.Store.Owner = stringEnv(s.Store.Owner, "LIFTRELAY_GITHUB_OWNER", "GITHUB_OWNER")
	s.Store.Repo = stringEnv(s.Store.Repo, "LIFTRELAY_GITHUB_REPO", "GITHUB_REPO")
	s.Store.Token = stringEnv(s.Store.Token, "LIFTRELAY_GITHUB_TOKEN", "GITHUB_TOKEN")
	s.Store.Branch = stringEnv(s.Store.Branch, "LIFTRELAY_GITHUB_BRANCH")
	s.Store.CommitterName = stringEnv(s.Store.CommitterName, "LIFTRELAY_COMMITTER_NAME")
	s.Store.CommitterEmail = stringEnv(s.Store.CommitterEmail, "LIFTRELAY_COMMITTER_EMAIL")
	s.Store.AppID = stringEnv(s.Store.AppID, "LIFTRELAY_GITHUB_APP_ID")
	s.Store.InstallationID = stringEnv(s.Store.InstallationID, "LIFTRELAY_GITHUB_INSTALLATION_ID")
	s.Store.PrivateKeyFile = stringEnv(s.Store.PrivateKeyFile, "LIFTRELAY_GITHUB_PRIVATE_KEY_FILE")
	s.Store.MaxRetries = intEnv("LIFTRELAY_STORE_MAX_RETRIES", s.Store.MaxRetries)

	s.Layout.HistoryRoot = stringEnv(s.Layout.HistoryRoot, "LIFTRELAY_HISTORY_ROOT")
	s.Layout.StateRoot = stringEnv(s.Layout.StateRoot, "LIFTRELAY_STATE_ROOT")
	s.Layout.PlansRoot = stringEnv(s.Layout.PlansRoot, "LIFTRELAY_PLANS_ROOT")
	s.Layout.SchedulesRoot = stringEnv(s.Layout.SchedulesRoot, "LIFTRELAY_SCHEDULES_ROOT")
	s.Layout.SplitsRoot = stringEnv(s.Layout.SplitsRoot, "LIFTRELAY_SPLITS_ROOT")
}

func (s *Settings) normalize() {
	defaults := Defaults()
	s.SigningSecret = strings.TrimSpace(s.SigningSecret)
	s.PublicBaseURL = strings.TrimRight(strings.TrimSpace(s.PublicBaseURL), "/")
	if s.MaxAge <= 0 {
		s.MaxAge = defaults.MaxAge
	}
	if strings.TrimSpace(s.ListenAddr) == "" {
		s.ListenAddr = defaults.ListenAddr
	}
	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = defaults.Timezone
	}
	if len(s.DefaultRotation) == 0 {
		s.DefaultRotation = defaults.DefaultRotation
	}
	if strings.TrimSpace(s.Store.APIBaseURL) == "" {
		s.Store.APIBaseURL = defaults.Store.APIBaseURL
	}
	layout := &s.Layout
	for _, field := range []struct {
		value    *string
		fallback string
	}{
		{&layout.HistoryRoot, defaults.Layout.HistoryRoot},
		{&layout.StateRoot, defaults.Layout.StateRoot},
		{&layout.PlansRoot, defaults.Layout.PlansRoot},
		{&layout.SchedulesRoot, defaults.Layout.SchedulesRoot},
		{&layout.SplitsRoot, defaults.Layout.SplitsRoot},
	} {
		*field.value = strings.Trim(strings.TrimSpace(*field.value), "/")
		if *field.value == "" {
			*field.value = field.fallback
		}
	}
}

// StoreDSN is the configured DSN or the contents API root for Owner/Repo.
func (s Settings) StoreDSN() string {
	if dsn := strings.TrimSpace(s.Store.DSN); dsn != "" {
		return dsn
	}
	if s.Store.Owner == "" || s.Store.Repo == "" {
		return ""
	}
	return docstore.GitHubRepoURL(s.Store.APIBaseURL, s.Store.Owner, s.Store.Repo)
}

func (s Settings) UsesGitHubApp() bool {
	return s.Store.AppID != "" && s.Store.InstallationID != "" && s.Store.PrivateKeyFile != ""
}

// Missing lists the required settings that are absent. Write-capable
// endpoints refuse to run while it is non-empty.
func (s Settings) Missing() []string {
	var missing []string
	if s.SigningSecret == "" {
		missing = append(missing, "signing secret")
	}
	dsn := s.StoreDSN()
	if dsn == "" {
		missing = append(missing, "store location (dsn or github owner/repo)")
		return missing
	}
	if isRemoteDSN(dsn) && s.Store.Token == "" && !s.UsesGitHubApp() {
		missing = append(missing, "store credentials (github token or app)")
	}
	return missing
}

// MissingError is nil when Missing is empty.
func (s Settings) MissingError() error {
	missing := s.Missing()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
}

var ErrIncomplete = errors.New("incomplete configuration")

func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func isRemoteDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringEnv(current string, names ...string) string {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			return value
		}
	}
	return current
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
