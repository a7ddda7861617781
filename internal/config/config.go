package config

import (
	"crypto/subtle"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/dyluth/guidepost/internal/gate"
	"github.com/dyluth/guidepost/pkg/bundle"
	"gopkg.in/yaml.v3"
)

// Supported store backends
const (
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// DefaultLanguages is used when languages is omitted
var DefaultLanguages = []string{"en", "es", "fr", "de"}

const defaultLockTTL = 30 * time.Second

var langPattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// GuidepostConfig represents the top-level guidepost.yml configuration
type GuidepostConfig struct {
	Version   string         `yaml:"version"`
	Instance  string         `yaml:"instance,omitempty"`
	Languages []string       `yaml:"languages,omitempty"`
	Publish   *PublishConfig `yaml:"publish,omitempty"`
	Gate      *GateConfig    `yaml:"gate,omitempty"`
	Auth      *AuthConfig    `yaml:"auth,omitempty"`
	Store     *StoreConfig   `yaml:"store,omitempty"`
}

// PublishConfig controls the publish protocol
type PublishConfig struct {
	WriteOrder []string `yaml:"write_order,omitempty"` // Default: languages reversed
	LockTTL    string   `yaml:"lock_ttl,omitempty"`    // Go duration, default 30s

	lockTTL time.Duration
}

// GateConfig tunes the content-quality gate
type GateConfig struct {
	BannedPhrases     []string `yaml:"banned_phrases,omitempty"`
	ReferenceLanguage string   `yaml:"reference_language,omitempty"`
}

// AuthConfig lists the principals allowed to call the API
type AuthConfig struct {
	Principals      []Principal `yaml:"principals"`
	PrivilegedRoles []string    `yaml:"privileged_roles,omitempty"` // Default: [editor]
}

// Principal is one API caller. The bearer token is given inline or read from
// the environment variable named by token_env.
type Principal struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	Token    string `yaml:"token,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
}

// StoreConfig selects the storage backend
type StoreConfig struct {
	Backend    string `yaml:"backend,omitempty"`     // "redis" (default) or "badger"
	RedisURL   string `yaml:"redis_url,omitempty"`   // Overridden by REDIS_URL in the daemon
	BadgerPath string `yaml:"badger_path,omitempty"` // Required for badger
}

// Validate performs strict validation on the configuration and applies defaults
func (c *GuidepostConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	if len(c.Languages) == 0 {
		c.Languages = append([]string(nil), DefaultLanguages...)
	}
	seen := make(map[string]bool)
	for _, lang := range c.Languages {
		if !langPattern.MatchString(lang) {
			return fmt.Errorf("invalid language code '%s' (expected e.g. 'en' or 'pt-BR')", lang)
		}
		if seen[lang] {
			return fmt.Errorf("duplicate language '%s'", lang)
		}
		seen[lang] = true
	}

	if c.Publish == nil {
		c.Publish = &PublishConfig{}
	}
	if err := c.Publish.validate(c.Languages); err != nil {
		return err
	}

	if c.Gate == nil {
		c.Gate = &GateConfig{}
	}
	if ref := c.Gate.ReferenceLanguage; ref != "" && !seen[ref] {
		return fmt.Errorf("gate.reference_language '%s' is not one of the configured languages", ref)
	}

	if c.Auth == nil {
		c.Auth = &AuthConfig{}
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	return c.Store.validate()
}

func (p *PublishConfig) validate(languages []string) error {
	if len(p.WriteOrder) == 0 {
		p.WriteOrder = make([]string, 0, len(languages))
		for i := len(languages) - 1; i >= 0; i-- {
			p.WriteOrder = append(p.WriteOrder, languages[i])
		}
	}

	if len(p.WriteOrder) != len(languages) {
		return fmt.Errorf("publish.write_order must list every language exactly once (got %d of %d)", len(p.WriteOrder), len(languages))
	}
	remaining := make(map[string]bool, len(languages))
	for _, lang := range languages {
		remaining[lang] = true
	}
	for _, lang := range p.WriteOrder {
		if !remaining[lang] {
			return fmt.Errorf("publish.write_order: '%s' is unknown or listed twice", lang)
		}
		delete(remaining, lang)
	}

	p.lockTTL = defaultLockTTL
	if p.LockTTL != "" {
		ttl, err := time.ParseDuration(p.LockTTL)
		if err != nil {
			return fmt.Errorf("publish.lock_ttl: %w", err)
		}
		if ttl <= 0 {
			return fmt.Errorf("publish.lock_ttl must be positive, got %s", p.LockTTL)
		}
		p.lockTTL = ttl
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if len(a.PrivilegedRoles) == 0 {
		a.PrivilegedRoles = []string{"editor"}
	}

	names := make(map[string]bool)
	for i := range a.Principals {
		p := &a.Principals[i]
		if p.Name == "" {
			return fmt.Errorf("auth.principals[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("auth.principals: duplicate name '%s'", p.Name)
		}
		names[p.Name] = true

		if p.Role == "" {
			return fmt.Errorf("principal '%s': role is required", p.Name)
		}
		if p.Token != "" && p.TokenEnv != "" {
			return fmt.Errorf("principal '%s': set token or token_env, not both", p.Name)
		}
		if p.Token == "" && p.TokenEnv == "" {
			return fmt.Errorf("principal '%s': token or token_env is required", p.Name)
		}
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if s.Backend == "" {
		s.Backend = BackendRedis
	}
	switch s.Backend {
	case BackendRedis:
		return nil
	case BackendBadger:
		if s.BadgerPath == "" {
			return fmt.Errorf("store.badger_path is required for the badger backend")
		}
		return nil
	default:
		return fmt.Errorf("invalid store.backend: %s (must be 'redis' or 'badger')", s.Backend)
	}
}

// LanguageList returns the configured languages
func (c *GuidepostConfig) LanguageList() []bundle.Lang {
	return toLangs(c.Languages)
}

// WriteOrder returns the configured bundle write order
func (c *GuidepostConfig) WriteOrder() []bundle.Lang {
	return toLangs(c.Publish.WriteOrder)
}

// LockTTL returns the parsed publish lock TTL
func (c *GuidepostConfig) LockTTL() time.Duration {
	if c.Publish == nil || c.Publish.lockTTL == 0 {
		return defaultLockTTL
	}
	return c.Publish.lockTTL
}

// GateOptions returns the quality gate options
func (c *GuidepostConfig) GateOptions() gate.Options {
	if c.Gate == nil {
		return gate.Options{}
	}
	return gate.Options{
		BannedPhrases: c.Gate.BannedPhrases,
		ReferenceLang: bundle.Lang(c.Gate.ReferenceLanguage),
	}
}

// Authenticate resolves a bearer token to a principal. Tokens are compared in
// constant time; principals whose token_env is unset never match.
func (a *AuthConfig) Authenticate(token string) (Principal, bool) {
	if token == "" {
		return Principal{}, false
	}
	for _, p := range a.Principals {
		want := p.Token
		if p.TokenEnv != "" {
			want = os.Getenv(p.TokenEnv)
		}
		if want == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1 {
			return p, true
		}
	}
	return Principal{}, false
}

// IsPrivileged reports whether role may save drafts and publish
func (a *AuthConfig) IsPrivileged(role string) bool {
	for _, r := range a.PrivilegedRoles {
		if r == role {
			return true
		}
	}
	return false
}

func toLangs(in []string) []bundle.Lang {
	out := make([]bundle.Lang, len(in))
	for i, l := range in {
		out[i] = bundle.Lang(l)
	}
	return out
}

// Default returns a validated configuration with every default applied
func Default() *GuidepostConfig {
	c := &GuidepostConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return c
}

// Load reads and validates guidepost.yml from the specified path
func Load(path string) (*GuidepostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config GuidepostConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
