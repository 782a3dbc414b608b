package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// UserAgentPolicy selects how the fetcher derives the outgoing User-Agent
// header (spec §4.2 / §6).
type UserAgentPolicy string

const (
	UserAgentDefault    UserAgentPolicy = "default"
	UserAgentImpersonate UserAgentPolicy = "impersonate"
	// Any other non-empty value is treated as a literal custom string.
)

// RateLimitBackend selects where the rate limiter's per-domain state lives
// (spec §4.1 "Persistence").
type RateLimitBackend string

const (
	RateLimitBackendMemory RateLimitBackend = "memory"
	RateLimitBackendStore  RateLimitBackend = "store"
)

// Config is built once per process via the With* chain + Build(), matching
// the teacher's unexported-fields-plus-builder style. Every field below
// traces to a recognized option in spec §6.
type Config struct {
	//===============
	// Storage
	//===============
	dataDir     string
	databaseURL string

	//===============
	// Fetch / politeness
	//===============
	userAgentPolicy UserAgentPolicy
	customUserAgent string
	requestTimeout  time.Duration
	baseDelay       time.Duration

	//===============
	// Rate limiter tuning (spec §4.1, §8 boundary behaviors)
	//===============
	rateLimitBackend      RateLimitBackend
	minDelay              time.Duration
	maxDelay              time.Duration
	backoffMultiplier     float64
	mildBackoffMultiplier float64
	recoveryMultiplier    float64
	recoveryThreshold     int
	forbiddenThreshold    int
	forbiddenWindow       time.Duration

	//===============
	// Frontier retry
	//===============
	maxRetries     int
	retryBaseDelay time.Duration
	maxRetryDelay  time.Duration

	//===============
	// Source refresh
	//===============
	sourceRefreshTTL time.Duration

	//===============
	// Analysis
	//===============
	analysisRetryInterval time.Duration
	llmEndpoint           string
	llmModel              string
	llmAPIKey             string
	pdftotextPath         string
	ocrToolPath           string
	pdfRenderToolPath     string
	ocrTimeout            time.Duration

	//===============
	// Orchestrator concurrency
	//===============
	fetchWorkers    int
	analysisWorkers int

	//===============
	// Misc
	//===============
	dryRun bool
}

// fileDTO is the on-disk (YAML) shape. Fields use the spec's recognized
// option names (spec §6); unknown keys are ignored with a warning: Load
// decodes into this struct, then decodes again into a generic map to find
// top-level keys it does not list.
type fileDTO struct {
	DataDir               string  `yaml:"data_dir"`
	DatabaseURL            string  `yaml:"database_url"`
	UserAgentPolicy        string  `yaml:"user_agent"`
	RequestTimeoutSeconds  float64 `yaml:"request_timeout_seconds"`
	BaseDelayMS            int64   `yaml:"base_delay_ms"`
	RateLimitBackend       string  `yaml:"rate_limit_backend"`
	MinDelayMS             int64   `yaml:"min_delay_ms"`
	MaxDelayMS             int64   `yaml:"max_delay_ms"`
	BackoffMultiplier      float64 `yaml:"backoff_multiplier"`
	MildBackoffMultiplier  float64 `yaml:"mild_backoff_multiplier"`
	RecoveryMultiplier     float64 `yaml:"recovery_multiplier"`
	RecoveryThreshold      int     `yaml:"recovery_threshold"`
	ForbiddenThreshold     int     `yaml:"forbidden_threshold"`
	ForbiddenWindowSeconds float64 `yaml:"forbidden_window_seconds"`
	MaxRetries             int     `yaml:"max_retries"`
	RetryBaseDelayMS       int64   `yaml:"retry_base_delay_ms"`
	MaxRetryDelayMS        int64   `yaml:"max_retry_delay_ms"`
	SourceRefreshDays      float64 `yaml:"source_refresh_ttl_days"`
	AnalysisRetryHours     float64 `yaml:"analysis_retry_interval_hours"`
	LLMEndpoint            string  `yaml:"llm_endpoint"`
	LLMModel               string  `yaml:"llm_model"`
	FetchWorkers           int     `yaml:"fetch_workers"`
	AnalysisWorkers        int     `yaml:"analysis_workers"`
	DryRun                 bool    `yaml:"dry_run"`
	PdftotextPath          string  `yaml:"pdftotext_path"`
	OCRToolPath            string  `yaml:"ocr_tool_path"`
	PDFRenderToolPath      string  `yaml:"pdf_render_tool_path"`
	OCRTimeoutSeconds      float64 `yaml:"ocr_timeout_seconds"`
}

// envDTO holds the subset of options that github.com/caarlos0/env/v11 can
// override from the environment (storage, user agent, LLM settings), using
// the FOIACRAWL_ prefix convention.
type envDTO struct {
	DataDir         string `env:"FOIACRAWL_DATA_DIR"`
	DatabaseURL     string `env:"FOIACRAWL_DATABASE_URL"`
	UserAgentPolicy string `env:"FOIACRAWL_USER_AGENT"`
	LLMEndpoint     string `env:"FOIACRAWL_LLM_ENDPOINT"`
	LLMModel        string `env:"FOIACRAWL_LLM_MODEL"`
	LLMAPIKey       string `env:"FOIACRAWL_LLM_API_KEY"`
}

// WithDefault returns a builder seeded with sane defaults (base delay,
// backoff curve, retry schedule) matching the §8 boundary-behavior
// examples (base=100ms, backoff_multiplier=2.0, d_max=60s, etc).
func WithDefault() *Config {
	return &Config{
		dataDir:               "./data",
		databaseURL:           "",
		userAgentPolicy:       UserAgentDefault,
		requestTimeout:        30 * time.Second,
		baseDelay:             100 * time.Millisecond,
		rateLimitBackend:      RateLimitBackendMemory,
		minDelay:              100 * time.Millisecond,
		maxDelay:              60 * time.Second,
		backoffMultiplier:     2.0,
		mildBackoffMultiplier: 1.5,
		recoveryMultiplier:    0.8,
		recoveryThreshold:     5,
		forbiddenThreshold:    3,
		forbiddenWindow:       60 * time.Second,
		maxRetries:            5,
		retryBaseDelay:        time.Second,
		maxRetryDelay:         10 * time.Minute,
		sourceRefreshTTL:      7 * 24 * time.Hour,
		analysisRetryInterval: 12 * time.Hour,
		llmEndpoint:           "",
		llmModel:              "gpt-4o-mini",
		pdftotextPath:         "pdftotext",
		ocrToolPath:           "tesseract",
		pdfRenderToolPath:     "pdftoppm",
		ocrTimeout:            5 * time.Minute,
		fetchWorkers:          10,
		analysisWorkers:       4,
		dryRun:                false,
	}
}

// Load reads a YAML config file (if path is non-empty and exists), then a
// .env file (if present), then process environment variables, each layer
// overriding the previous, as recognized options per spec §6. Unknown keys
// in the YAML document are reported through warn but otherwise ignored.
func Load(path string, warn func(key string)) (Config, error) {
	cfg := WithDefault()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			raw, err := os.ReadFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
			}

			var dto fileDTO
			if err := yaml.Unmarshal(raw, &dto); err != nil {
				return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
			}
			applyUnknownKeyWarnings(raw, warn)
			cfg.applyFileDTO(dto)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
		}
	}

	_ = godotenv.Load() // best-effort; missing .env is not an error

	var e envDTO
	if err := env.Parse(&e); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}
	cfg.applyEnvDTO(e)

	return cfg.Build()
}

// applyUnknownKeyWarnings decodes raw a second time into a generic map and
// warns (but does not fail) on any top-level key that fileDTO does not
// recognize, per spec §6 "Unknown keys must be ignored with a warning."
func applyUnknownKeyWarnings(raw []byte, warn func(key string)) {
	if warn == nil {
		return
	}
	known := map[string]struct{}{
		"data_dir": {}, "database_url": {}, "user_agent": {}, "request_timeout_seconds": {},
		"base_delay_ms": {}, "rate_limit_backend": {}, "min_delay_ms": {}, "max_delay_ms": {},
		"backoff_multiplier": {}, "mild_backoff_multiplier": {}, "recovery_multiplier": {},
		"recovery_threshold": {}, "forbidden_threshold": {}, "forbidden_window_seconds": {},
		"max_retries": {}, "retry_base_delay_ms": {}, "max_retry_delay_ms": {},
		"source_refresh_ttl_days": {}, "analysis_retry_interval_hours": {},
		"llm_endpoint": {}, "llm_model": {}, "fetch_workers": {}, "analysis_workers": {}, "dry_run": {},
		"pdftotext_path": {}, "ocr_tool_path": {}, "pdf_render_tool_path": {}, "ocr_timeout_seconds": {},
	}

	var generic map[string]any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return
	}
	for key := range generic {
		if _, ok := known[key]; !ok {
			warn(key)
		}
	}
}

func (c *Config) applyFileDTO(dto fileDTO) {
	if dto.DataDir != "" {
		c.dataDir = dto.DataDir
	}
	if dto.DatabaseURL != "" {
		c.databaseURL = dto.DatabaseURL
	}
	if dto.UserAgentPolicy != "" {
		c.applyUserAgent(dto.UserAgentPolicy)
	}
	if dto.RequestTimeoutSeconds != 0 {
		c.requestTimeout = time.Duration(dto.RequestTimeoutSeconds * float64(time.Second))
	}
	if dto.BaseDelayMS != 0 {
		c.baseDelay = time.Duration(dto.BaseDelayMS) * time.Millisecond
	}
	if dto.RateLimitBackend != "" {
		c.rateLimitBackend = RateLimitBackend(dto.RateLimitBackend)
	}
	if dto.MinDelayMS != 0 {
		c.minDelay = time.Duration(dto.MinDelayMS) * time.Millisecond
	}
	if dto.MaxDelayMS != 0 {
		c.maxDelay = time.Duration(dto.MaxDelayMS) * time.Millisecond
	}
	if dto.BackoffMultiplier != 0 {
		c.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.MildBackoffMultiplier != 0 {
		c.mildBackoffMultiplier = dto.MildBackoffMultiplier
	}
	if dto.RecoveryMultiplier != 0 {
		c.recoveryMultiplier = dto.RecoveryMultiplier
	}
	if dto.RecoveryThreshold != 0 {
		c.recoveryThreshold = dto.RecoveryThreshold
	}
	if dto.ForbiddenThreshold != 0 {
		c.forbiddenThreshold = dto.ForbiddenThreshold
	}
	if dto.ForbiddenWindowSeconds != 0 {
		c.forbiddenWindow = time.Duration(dto.ForbiddenWindowSeconds * float64(time.Second))
	}
	if dto.MaxRetries != 0 {
		c.maxRetries = dto.MaxRetries
	}
	if dto.RetryBaseDelayMS != 0 {
		c.retryBaseDelay = time.Duration(dto.RetryBaseDelayMS) * time.Millisecond
	}
	if dto.MaxRetryDelayMS != 0 {
		c.maxRetryDelay = time.Duration(dto.MaxRetryDelayMS) * time.Millisecond
	}
	if dto.SourceRefreshDays != 0 {
		c.sourceRefreshTTL = time.Duration(dto.SourceRefreshDays * float64(24*time.Hour))
	}
	if dto.AnalysisRetryHours != 0 {
		c.analysisRetryInterval = time.Duration(dto.AnalysisRetryHours * float64(time.Hour))
	}
	if dto.LLMEndpoint != "" {
		c.llmEndpoint = dto.LLMEndpoint
	}
	if dto.LLMModel != "" {
		c.llmModel = dto.LLMModel
	}
	if dto.FetchWorkers != 0 {
		c.fetchWorkers = dto.FetchWorkers
	}
	if dto.AnalysisWorkers != 0 {
		c.analysisWorkers = dto.AnalysisWorkers
	}
	if dto.PdftotextPath != "" {
		c.pdftotextPath = dto.PdftotextPath
	}
	if dto.OCRToolPath != "" {
		c.ocrToolPath = dto.OCRToolPath
	}
	if dto.PDFRenderToolPath != "" {
		c.pdfRenderToolPath = dto.PDFRenderToolPath
	}
	if dto.OCRTimeoutSeconds != 0 {
		c.ocrTimeout = time.Duration(dto.OCRTimeoutSeconds * float64(time.Second))
	}
	c.dryRun = c.dryRun || dto.DryRun
}

func (c *Config) applyEnvDTO(e envDTO) {
	if e.DataDir != "" {
		c.dataDir = e.DataDir
	}
	if e.DatabaseURL != "" {
		c.databaseURL = e.DatabaseURL
	}
	if e.UserAgentPolicy != "" {
		c.applyUserAgent(e.UserAgentPolicy)
	}
	if e.LLMEndpoint != "" {
		c.llmEndpoint = e.LLMEndpoint
	}
	if e.LLMModel != "" {
		c.llmModel = e.LLMModel
	}
	if e.LLMAPIKey != "" {
		c.llmAPIKey = e.LLMAPIKey
	}
}

func (c *Config) applyUserAgent(raw string) {
	switch UserAgentPolicy(raw) {
	case UserAgentDefault:
		c.userAgentPolicy = UserAgentDefault
		c.customUserAgent = ""
	case UserAgentImpersonate:
		c.userAgentPolicy = UserAgentImpersonate
		c.customUserAgent = ""
	default:
		c.userAgentPolicy = UserAgentPolicy(raw)
		c.customUserAgent = raw
	}
}

// Builder setters, used directly by tests and by the CLI flag layer in
// internal/cli.

func (c *Config) WithDataDir(dir string) *Config              { c.dataDir = dir; return c }
func (c *Config) WithDatabaseURL(dsn string) *Config           { c.databaseURL = dsn; return c }
func (c *Config) WithUserAgentPolicy(p UserAgentPolicy) *Config { c.userAgentPolicy = p; return c }
func (c *Config) WithCustomUserAgent(ua string) *Config {
	c.userAgentPolicy = UserAgentPolicy(ua)
	c.customUserAgent = ua
	return c
}
func (c *Config) WithRequestTimeout(d time.Duration) *Config { c.requestTimeout = d; return c }
func (c *Config) WithBaseDelay(d time.Duration) *Config       { c.baseDelay = d; return c }
func (c *Config) WithRateLimitBackend(b RateLimitBackend) *Config {
	c.rateLimitBackend = b
	return c
}
func (c *Config) WithMinDelay(d time.Duration) *Config          { c.minDelay = d; return c }
func (c *Config) WithMaxDelay(d time.Duration) *Config          { c.maxDelay = d; return c }
func (c *Config) WithBackoffMultiplier(m float64) *Config       { c.backoffMultiplier = m; return c }
func (c *Config) WithMildBackoffMultiplier(m float64) *Config   { c.mildBackoffMultiplier = m; return c }
func (c *Config) WithRecoveryMultiplier(m float64) *Config      { c.recoveryMultiplier = m; return c }
func (c *Config) WithRecoveryThreshold(n int) *Config           { c.recoveryThreshold = n; return c }
func (c *Config) WithForbiddenThreshold(n int) *Config          { c.forbiddenThreshold = n; return c }
func (c *Config) WithForbiddenWindow(d time.Duration) *Config   { c.forbiddenWindow = d; return c }
func (c *Config) WithMaxRetries(n int) *Config                  { c.maxRetries = n; return c }
func (c *Config) WithRetryBaseDelay(d time.Duration) *Config    { c.retryBaseDelay = d; return c }
func (c *Config) WithMaxRetryDelay(d time.Duration) *Config     { c.maxRetryDelay = d; return c }
func (c *Config) WithSourceRefreshTTL(d time.Duration) *Config  { c.sourceRefreshTTL = d; return c }
func (c *Config) WithAnalysisRetryInterval(d time.Duration) *Config {
	c.analysisRetryInterval = d
	return c
}
func (c *Config) WithLLMEndpoint(endpoint string) *Config { c.llmEndpoint = endpoint; return c }
func (c *Config) WithLLMModel(model string) *Config       { c.llmModel = model; return c }
func (c *Config) WithLLMAPIKey(key string) *Config        { c.llmAPIKey = key; return c }
func (c *Config) WithPdftotextPath(path string) *Config   { c.pdftotextPath = path; return c }
func (c *Config) WithOCRToolPath(path string) *Config     { c.ocrToolPath = path; return c }
func (c *Config) WithPDFRenderToolPath(path string) *Config {
	c.pdfRenderToolPath = path
	return c
}
func (c *Config) WithOCRTimeout(d time.Duration) *Config { c.ocrTimeout = d; return c }
func (c *Config) WithFetchWorkers(n int) *Config          { c.fetchWorkers = n; return c }
func (c *Config) WithAnalysisWorkers(n int) *Config       { c.analysisWorkers = n; return c }
func (c *Config) WithDryRun(dryRun bool) *Config          { c.dryRun = dryRun; return c }

// Build validates and freezes the config.
func (c *Config) Build() (Config, error) {
	if c.dataDir == "" {
		return Config{}, fmt.Errorf("%w: data_dir cannot be empty", ErrInvalidConfig)
	}
	if c.minDelay <= 0 || c.maxDelay < c.minDelay {
		return Config{}, fmt.Errorf("%w: min_delay_ms must be positive and <= max_delay_ms", ErrInvalidConfig)
	}
	if c.backoffMultiplier <= 1.0 {
		return Config{}, fmt.Errorf("%w: backoff_multiplier must be > 1.0", ErrInvalidConfig)
	}
	if c.recoveryMultiplier <= 0 || c.recoveryMultiplier >= 1.0 {
		return Config{}, fmt.Errorf("%w: recovery_multiplier must be in (0, 1)", ErrInvalidConfig)
	}
	if c.fetchWorkers <= 0 {
		c.fetchWorkers = 1
	}
	if c.analysisWorkers <= 0 {
		c.analysisWorkers = 1
	}
	return *c, nil
}

// Hash returns a stable content hash of the effective configuration, used
// by the config-history table (spec §6) to detect materially different
// runs. llmAPIKey is deliberately excluded: config_history rows are
// diagnostic and may be surfaced to operators, and a secret has no
// business in a hash whose whole point is to be compared and displayed.
func (c Config) Hash() string {
	payload := struct {
		DataDir               string
		DatabaseURL           string
		UserAgentPolicy       string
		CustomUserAgent       string
		RequestTimeout        time.Duration
		BaseDelay             time.Duration
		RateLimitBackend      string
		MinDelay              time.Duration
		MaxDelay              time.Duration
		BackoffMultiplier     float64
		MildBackoffMultiplier float64
		RecoveryMultiplier    float64
		RecoveryThreshold     int
		ForbiddenThreshold    int
		ForbiddenWindow       time.Duration
		MaxRetries            int
		RetryBaseDelay        time.Duration
		MaxRetryDelay         time.Duration
		SourceRefreshTTL      time.Duration
		AnalysisRetryInterval time.Duration
		LLMEndpoint           string
		LLMModel              string
		PdftotextPath         string
		OCRToolPath           string
		PDFRenderToolPath     string
		OCRTimeout            time.Duration
		FetchWorkers          int
		AnalysisWorkers       int
	}{
		c.dataDir, c.databaseURL, string(c.userAgentPolicy), c.customUserAgent,
		c.requestTimeout, c.baseDelay, string(c.rateLimitBackend), c.minDelay, c.maxDelay,
		c.backoffMultiplier, c.mildBackoffMultiplier, c.recoveryMultiplier, c.recoveryThreshold,
		c.forbiddenThreshold, c.forbiddenWindow, c.maxRetries, c.retryBaseDelay, c.maxRetryDelay,
		c.sourceRefreshTTL, c.analysisRetryInterval, c.llmEndpoint, c.llmModel,
		c.pdftotextPath, c.ocrToolPath, c.pdfRenderToolPath, c.ocrTimeout,
		c.fetchWorkers, c.analysisWorkers,
	}

	encoded, _ := json.Marshal(payload)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// Accessors.

func (c Config) DataDir() string                    { return c.dataDir }
func (c Config) DatabaseURL() string                 { return c.databaseURL }
func (c Config) UserAgentPolicy() UserAgentPolicy    { return c.userAgentPolicy }
func (c Config) CustomUserAgent() string             { return c.customUserAgent }
func (c Config) RequestTimeout() time.Duration       { return c.requestTimeout }
func (c Config) BaseDelay() time.Duration            { return c.baseDelay }
func (c Config) RateLimitBackend() RateLimitBackend  { return c.rateLimitBackend }
func (c Config) MinDelay() time.Duration             { return c.minDelay }
func (c Config) MaxDelay() time.Duration             { return c.maxDelay }
func (c Config) BackoffMultiplier() float64          { return c.backoffMultiplier }
func (c Config) MildBackoffMultiplier() float64      { return c.mildBackoffMultiplier }
func (c Config) RecoveryMultiplier() float64         { return c.recoveryMultiplier }
func (c Config) RecoveryThreshold() int              { return c.recoveryThreshold }
func (c Config) ForbiddenThreshold() int             { return c.forbiddenThreshold }
func (c Config) ForbiddenWindow() time.Duration      { return c.forbiddenWindow }
func (c Config) MaxRetries() int                     { return c.maxRetries }
func (c Config) RetryBaseDelay() time.Duration       { return c.retryBaseDelay }
func (c Config) MaxRetryDelay() time.Duration        { return c.maxRetryDelay }
func (c Config) SourceRefreshTTL() time.Duration     { return c.sourceRefreshTTL }
func (c Config) AnalysisRetryInterval() time.Duration { return c.analysisRetryInterval }
func (c Config) LLMEndpoint() string                 { return c.llmEndpoint }
func (c Config) LLMModel() string                    { return c.llmModel }
func (c Config) LLMAPIKey() string                   { return c.llmAPIKey }
func (c Config) PdftotextPath() string               { return c.pdftotextPath }
func (c Config) OCRToolPath() string                 { return c.ocrToolPath }
func (c Config) PDFRenderToolPath() string           { return c.pdfRenderToolPath }
func (c Config) OCRTimeout() time.Duration           { return c.ocrTimeout }
func (c Config) FetchWorkers() int                   { return c.fetchWorkers }
func (c Config) AnalysisWorkers() int                { return c.analysisWorkers }
func (c Config) DryRun() bool                        { return c.dryRun }
