package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	cerrors "cloudeng.io/errors"

	"github.com/aluiziolira/civic-crawler/models"
)

// Seed is a starting URL for the crawl.
type Seed struct {
	URL      string          `yaml:"url"`
	Category models.Category `yaml:"category"`
	Priority float64         `yaml:"priority"`
}

// Config holds crawler configuration. It is read once at startup.
type Config struct {
	Seeds              []Seed                  `yaml:"seeds"`
	TargetDomains      []string                `yaml:"target_domains"`
	DomainQuotas       map[string]int          `yaml:"domain_quotas"`
	DefaultDomainQuota int                     `yaml:"default_domain_quota"`
	QualityThresholds  map[models.Category]int `yaml:"quality_thresholds"`

	MaxDepth    int           `yaml:"max_depth"`
	MaxURLs     int           `yaml:"max_urls"`
	MaxDuration time.Duration `yaml:"max_duration"`
	Concurrency int           `yaml:"concurrency"`

	Timeout         time.Duration `yaml:"timeout"`
	MaxBodySize     int           `yaml:"max_body_size"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	HostRate        float64       `yaml:"host_rate"`

	Stealth StealthConfig `yaml:"stealth"`

	Recrawl           bool          `yaml:"recrawl"`
	RecrawlInterval   time.Duration `yaml:"recrawl_interval"`
	MaxRevisits       int           `yaml:"max_revisits"`
	CrossSessionDedup bool          `yaml:"cross_session_dedup"`

	AnalysisCacheSize int `yaml:"analysis_cache_size"`
	DedupeMaxSize     int `yaml:"dedupe_max_size"`
	MaxTables         int `yaml:"max_tables"`
	MaxTableRows      int `yaml:"max_table_rows"`
	MaxDocuments      int `yaml:"max_documents"`
	MaxEntities       int `yaml:"max_entities"`

	PipelineBufferSize int `yaml:"pipeline_buffer_size"`
	BatchSize          int `yaml:"batch_size"`

	CheckpointEvery int    `yaml:"checkpoint_every"`
	CheckpointDir   string `yaml:"checkpoint_dir"`
	VisitedFile     string `yaml:"visited_file"`

	OutputFile       string `yaml:"output_file"`
	OutputFormat     string `yaml:"output_format"` // csv, json, or dual
	ReportFile       string `yaml:"report_file"`
	DatabaseURL      string `yaml:"database_url"`
	MetricsAddr      string `yaml:"metrics_addr"`
	Verbose          bool   `yaml:"verbose"`
	RespectRobotsTxt bool   `yaml:"respect_robots_txt"`
}

// StealthConfig tunes the adaptive delay and break behaviour of the fetcher.
type StealthConfig struct {
	MinDelay             time.Duration `yaml:"min_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	MinRequestInterval   time.Duration `yaml:"min_request_interval"`
	LongPauseChance      float64       `yaml:"long_pause_chance"`
	LongPauseMin         time.Duration `yaml:"long_pause_min"`
	LongPauseMax         time.Duration `yaml:"long_pause_max"`
	BreakEveryMin        int           `yaml:"break_every_min"`
	BreakEveryMax        int           `yaml:"break_every_max"`
	BreakMin             time.Duration `yaml:"break_min"`
	BreakMax             time.Duration `yaml:"break_max"`
	SessionBreakInterval time.Duration `yaml:"session_break_interval"`
	ReferrerChance       float64       `yaml:"referrer_chance"`
}

// DefaultQualityThresholds are the per-category minimum overall scores.
func DefaultQualityThresholds() map[models.Category]int {
	return map[models.Category]int{
		models.CategoryTransparency: 75,
		models.CategoryFinance:      70,
		models.CategoryMeeting:      60,
		models.CategoryPlanning:     60,
		models.CategoryConsultation: 55,
		models.CategoryService:      50,
		models.CategoryDocument:     50,
		models.CategoryOther:        40,
	}
}

// DefaultStealthConfig returns polite defaults for public-sector sites.
func DefaultStealthConfig() StealthConfig {
	return StealthConfig{
		MinDelay:             2 * time.Second,
		MaxDelay:             5 * time.Second,
		MinRequestInterval:   3 * time.Second,
		LongPauseChance:      0.08,
		LongPauseMin:         10 * time.Second,
		LongPauseMax:         30 * time.Second,
		BreakEveryMin:        40,
		BreakEveryMax:        80,
		BreakMin:             30 * time.Second,
		BreakMax:             2 * time.Minute,
		SessionBreakInterval: 20 * time.Minute,
		ReferrerChance:       0.3,
	}
}

// DefaultConfig returns conservative defaults. Seeds and target domains
// must still be supplied.
func DefaultConfig() *Config {
	return &Config{
		DomainQuotas:       map[string]int{},
		DefaultDomainQuota: 500,
		QualityThresholds:  DefaultQualityThresholds(),
		MaxDepth:           3,
		MaxURLs:            1000,
		MaxDuration:        2 * time.Hour,
		Concurrency:        3,
		Timeout:            30 * time.Second,
		MaxBodySize:        10 << 20,
		MaxRetries:         3,
		RetryBackoff:       2 * time.Second,
		RetryBackoffMax:    2 * time.Minute,
		HostRate:           1,
		Stealth:            DefaultStealthConfig(),
		RecrawlInterval:    6 * time.Hour,
		MaxRevisits:        2,
		AnalysisCacheSize:  512,
		DedupeMaxSize:      100000,
		MaxTables:          10,
		MaxTableRows:       200,
		MaxDocuments:       100,
		MaxEntities:        200,
		PipelineBufferSize: 256,
		BatchSize:          32,
		CheckpointEvery:    50,
		CheckpointDir:      "output/checkpoints",
		VisitedFile:        "output/visited.tsv",
		OutputFile:         "output/records.jsonl",
		OutputFormat:       "json",
		ReportFile:         "output/report.json",
	}
}

// Threshold returns the minimum overall score for category.
func (c *Config) Threshold(category models.Category) int {
	if v, ok := c.QualityThresholds[category]; ok {
		return v
	}
	if v, ok := c.QualityThresholds[models.CategoryOther]; ok {
		return v
	}
	return 0
}

// Validate ensures all configuration values are coherent. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	errs := &cerrors.M{}

	if len(c.TargetDomains) == 0 {
		errs.Append(fmt.Errorf("target domains cannot be empty"))
	}
	for _, d := range c.TargetDomains {
		if err := validateDomain(d); err != nil {
			errs.Append(err)
		}
	}
	if len(c.Seeds) == 0 {
		errs.Append(fmt.Errorf("seed list cannot be empty"))
	}
	for i, s := range c.Seeds {
		if err := c.validateSeed(s); err != nil {
			errs.Append(fmt.Errorf("seed %d: %w", i, err))
		}
	}
	for domain, quota := range c.DomainQuotas {
		if quota < 0 {
			errs.Append(fmt.Errorf("domain quota for %s cannot be negative", domain))
		}
	}
	for category, threshold := range c.QualityThresholds {
		if threshold < 0 || threshold > 100 {
			errs.Append(fmt.Errorf("quality threshold for %s must be within 0-100", category))
		}
	}

	if c.DefaultDomainQuota <= 0 {
		errs.Append(fmt.Errorf("default domain quota must be positive"))
	}
	if c.MaxDepth < 0 {
		errs.Append(fmt.Errorf("max depth cannot be negative"))
	}
	if c.MaxURLs <= 0 {
		errs.Append(fmt.Errorf("max urls must be positive"))
	}
	if c.MaxDuration < 0 {
		errs.Append(fmt.Errorf("max duration cannot be negative"))
	}
	if c.Concurrency <= 0 {
		errs.Append(fmt.Errorf("concurrency must be positive"))
	}
	if c.Timeout <= 0 {
		errs.Append(fmt.Errorf("timeout must be positive"))
	}
	if c.MaxRetries <= 0 {
		errs.Append(fmt.Errorf("max retries must be positive"))
	}
	if c.RetryBackoff < 0 {
		errs.Append(fmt.Errorf("retry backoff cannot be negative"))
	}
	if c.RetryBackoffMax < 0 {
		errs.Append(fmt.Errorf("retry backoff max cannot be negative"))
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		errs.Append(fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax))
	}
	if c.HostRate < 0 {
		errs.Append(fmt.Errorf("host rate cannot be negative"))
	}
	errs.Append(c.Stealth.Validate())

	if c.Recrawl && c.MaxDuration == 0 {
		errs.Append(fmt.Errorf("recrawl requires a max duration"))
	}
	if c.Recrawl && c.RecrawlInterval <= 0 {
		errs.Append(fmt.Errorf("recrawl interval must be positive"))
	}

	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		errs.Append(fmt.Errorf("output format must be csv, json, or dual"))
	}
	if c.DatabaseURL == "" && c.OutputFile == "" {
		errs.Append(fmt.Errorf("output file cannot be empty without a database url"))
	}
	return errs.Err()
}

// Validate checks the delay windows are ordered and non-negative.
func (s StealthConfig) Validate() error {
	errs := &cerrors.M{}
	windows := []struct {
		name string
		min, max time.Duration
	}{
		{"delay", s.MinDelay, s.MaxDelay},
		{"long pause", s.LongPauseMin, s.LongPauseMax},
		{"break", s.BreakMin, s.BreakMax},
	}
	for _, w := range windows {
		if w.min < 0 || w.max < 0 {
			errs.Append(fmt.Errorf("%s window cannot be negative", w.name))
		} else if w.min > w.max {
			errs.Append(fmt.Errorf("%s window min (%s) exceeds max (%s)", w.name, w.min, w.max))
		}
	}
	if s.BreakEveryMin < 0 || s.BreakEveryMin > s.BreakEveryMax {
		errs.Append(fmt.Errorf("break every range [%d,%d] is invalid", s.BreakEveryMin, s.BreakEveryMax))
	}
	if s.LongPauseChance < 0 || s.LongPauseChance > 1 {
		errs.Append(fmt.Errorf("long pause chance must be within 0-1"))
	}
	if s.ReferrerChance < 0 || s.ReferrerChance > 1 {
		errs.Append(fmt.Errorf("referrer chance must be within 0-1"))
	}
	return errs.Err()
}

func (c *Config) validateSeed(s Seed) error {
	if s.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	parsed, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("url %q must be absolute http(s)", s.URL)
	}
	if !DomainAllowed(c.TargetDomains, parsed.Hostname()) {
		return fmt.Errorf("url %q is outside the target domains", s.URL)
	}
	if _, err := models.ParseCategory(string(s.Category)); err != nil {
		return err
	}
	if s.Priority < 0 || s.Priority > 20 {
		return fmt.Errorf("priority %.1f must be within 0-20", s.Priority)
	}
	return nil
}

func validateDomain(domain string) error {
	d := strings.TrimSpace(domain)
	if d == "" {
		return fmt.Errorf("target domain cannot be empty")
	}
	if strings.ContainsAny(d, "/:?# ") || !strings.Contains(d, ".") {
		return fmt.Errorf("invalid target domain %q", domain)
	}
	return nil
}

// DomainFor returns the configured target domain that covers host, or ""
// when host is outside the allow-list. Subdomains are covered by their
// parent.
func DomainFor(domains []string, host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	best := ""
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if host == d || strings.HasSuffix(host, "."+d) {
			if len(d) > len(best) {
				best = d
			}
		}
	}
	return best
}

// DomainAllowed reports whether host belongs to one of domains.
func DomainAllowed(domains []string, host string) bool {
	return DomainFor(domains, host) != ""
}
