package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures credentials,
// content strategy, engagement limits, follow criteria, quotas, and schedules.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Content     ContentConfig     `yaml:"content"`
	Reply       ReplyConfig       `yaml:"reply"`
	Follow      FollowConfig      `yaml:"follow"`
	Quotas      QuotaConfig       `yaml:"quotas"`
	Schedules   ScheduleConfig    `yaml:"schedules"`
	LLM         LLMConfig         `yaml:"llm"`
	Media       MediaConfig       `yaml:"media"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
	UserID   string `yaml:"userId"`
	// Premium accounts get the higher daily post cap and longer texts.
	Premium bool `yaml:"premium"`
}

type CredentialsConfig struct {
	// App bearer token for read endpoints. If empty, read from env X_BEARER_TOKEN.
	BearerToken string `yaml:"bearerToken"`
	// OAuth 1.0a user credentials for write endpoints (post/follow/media).
	ConsumerKey    string `yaml:"consumerKey"`
	ConsumerSecret string `yaml:"consumerSecret"`
	AccessToken    string `yaml:"accessToken"`
	AccessSecret   string `yaml:"accessSecret"`
}

// Topic is one promptable subject with a relative selection weight.
type Topic struct {
	Name    string `yaml:"name"`
	Persona string `yaml:"persona"`
	Prompt  string `yaml:"prompt"`
	Weight  int    `yaml:"weight"`
	// WithSnippet marks topics whose prompts ask for a code snippet.
	WithSnippet bool `yaml:"withSnippet,omitempty"`
}

type ContentConfig struct {
	// Percentage shares per top-level category; must sum to 100.
	Ratios struct {
		Insight    int `yaml:"insight"`
		Brand      int `yaml:"brand"`
		Engagement int `yaml:"engagement"`
	} `yaml:"ratios"`
	Topics []Topic `yaml:"topics"`
	// Hashtag pools by subject area, appended to generated texts.
	Hashtags map[string][]string `yaml:"hashtags"`
	// CharLimit is the platform ceiling; ComposeLimit leaves headroom under it.
	CharLimit    int `yaml:"charLimit"`
	ComposeLimit int `yaml:"composeLimit"`
	// ImageShare is the probability an engagement post carries an image.
	ImageShare float64 `yaml:"imageShare"`
}

type ReplyConfig struct {
	MaxPerAccountPerDay int `yaml:"maxPerAccountPerDay"`
	MaxPerThreadPerDay  int `yaml:"maxPerThreadPerDay"`
	DailyTargetMin      int `yaml:"dailyTargetMin"`
	DailyTargetMax      int `yaml:"dailyTargetMax"`
	// HardDailyCap is a second ceiling kept separate from the target range;
	// the effective limit is the lower of the two.
	HardDailyCap int `yaml:"hardDailyCap"`
	// PromotionalShare is the probability a reply mentions the brand.
	PromotionalShare float64 `yaml:"promotionalShare"`
	// Search rotation: hour-of-day indexes into this list.
	SearchTerms []string `yaml:"searchTerms"`
	Hashtags    []string `yaml:"hashtags"`
	Keywords    []string `yaml:"keywords"`
	// TopN is how many candidates one engagement tick replies to.
	TopN           int `yaml:"topN"`
	MentionsPerRun int `yaml:"mentionsPerRun"`
}

type FollowConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Keywords      []string `yaml:"keywords"`
	MaxPerDay     int      `yaml:"maxPerDay"`
	PacingDelayMs int64    `yaml:"pacingDelayMs"`
	MinFollowers  int      `yaml:"minFollowers"`
	MaxFollowers  int      `yaml:"maxFollowers"`
	MinFollowing  int      `yaml:"minFollowing"`
	MaxFollowing  int      `yaml:"maxFollowing"`
	MinTweets     int      `yaml:"minTweets"`
	MustVerified  bool     `yaml:"mustBeVerified"`
	MustPicture   bool     `yaml:"mustHavePicture"`
	MustBio       bool     `yaml:"mustHaveBio"`
	BioContains   []string `yaml:"bioContains"`
	MinAgeDays    int      `yaml:"minAccountAgeDays"`
	SearchPerRun  int      `yaml:"searchPerRun"`
}

// PacingDelay is the wait inserted between consecutive follow calls.
func (f FollowConfig) PacingDelay() time.Duration {
	return time.Duration(f.PacingDelayMs) * time.Millisecond
}

// Window is one rolling-window allowance.
type Window struct {
	WindowMs    int64 `yaml:"windowMs"`
	MaxRequests int   `yaml:"maxRequests"`
}

func (w Window) Duration() time.Duration { return time.Duration(w.WindowMs) * time.Millisecond }

type QuotaConfig struct {
	Post        Window `yaml:"post"`
	Search      Window `yaml:"search"`
	UserLookup  Window `yaml:"userLookup"`
	UserActions Window `yaml:"userActions"`
	Mentions    Window `yaml:"mentions"`
	// Calendar-day post caps, distinct from the rolling windows.
	DailyPostCap        int `yaml:"dailyPostCap"`
	DailyPostCapPremium int `yaml:"dailyPostCapPremium"`
}

// EffectiveDailyPostCap picks the cap matching the account tier.
func (q QuotaConfig) EffectiveDailyPostCap(premium bool) int {
	if premium {
		return q.DailyPostCapPremium
	}
	return q.DailyPostCap
}

type ScheduleConfig struct {
	Post     string `yaml:"post"`
	Engage   string `yaml:"engage"`
	Mentions string `yaml:"mentions"`
	Follow   string `yaml:"follow"`
	Metrics  string `yaml:"metrics"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" or "none"
	Model    string `yaml:"model"`
	// If empty, read from env OPENAI_API_KEY.
	APIKey          string `yaml:"apiKey"`
	MaxCallsPerHour int    `yaml:"maxCallsPerHour"`
}

type MediaConfig struct {
	AssetDir string `yaml:"assetDir"`
	// GeneratorURL, when set, is tried for on-demand images before the placeholder.
	GeneratorURL string `yaml:"generatorUrl"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Default returns a sensible default configuration matching the platform's
// free tier.
func Default() Config {
	var cfg Config
	cfg.Account = AccountConfig{}
	cfg.Content.Ratios.Insight = 30
	cfg.Content.Ratios.Brand = 30
	cfg.Content.Ratios.Engagement = 40
	cfg.Content.CharLimit = 280
	cfg.Content.ComposeLimit = 275
	cfg.Content.ImageShare = 0.5
	cfg.Content.Topics = []Topic{
		{Name: "Identity Verification", Persona: "identity engineer", Weight: 4,
			Prompt: "Write a short, confident take on decentralized identity and verifiable credentials."},
		{Name: "Compliance & KYC", Persona: "compliance engineer", Weight: 4,
			Prompt: "Write a short take on privacy-preserving compliance and why legacy KYC is broken."},
		{Name: "DeFi & Payments", Persona: "payments engineer", Weight: 3,
			Prompt: "Write a short take on compliant DeFi payments without sacrificing privacy."},
		{Name: "Zero-Knowledge Proofs", Persona: "cryptography researcher", Weight: 4, WithSnippet: true,
			Prompt: "Explain one zero-knowledge concept with a tiny pseudocode snippet."},
		{Name: "Emerging Markets", Persona: "fintech analyst", Weight: 2,
			Prompt: "Write a short take on financial inclusion through digital identity in emerging markets."},
	}
	cfg.Content.Hashtags = map[string][]string{
		"identity":   {"#DecentralizedID", "#VerifiableCredentials", "#SSI", "#DID"},
		"compliance": {"#RegTech", "#KYCAML", "#DeFiCompliance", "#ZKCompliance"},
		"defi":       {"#DeFi", "#CryptoPayments", "#Stablecoins"},
		"general":    {"#Web3", "#Blockchain", "#DigitalIdentity"},
	}
	cfg.Reply = ReplyConfig{
		MaxPerAccountPerDay: 1,
		MaxPerThreadPerDay:  2,
		DailyTargetMin:      20,
		DailyTargetMax:      50,
		HardDailyCap:        50,
		PromotionalShare:    0.5,
		SearchTerms: []string{
			"#decentralizedid", "#verifiablecredentials", "identity verification",
			"#deficompliance", "kyc", "#regtech", "zero knowledge proofs", "#ssi",
		},
		Hashtags: []string{"#decentralizedid", "#verifiablecredentials", "#deficompliance", "#regtech", "#ssi"},
		Keywords: []string{"identity verification", "compliance", "kyc", "verifiable credentials", "zero knowledge", "privacy"},
		TopN:           3,
		MentionsPerRun: 2,
	}
	cfg.Follow = FollowConfig{
		Enabled:      false,
		Keywords:      []string{"identity verification", "verifiable credentials", "regtech"},
		MaxPerDay:     2,
		PacingDelayMs: 5000,
		MinFollowers: 100, MaxFollowers: 100000,
		MinFollowing: 10, MaxFollowing: 5000,
		MinTweets:   50,
		MustPicture: true, MustBio: true,
		MinAgeDays:   30,
		SearchPerRun: 20,
	}
	day := int64(24 * time.Hour / time.Millisecond)
	cfg.Quotas = QuotaConfig{
		Post:                Window{WindowMs: day, MaxRequests: 200},
		Search:              Window{WindowMs: day, MaxRequests: 10},
		UserLookup:          Window{WindowMs: day, MaxRequests: 3},
		Mentions:            Window{WindowMs: day, MaxRequests: 180},
		UserActions:         Window{WindowMs: int64(15 * time.Minute / time.Millisecond), MaxRequests: 50},
		DailyPostCap:        15,
		DailyPostCapPremium: 1000,
	}
	cfg.Schedules = ScheduleConfig{
		Post:     "0 */3 * * *",
		Engage:   "0 */4 * * *",
		Mentions: "0 */6 * * *",
		Follow:   "0 10 * * *",
		Metrics:  "0 0 * * *",
	}
	cfg.LLM = LLMConfig{Provider: "none", Model: "gpt-4o-mini", MaxCallsPerHour: 20}
	cfg.Media = MediaConfig{AssetDir: "./assets"}
	cfg.Storage = StorageConfig{DBPath: "./magpie.db"}
	cfg.Server = ServerConfig{Addr: ":8080", MetricsAddr: ":9090"}
	return cfg
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Credentials.BearerToken == "" {
		c.Credentials.BearerToken = os.Getenv("X_BEARER_TOKEN")
	}
	if c.Credentials.ConsumerKey == "" {
		c.Credentials.ConsumerKey = os.Getenv("X_CONSUMER_KEY")
	}
	if c.Credentials.ConsumerSecret == "" {
		c.Credentials.ConsumerSecret = os.Getenv("X_CONSUMER_SECRET")
	}
	if c.Credentials.AccessToken == "" {
		c.Credentials.AccessToken = os.Getenv("X_ACCESS_TOKEN")
	}
	if c.Credentials.AccessSecret == "" {
		c.Credentials.AccessSecret = os.Getenv("X_ACCESS_SECRET")
	}
	if c.Account.UserID == "" {
		c.Account.UserID = os.Getenv("X_USER_ID")
	}
	if c.LLM.APIKey == "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate rejects configurations the selectors cannot run on.
func (c *Config) Validate() error {
	r := c.Content.Ratios
	if sum := r.Insight + r.Brand + r.Engagement; sum != 100 {
		return fmt.Errorf("content ratios must sum to 100, got %d", sum)
	}
	for _, t := range c.Content.Topics {
		if t.Weight < 0 {
			return fmt.Errorf("topic %q has negative weight", t.Name)
		}
	}
	if c.Reply.PromotionalShare < 0 || c.Reply.PromotionalShare > 1 {
		return errors.New("reply.promotionalShare must be in [0,1]")
	}
	if c.Content.ComposeLimit > c.Content.CharLimit {
		return errors.New("content.composeLimit exceeds content.charLimit")
	}
	return nil
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
