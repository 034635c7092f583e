package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ErrInvalid marks configuration errors. They are fatal: the run must stop
// before any platform or model call is made.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration.
type Config struct {
	Platform struct {
		URL        string   `koanf:"url"`
		Token      string   `koanf:"token"`
		RequestURL string   `koanf:"request_url"`
		BotHandle  string   `koanf:"bot_handle"`
		BotUsers   []string `koanf:"bot_users"`
	} `koanf:"platform"`

	AI struct {
		Provider    string  `koanf:"provider"`
		APIKey      string  `koanf:"api_key"`
		Model       string  `koanf:"model"`
		BaseURL     string  `koanf:"base_url"`
		Temperature float64 `koanf:"temperature"`
		MaxTokens   int     `koanf:"max_tokens"`
	} `koanf:"ai"`

	Agent struct {
		URL string `koanf:"url"`
	} `koanf:"agent"`

	Scoring struct {
		ProblemThreshold  int `koanf:"problem_threshold"`
		BlockingThreshold int `koanf:"blocking_threshold"`
	} `koanf:"scoring"`

	Review struct {
		TimeoutMinutes int `koanf:"timeout_minutes"`
		MaxRetries     int `koanf:"max_retries"`
	} `koanf:"review"`

	Dispute struct {
		EnableHumanEscalation bool     `koanf:"enable_human_escalation"`
		HumanReviewers        []string `koanf:"human_reviewers"`
	} `koanf:"dispute"`

	Security struct {
		InjectionDetectionEnabled bool   `koanf:"injection_detection_enabled"`
		VerificationModel         string `koanf:"verification_model"`
	} `koanf:"security"`

	Tools struct {
		ListenAddr string `koanf:"listen_addr"`
	} `koanf:"tools"`
}

// Timeout returns the wall-clock budget for one review attempt.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Review.TimeoutMinutes) * time.Minute
}

// BotIdentities returns the set of usernames treated as automation authors.
// The mention handle is always a member.
func (c *Config) BotIdentities() map[string]bool {
	bots := make(map[string]bool, len(c.Platform.BotUsers)+1)
	for _, u := range c.Platform.BotUsers {
		bots[u] = true
	}
	if c.Platform.BotHandle != "" {
		bots[strings.TrimPrefix(c.Platform.BotHandle, "@")] = true
	}
	return bots
}

// LoadConfig loads the configuration from a file.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"platform.bot_handle":                  "@revloop-bot",
		"platform.bot_users":                   []string{"revloop-bot"},
		"ai.provider":                          "openai",
		"ai.model":                             "gpt-4o",
		"ai.temperature":                       0.2,
		"ai.max_tokens":                        4096,
		"agent.url":                            "http://127.0.0.1:4096",
		"scoring.problem_threshold":            5,
		"scoring.blocking_threshold":           0,
		"review.timeout_minutes":               40,
		"review.max_retries":                   1,
		"dispute.enable_human_escalation":      false,
		"security.injection_detection_enabled": true,
		"tools.listen_addr":                    "127.0.0.1:8941",
	}, "."), nil)

	// Load from TOML file if it exists
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		// Try default locations
		defaultPaths := []string{"./revloop.toml", "$HOME/.revloop.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix REVLOOP_
	k.Load(env.Provider("REVLOOP_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "REVLOOP_")
		return strings.Replace(strings.ToLower(s), "__", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	// Blocking threshold defaults to the problem threshold when unset.
	if config.Scoring.BlockingThreshold == 0 {
		config.Scoring.BlockingThreshold = config.Scoring.ProblemThreshold
	}

	return &config, nil
}

// InitConfig initializes a new configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# revloop configuration

[platform]
url = "https://gitlab.example.com"
token = "your-platform-token"
request_url = "https://gitlab.example.com/group/project/-/merge_requests/1"
bot_handle = "@revloop-bot"
bot_users = ["revloop-bot"]

[ai]
provider = "openai"
api_key = "your-api-key"
model = "gpt-4o"
temperature = 0.2
max_tokens = 4096

[agent]
url = "http://127.0.0.1:4096"

[scoring]
problem_threshold = 5
blocking_threshold = 7

[review]
timeout_minutes = 40
max_retries = 1

[dispute]
enable_human_escalation = false
human_reviewers = []

[security]
injection_detection_enabled = true
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration. All failures wrap ErrInvalid.
func Validate(config *Config) error {
	if strings.TrimSpace(config.Platform.Token) == "" {
		return fmt.Errorf("%w: platform token is required", ErrInvalid)
	}
	if strings.TrimSpace(config.Platform.URL) == "" {
		return fmt.Errorf("%w: platform url is required", ErrInvalid)
	}
	if strings.TrimSpace(config.Platform.RequestURL) == "" {
		return fmt.Errorf("%w: review request url is required", ErrInvalid)
	}
	if strings.TrimSpace(config.AI.APIKey) == "" && config.AI.Provider != "ollama" {
		return fmt.Errorf("%w: ai api_key is required", ErrInvalid)
	}
	if strings.TrimSpace(config.AI.Model) == "" {
		return fmt.Errorf("%w: ai model is required", ErrInvalid)
	}

	if config.Scoring.ProblemThreshold < 1 || config.Scoring.ProblemThreshold > 10 {
		return fmt.Errorf("%w: problem threshold must be between 1 and 10", ErrInvalid)
	}
	if config.Scoring.BlockingThreshold < 1 || config.Scoring.BlockingThreshold > 10 {
		return fmt.Errorf("%w: blocking threshold must be between 1 and 10", ErrInvalid)
	}
	if config.Scoring.BlockingThreshold < config.Scoring.ProblemThreshold {
		return fmt.Errorf("%w: blocking threshold cannot be lower than problem threshold", ErrInvalid)
	}

	if config.Review.TimeoutMinutes < 5 || config.Review.TimeoutMinutes > 120 {
		return fmt.Errorf("%w: review timeout must be between 5 and 120 minutes", ErrInvalid)
	}
	if config.Review.MaxRetries < 0 || config.Review.MaxRetries > 3 {
		return fmt.Errorf("%w: max retries must be between 0 and 3", ErrInvalid)
	}

	if config.Dispute.EnableHumanEscalation && len(config.Dispute.HumanReviewers) == 0 {
		return fmt.Errorf("%w: human escalation enabled but no reviewers configured", ErrInvalid)
	}

	return nil
}
