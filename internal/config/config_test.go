package config

import (
	"errors"
	"testing"
)

func validConfig() *Config {
	c := &Config{}
	c.Platform.URL = "https://gitlab.example.com"
	c.Platform.Token = "glpat-test"
	c.Platform.RequestURL = "https://gitlab.example.com/group/proj/-/merge_requests/7"
	c.AI.Provider = "openai"
	c.AI.APIKey = "sk-test"
	c.AI.Model = "gpt-4o"
	c.Scoring.ProblemThreshold = 5
	c.Scoring.BlockingThreshold = 7
	c.Review.TimeoutMinutes = 40
	c.Review.MaxRetries = 1
	return c
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.Platform.Token = "  " }},
		{"missing request url", func(c *Config) { c.Platform.RequestURL = "" }},
		{"problem threshold low", func(c *Config) { c.Scoring.ProblemThreshold = 0 }},
		{"problem threshold high", func(c *Config) { c.Scoring.ProblemThreshold = 11 }},
		{"blocking below problem", func(c *Config) { c.Scoring.BlockingThreshold = 4 }},
		{"timeout too short", func(c *Config) { c.Review.TimeoutMinutes = 4 }},
		{"timeout too long", func(c *Config) { c.Review.TimeoutMinutes = 121 }},
		{"retries negative", func(c *Config) { c.Review.MaxRetries = -1 }},
		{"retries too many", func(c *Config) { c.Review.MaxRetries = 4 }},
		{"escalation without reviewers", func(c *Config) {
			c.Dispute.EnableHumanEscalation = true
			c.Dispute.HumanReviewers = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := Validate(c)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestBotIdentitiesIncludesHandle(t *testing.T) {
	c := validConfig()
	c.Platform.BotHandle = "@revloop-bot"
	c.Platform.BotUsers = []string{"ci-bot"}

	bots := c.BotIdentities()
	if !bots["revloop-bot"] {
		t.Error("mention handle should be a bot identity")
	}
	if !bots["ci-bot"] {
		t.Error("configured bot user missing")
	}
	if bots["alice"] {
		t.Error("unexpected identity")
	}
}
