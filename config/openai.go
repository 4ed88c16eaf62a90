package config

import (
	"errors"
	"time"
)

type OpenAIConfig struct {
	APIKey      string        `yaml:"apiKey"`
	AssistantID string        `yaml:"assistantId"`
	BaseURL     string        `yaml:"baseUrl"`
	Timeout     time.Duration `yaml:"timeout"`
}

type FiscalConfig struct {
	APIURL   string        `yaml:"apiUrl"`
	Timeout  time.Duration `yaml:"timeout"`
	CacheTTL time.Duration `yaml:"cacheTtl"`
}

func defaultOpenAI() OpenAIConfig {
	return OpenAIConfig{
		BaseURL: "https://api.openai.com/v1",
		Timeout: 60 * time.Second,
	}
}

func defaultFiscal() FiscalConfig {
	return FiscalConfig{
		Timeout:  15 * time.Second,
		CacheTTL: 24 * time.Hour,
	}
}

func (c *OpenAIConfig) applyEnv() {
	envString("OPENAI_API_KEY", &c.APIKey)
	envString("OPENAI_ASSISTANT_ID", &c.AssistantID)
	envString("OPENAI_BASE_URL", &c.BaseURL)
	envDuration("OPENAI_TIMEOUT", &c.Timeout)
}

// Validate is called by the structuring worker only.
func (c *OpenAIConfig) Validate() error {
	if c.APIKey == "" || c.AssistantID == "" {
		return errors.New("OPENAI_API_KEY and OPENAI_ASSISTANT_ID are required")
	}
	return nil
}

func (c *FiscalConfig) applyEnv() {
	envString("FISCAL_API_URL", &c.APIURL)
	envDuration("FISCAL_TIMEOUT", &c.Timeout)
	envDuration("FISCAL_CACHE_TTL", &c.CacheTTL)
}

// Enabled reports whether the fiscal lookup has somewhere to go.
func (c *FiscalConfig) Enabled() bool {
	return c.APIURL != ""
}
