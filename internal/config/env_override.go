package config

import "os"

// applyEnvOverrides lets credentials and endpoints come from the environment
// instead of the config file, so keys never need to live on disk.
func applyEnvOverrides(c *Config) {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Models.Stage1.Provider == "genai" {
			c.Models.Stage1.APIKey = key
		}
		if c.Models.Stage2.Provider == "genai" {
			c.Models.Stage2.APIKey = key
		}
	}
	if key := os.Getenv("NEWS_API_KEY"); key != "" {
		c.Sources.News.APIKey = key
	}
	if key := os.Getenv("ALPHAVANTAGE_API_KEY"); key != "" {
		c.Sources.Market.APIKey = key
	}
	if key := os.Getenv("FRED_API_KEY"); key != "" {
		c.Sources.Macro.APIKey = key
	}
	if url := os.Getenv("FINSYNTH_STAGE1_ENDPOINT"); url != "" {
		c.Models.Stage1.Endpoint = url
	}
	if url := os.Getenv("FINSYNTH_STAGE2_ENDPOINT"); url != "" {
		c.Models.Stage2.Endpoint = url
	}
	if path := os.Getenv("FINSYNTH_DB"); path != "" {
		c.Store.Path = path
	}
}
