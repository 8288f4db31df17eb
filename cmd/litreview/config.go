package main

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/litreview/internal/secrets"
	"github.com/pdiddy/litreview/pkg/types"
)

// optionalKeys are config keys whose defaults are empty and therefore
// missing from the marshaled defaults. Registering them lets environment
// variables such as LITREVIEW_AI_BASE_URL reach them.
var optionalKeys = []string{
	"search.arxiv_base_url",
	"extraction.image",
	"ai.base_url",
	"ai.api_key",
	"embedding.api_key",
	"knowledge_base.postgres_dsn",
}

// registerDefaults seeds viper with every field of the default pipeline
// config so that config files, flags and environment variables can
// override any of them.
func registerDefaults() {
	data, err := yaml.Marshal(types.DefaultPipelineConfig())
	if err != nil {
		panic(fmt.Sprintf("marshaling default config: %v", err))
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		panic(fmt.Sprintf("unmarshaling default config: %v", err))
	}
	setDefaults("", tree)
	for _, k := range optionalKeys {
		viper.SetDefault(k, "")
	}
}

func setDefaults(prefix string, tree map[string]any) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			setDefaults(key, sub)
			continue
		}
		viper.SetDefault(key, v)
	}
}

// loadConfig resolves the pipeline config from defaults, the config file,
// bound flags and the environment, then fills API keys from secrets.
func loadConfig() (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()

	err := viper.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.Squash = true
	})
	if err != nil {
		return cfg, types.Configf("", "invalid configuration: %v", err)
	}

	switch cfg.AI.Backend {
	case types.BackendOpenAI:
		cfg.AI.APIKey = secretDefault(secrets.OpenAIAPIKey, cfg.AI.APIKey)
	default:
		cfg.AI.APIKey = secretDefault(secrets.AnthropicAPIKey, cfg.AI.APIKey)
	}
	cfg.Embedding.APIKey = secretDefault(secrets.EmbeddingAPIKey, cfg.Embedding.APIKey)
	cfg.Embedding.APIKey = secretDefault(secrets.OpenAIAPIKey, cfg.Embedding.APIKey)
	cfg.KnowledgeBase.PostgresDSN = secretDefault(secrets.PostgresDSN, cfg.KnowledgeBase.PostgresDSN)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// requestTimeout is the per-call timeout for the generation and embedding
// backends.
func requestTimeout(cfg types.PipelineConfig) time.Duration {
	if cfg.Acquisition.Timeout > 0 {
		return cfg.Acquisition.Timeout
	}
	return 60 * time.Second
}
