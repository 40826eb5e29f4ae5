package provider

import (
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
)

// Base64Expansion is the inflation ratio of base64 transport encoding.
const Base64Expansion = 4.0 / 3.0

// Built-in provider profiles. Cloud backends get a small concurrency bound
// and wide spacing to stay ahead of server-side throttling; local backends
// are bounded by local compute only.
func ollamaProfile() core.ProviderProfile {
	return core.ProviderProfile{
		Name:           "ollama",
		Kind:           core.KindLocalAPI,
		Ceiling:        20 * 1024 * 1024,
		Expansion:      Base64Expansion,
		RequestTimeout: 60 * time.Second,
		HardTimeout:    90 * time.Second,
		MinInterval:    0,
		RetryBudget:    2,
		Concurrency:    4,
	}
}

func openAIProfile() core.ProviderProfile {
	return core.ProviderProfile{
		Name:               "openai",
		Kind:               core.KindCloudAPI,
		Ceiling:            5 * 1024 * 1024,
		Expansion:          Base64Expansion,
		RequestTimeout:     60 * time.Second,
		HardTimeout:        90 * time.Second,
		MinInterval:        time.Second,
		RetryBudget:        4,
		Concurrency:        2,
		RequiresCredential: true,
	}
}

func llamafileProfile() core.ProviderProfile {
	return core.ProviderProfile{
		Name:           "llamafile",
		Kind:           core.KindLocalProcess,
		Ceiling:        20 * 1024 * 1024,
		Expansion:      Base64Expansion,
		RequestTimeout: 85 * time.Second,
		HardTimeout:    90 * time.Second,
		MinInterval:    0,
		RetryBudget:    2,
		Concurrency:    1,
	}
}
