package gemlive

import (
	"fmt"
	"github.com/codewandler/gemlive-go/tool"
	"log/slog"
	"os"
	"time"
)

const (
	ApiKeyEnvVarNameShort = "GEMINI_KEY"
	ApiKeyEnvVarNameLong  = "GEMINI_API_KEY"

	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

type clientConfig struct {
	endpoint      string
	model         string
	apiKey        string
	instruction   string
	modality      string
	dialTimeoutMS int
	logger        *slog.Logger
	tools         []tool.Declaration
}

func (c *clientConfig) dialTimeout() time.Duration {
	return time.Duration(c.dialTimeoutMS) * time.Millisecond
}

func (c *clientConfig) validate() error {
	if c.apiKey == "" {
		return fmt.Errorf("missing api key")
	}
	if c.endpoint == "" {
		return fmt.Errorf("missing endpoint")
	}
	return nil
}

type ClientOption func(*clientConfig)

func WithTools(tools ...tool.Declaration) ClientOption {
	return func(config *clientConfig) {
		config.tools = tools
	}
}

// WithEndpoint overrides the service endpoint (without the key parameter).
func WithEndpoint(endpoint string) ClientOption {
	return func(o *clientConfig) {
		o.endpoint = endpoint
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientConfig) {
		o.logger = logger
	}
}

func WithDefaultLogger() ClientOption {
	return WithLogger(slog.Default())
}

func WithModel(model string) ClientOption {
	return func(o *clientConfig) {
		o.model = model
	}
}

func WithKey(apiKey string) ClientOption {
	return func(o *clientConfig) {
		o.apiKey = apiKey
	}
}

// WithEnvKey reads the credential from the first non-empty environment
// variable. With no arguments it checks GEMINI_KEY, then GEMINI_API_KEY.
func WithEnvKey(vars ...string) ClientOption {
	return func(o *clientConfig) {
		if len(vars) == 0 {
			vars = []string{ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong}
		}
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				o.apiKey = k
				return
			}
		}
	}
}

// WithResponseModality selects what the model answers with ("AUDIO" or "TEXT").
func WithResponseModality(modality string) ClientOption {
	return func(o *clientConfig) {
		o.modality = modality
	}
}

func WithInstruction(instruction string) ClientOption {
	return func(o *clientConfig) {
		o.instruction = instruction
	}
}

// WithDialTimeout sets the transport handshake timeout in milliseconds.
func WithDialTimeout(timeoutMS int) ClientOption {
	return func(o *clientConfig) {
		o.dialTimeoutMS = timeoutMS
	}
}

func WithOptions(opts ...ClientOption) ClientOption {
	return func(o *clientConfig) {
		for _, opt := range opts {
			opt(o)
		}
	}
}

func withDefaults() ClientOption {
	return WithOptions(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithEndpoint(DefaultEndpoint),
		WithModel("models/gemini-2.0-flash-live-001"),
		WithResponseModality("AUDIO"),
		WithInstruction("You are a helpful assistant."),
		WithDialTimeout(10_000),
		WithEnvKey(ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong),
	)
}
