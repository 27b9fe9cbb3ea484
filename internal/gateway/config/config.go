package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	llmclient "quorum/internal/llm/client"
)

type Config struct {
	Port     string
	Env      string
	Artifact ArtifactConfig
	Store    StoreConfig
	LLM      LLMConfig

	PromptsPath     string
	UsageLedgerPath string
	RunTraceDir     string
}

type ArtifactConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// StoreConfig selects the conversation store. DatabaseURL wins over
// SQLitePath; with neither set conversations live in memory.
type StoreConfig struct {
	DatabaseURL string
	SQLitePath  string
	CacheSize   int
}

// LLMConfig seeds the settings of new chat sessions.
type LLMConfig struct {
	Provider llmclient.Provider
	Model    string
	Keys     map[llmclient.Provider]string

	OpenRouterReferer string
	OpenRouterTitle   string

	RPS   float64
	Burst int
}

// DefaultSettings returns the settings a new session starts with.
func (c LLMConfig) DefaultSettings() llmclient.Settings {
	return llmclient.Settings{Provider: c.Provider, Model: c.Model, Keys: c.Keys}.Clone()
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	port := fs.String("port", ":8081", "server port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	llmCfg, err := loadLLMConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:            *port,
		Env:             env,
		Artifact:        loadArtifactConfig(env),
		Store:           loadStoreConfig(),
		LLM:             llmCfg,
		PromptsPath:     strings.TrimSpace(os.Getenv("PROMPTS_PATH")),
		UsageLedgerPath: strings.TrimSpace(os.Getenv("USAGE_LEDGER_PATH")),
		RunTraceDir:     firstNonEmpty(strings.TrimSpace(os.Getenv("RUN_TRACE_DIR")), "tmp/run-logs"),
	}, nil
}

func loadLLMConfig() (LLMConfig, error) {
	provider := llmclient.ProviderGemini
	if raw := strings.TrimSpace(os.Getenv("LLM_PROVIDER")); raw != "" {
		p, err := llmclient.ParseProvider(raw)
		if err != nil {
			return LLMConfig{}, err
		}
		provider = p
	}
	keys := make(map[llmclient.Provider]string)
	for _, p := range llmclient.Providers() {
		if v := strings.TrimSpace(os.Getenv(p.CredentialEnv())); v != "" {
			keys[p] = v
		}
	}
	rps, _ := strconv.ParseFloat(strings.TrimSpace(os.Getenv("LLM_RPS")), 64)
	burst, _ := strconv.Atoi(strings.TrimSpace(os.Getenv("LLM_BURST")))
	return LLMConfig{
		Provider:          provider,
		Model:             strings.TrimSpace(os.Getenv("LLM_MODEL")),
		Keys:              keys,
		OpenRouterReferer: strings.TrimSpace(os.Getenv("OPENROUTER_REFERER")),
		OpenRouterTitle:   firstNonEmpty(strings.TrimSpace(os.Getenv("OPENROUTER_TITLE")), "quorum"),
		RPS:               rps,
		Burst:             burst,
	}, nil
}

func loadStoreConfig() StoreConfig {
	size, err := strconv.Atoi(strings.TrimSpace(os.Getenv("CONVERSATION_CACHE_SIZE")))
	if err != nil || size <= 0 {
		size = 256
	}
	return StoreConfig{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  strings.TrimSpace(os.Getenv("SQLITE_PATH")),
		CacheSize:   size,
	}
}

func loadArtifactConfig(env string) ArtifactConfig {
	endpoint := resolveArtifactEndpoint(env)
	return ArtifactConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "quorum-transcripts"),
		UseSSL:    resolveArtifactUseSSL(env),
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("ARTIFACT_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
