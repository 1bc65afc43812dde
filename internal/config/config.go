package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from the environment.
// Optional sections left unset disable the corresponding feature.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	OpenAI    OpenAIConfig
	Qdrant    QdrantConfig
	S3        S3Config
	Prompts   PromptsConfig
	WebSearch WebSearchConfig
	Converter ConverterConfig

	KnowledgeCollection string
	UserDocCollection   string
	MemoryCollection    string

	DevAutoCreateUser bool
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL string
}

func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

type OpenAIConfig struct {
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int
}

type QdrantConfig struct {
	URL    string
	Host   string
	Port   int
	APIKey string
}

func (q QdrantConfig) Enabled() bool { return q.URL != "" || q.Host != "" }

type S3Config struct {
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

type PromptsConfig struct {
	PublicKey string
	SecretKey string
	BaseURL   string
	Version   int    // 0 means resolve by label
	Label     string // default "production"
}

func (p PromptsConfig) Enabled() bool { return p.PublicKey != "" && p.SecretKey != "" }

type WebSearchConfig struct {
	URL string
}

func (w WebSearchConfig) Enabled() bool { return w.URL != "" }

type ConverterConfig struct {
	URL string
}

func (c ConverterConfig) Enabled() bool { return c.URL != "" }

// Load reads configuration from the environment. A .env file is applied
// first when present so local development works without exported variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host: getenv("SERVER_HOST", "0.0.0.0"),
			Port: intenv("SERVER_PORT", 8001),
		},
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		OpenAI: OpenAIConfig{
			APIKey:              strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			Model:               getenv("OPENAI_MODEL", "gpt-4o"),
			EmbeddingModel:      getenv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimensions: intenv("EMBEDDING_DIMENSIONS", 1536),
		},
		Qdrant: QdrantConfig{
			URL:    os.Getenv("QDRANT_URL"),
			Host:   os.Getenv("QDRANT_HOST"),
			Port:   intenv("QDRANT_PORT", 6334),
			APIKey: os.Getenv("QDRANT_API_KEY"),
		},
		S3: S3Config{
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Region:    getenv("AWS_REGION", "ap-northeast-2"),
			Bucket:    os.Getenv("AWS_S3_BUCKET_NAME"),
		},
		Prompts: PromptsConfig{
			PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
			SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
			BaseURL:   getenv("LANGFUSE_BASE_URL", "https://cloud.langfuse.com"),
			Version:   intenv("PROMPT_VERSION", 0),
			Label:     getenv("PROMPT_LABEL", "production"),
		},
		WebSearch: WebSearchConfig{
			URL: os.Getenv("WEB_SEARCH_URL"),
		},
		Converter: ConverterConfig{
			URL: os.Getenv("CONVERTER_URL"),
		},
		KnowledgeCollection: getenv("KNOWLEDGE_COLLECTION", "trade_documents"),
		UserDocCollection:   getenv("USER_DOC_COLLECTION", "user_documents"),
		MemoryCollection:    getenv("MEMORY_COLLECTION", "trade_memories"),
		DevAutoCreateUser:   boolenv("DEV_AUTO_CREATE_USER", false),
	}

	if cfg.OpenAI.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required (set in .env or environment)")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intenv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolenv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
