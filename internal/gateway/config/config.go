package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"smartplanning/internal/agent"
	"smartplanning/internal/autocorrect"
)

const (
	StorageLocal    = "local"
	StorageS3       = "s3"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	Storage    StorageConfig
	Planning   PlanningConfig
	LLM        LLMConfig
	Correction CorrectionConfig
	Agent      agent.Config
	Knowledge  KnowledgeConfig
}

type StorageConfig struct {
	Mode        string
	LocalPath   string
	DatabaseURL string
	SQLitePath  string
	Artifact    ArtifactConfig
}

type ArtifactConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type PlanningConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type LLMConfig struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	GroqAPIKey    string
	AzureAPIKey   string
	AzureEndpoint string
	AzureVersion  string
	AzureDeploy   string
	RetryAttempts int
	UsageLedger   string
}

type CorrectionConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	StepTimeout       time.Duration `yaml:"step_timeout"`
	UseReferenceData  bool          `yaml:"use_reference_data"`
	ReferenceDataPath string        `yaml:"reference_data_path"`
	FixRulesPath      string        `yaml:"fix_rules_path"`
}

type KnowledgeConfig struct {
	DBPath string
	Dir    string
}

// fileConfig is the optional YAML file named by SMARTPLANNING_CONFIG.
type fileConfig struct {
	Agent      agent.Config     `yaml:"agent"`
	Correction CorrectionConfig `yaml:"correction"`
}

// Load reads .env, the optional YAML file and the environment, in increasing
// precedence. The -port flag is registered on the default flag set.
func Load() (*Config, error) {
	port := flag.String("port", ":8081", "server port")
	flag.Parse()
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if os.Getenv("PORT") == "" {
		cfg.Port = *port
	}
	return cfg, nil
}

// FromEnv is Load without flag parsing; the CLI uses it.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	env := firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), "local")
	file, err := readFile(strings.TrimSpace(os.Getenv("SMARTPLANNING_CONFIG")))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      normalizePort(firstNonEmpty(os.Getenv("PORT"), ":8081")),
		Env:       env,
		LogLevel:  firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), "info"),
		Storage:   loadStorageConfig(env),
		Planning:  loadPlanningConfig(),
		LLM:       loadLLMConfig(),
		Agent:     file.Agent,
		Knowledge: loadKnowledgeConfig(),
	}
	if cfg.Correction, err = loadCorrectionConfig(file.Correction); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsLocal reports whether the process runs on a developer machine.
func (c *Config) IsLocal() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "local")
}

func readFile(path string) (fileConfig, error) {
	fc := fileConfig{Agent: agent.DefaultConfig()}
	if path == "" {
		return fc, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func loadStorageConfig(env string) StorageConfig {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_MODE")))
	if mode == "" {
		mode = defaultStorageMode(env)
	}
	return StorageConfig{
		Mode:        mode,
		LocalPath:   firstNonEmpty(strings.TrimSpace(os.Getenv("LOCAL_STORAGE_PATH")), "data/snapshots"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  firstNonEmpty(strings.TrimSpace(os.Getenv("SQLITE_PATH")), "data/smartplanning.db"),
		Artifact:    loadArtifactConfig(env),
	}
}

func loadArtifactConfig(env string) ArtifactConfig {
	return ArtifactConfig{
		Endpoint:  resolveArtifactEndpoint(env),
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), "smartplanning-snapshots"),
		UseSSL:    resolveArtifactUseSSL(env),
	}
}

func resolveArtifactEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT")), strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")), "minio:9000")
	}
	return strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT"))
}

func resolveArtifactUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	return envBool("ARTIFACT_S3_USE_SSL", true)
}

func loadPlanningConfig() PlanningConfig {
	return PlanningConfig{
		BaseURL:      strings.TrimSpace(os.Getenv("PLANNING_BASE_URL")),
		Realm:        strings.TrimSpace(os.Getenv("PLANNING_REALM")),
		ClientID:     firstNonEmpty(strings.TrimSpace(os.Getenv("PLANNING_CLIENT_ID")), "apiClient-test"),
		ClientSecret: strings.TrimSpace(os.Getenv("CLIENT_SECRET")),
		Timeout:      envDuration("PLANNING_TIMEOUT", 60*time.Second),
	}
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:      strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("LLM_PROVIDER")), "heuristic")),
		Model:         strings.TrimSpace(os.Getenv("LLM_MODEL")),
		GeminiAPIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		GroqAPIKey:    strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
		AzureAPIKey:   strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_KEY")),
		AzureEndpoint: strings.TrimSpace(os.Getenv("AZURE_OPENAI_ENDPOINT")),
		AzureVersion:  firstNonEmpty(strings.TrimSpace(os.Getenv("AZURE_OPENAI_API_VERSION")), "2024-08-01-preview"),
		AzureDeploy:   strings.TrimSpace(os.Getenv("AZURE_OPENAI_DEPLOYMENT")),
		RetryAttempts: envInt("LLM_RETRY_ATTEMPTS", 3),
		UsageLedger:   strings.TrimSpace(os.Getenv("LLM_USAGE_LEDGER")),
	}
}

func loadCorrectionConfig(file CorrectionConfig) (CorrectionConfig, error) {
	c := file
	if c.MaxIterations <= 0 {
		c.MaxIterations = autocorrect.DefaultMaxIterations
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = autocorrect.DefaultStepTimeout
	}
	c.MaxIterations = envInt("CORRECTION_MAX_ITERATIONS", c.MaxIterations)
	c.StepTimeout = envDuration("STEP_TIMEOUT", c.StepTimeout)
	c.UseReferenceData = envBool("USE_REFERENCE_DATA", c.UseReferenceData)
	c.ReferenceDataPath = firstNonEmpty(strings.TrimSpace(os.Getenv("REFERENCE_DATA_PATH")), c.ReferenceDataPath)
	c.FixRulesPath = firstNonEmpty(strings.TrimSpace(os.Getenv("FIX_RULES_PATH")), c.FixRulesPath)
	if c.UseReferenceData && c.ReferenceDataPath == "" {
		return c, fmt.Errorf("USE_REFERENCE_DATA is set but REFERENCE_DATA_PATH is empty")
	}
	return c, nil
}

func loadKnowledgeConfig() KnowledgeConfig {
	return KnowledgeConfig{
		DBPath: firstNonEmpty(strings.TrimSpace(os.Getenv("KNOWLEDGE_DB")), "data/knowledge.db"),
		Dir:    strings.TrimSpace(os.Getenv("KNOWLEDGE_DIR")),
	}
}

func normalizePort(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, ":") || strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// envDuration accepts Go durations ("90s") or a plain number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
