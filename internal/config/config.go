package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the Perplexity chat completions endpoint.
const DefaultEndpoint = "https://api.perplexity.ai/chat/completions"

type Configuration struct {
	API    *APIConfig
	Model  *ModelConfig
	Search *SearchConfig
	Log    *LogConfig
}

type APIConfig struct {
	Key     string
	URL     string
	Timeout time.Duration
}

type ModelConfig struct {
	Model          string
	ReasoningModel string
}

// SearchConfig carries the sampling parameters sent with search requests.
// Plain conversation requests send only model and messages.
type SearchConfig struct {
	MaxTokens         int
	Temperature       float64
	TopP              float64
	FrequencyPenalty  float64
	SearchContextSize string
}

type LogConfig struct {
	Path    string
	Verbose bool
}

// YamlSource implements cli.ValueSource for a map loaded from YAML
type YamlSource struct {
	data map[string]any
	key  string
}

func (y *YamlSource) Lookup() (string, bool) {
	if v, ok := y.data[y.key]; ok {
		return fmt.Sprintf("%v", v), true
	}
	return "", false
}

func (y *YamlSource) String() string   { return "yaml" }
func (y *YamlSource) GoString() string { return "yaml" }

func GetFlags() []cli.Flag {
	// Pre-parse config path
	configPath := getConfigPath()
	var configData map[string]any
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err == nil {
			_ = yaml.Unmarshal(data, &configData)
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file %s: %v\n", configPath, err)
		}
	}

	// Helper to create sources: EnvVar > YAML > Default
	src := func(key string, env ...string) cli.ValueSourceChain {
		chain := cli.ValueSourceChain{}
		for _, e := range env {
			chain.Chain = append(chain.Chain, cli.EnvVar(e))
		}
		if configData != nil {
			chain.Chain = append(chain.Chain, &YamlSource{data: configData, key: key})
		}
		return chain
	}

	return []cli.Flag{
		// Config file
		&cli.StringFlag{Name: "config", Aliases: []string{"b"}, Usage: "use the named configuration file", Sources: cli.EnvVars("SONARSHACK_CONFIG")},

		// API Configuration
		&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Perplexity API key", Sources: src("key", "PERPLEXITY_API_KEY")},
		&cli.StringFlag{Name: "url", Value: DefaultEndpoint, Usage: "Perplexity chat completions endpoint", Sources: src("url", "PERPLEXITY_URL")},
		&cli.DurationFlag{Name: "apitimeout", Aliases: []string{"t"}, Value: 30 * time.Second, Usage: "timeout for each completion request", Sources: src("apitimeout", "PERPLEXITY_TIMEOUT")},

		// Model Configuration
		&cli.StringFlag{Name: "model", Value: "sonar-pro", Usage: "model used for ask and search completions", Sources: src("model", "PERPLEXITY_MODEL")},
		&cli.StringFlag{Name: "reasoningmodel", Value: "sonar-reasoning-pro", Usage: "model used for reasoning completions", Sources: src("reasoningmodel", "PERPLEXITY_REASONING_MODEL")},

		// Search sampling
		&cli.IntFlag{Name: "maxtokens", Value: 2000, Usage: "maximum number of tokens to generate for search", Sources: src("maxtokens", "SONARSHACK_MAXTOKENS")},
		&cli.FloatFlag{Name: "temperature", Value: 0.3, Usage: "temperature for search completions", Sources: src("temperature", "SONARSHACK_TEMPERATURE")},
		&cli.FloatFlag{Name: "top_p", Value: 0.95, Usage: "top P value for search completions", Sources: src("top_p", "SONARSHACK_TOP_P")},
		&cli.FloatFlag{Name: "frequencypenalty", Value: 1.0, Usage: "frequency penalty for search completions", Sources: src("frequencypenalty", "SONARSHACK_FREQUENCYPENALTY")},
		&cli.StringFlag{Name: "searchcontextsize", Value: "low", Usage: "how much search context the model may use (low, medium, high)", Sources: src("searchcontextsize", "SONARSHACK_SEARCHCONTEXTSIZE")},

		// Logging
		&cli.StringFlag{Name: "logfile", Usage: "audit log path (defaults to mcp-server.log at the project root)", Sources: src("logfile", "SONARSHACK_LOGFILE")},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"V"}, Usage: "enable verbose logging and a config dump to stderr", Sources: src("verbose", "SONARSHACK_VERBOSE")},
	}
}

func getConfigPath() string {
	// Check env first
	if v := os.Getenv("SONARSHACK_CONFIG"); v != "" {
		return v
	}
	// Check args
	for i, arg := range os.Args {
		if arg == "--config" || arg == "-b" {
			if i+1 < len(os.Args) {
				return os.Args[i+1]
			}
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

func NewConfiguration(c *cli.Command) *Configuration {
	logPath := c.String("logfile")
	if logPath == "" {
		logPath = filepath.Join(findProjectRoot(), "mcp-server.log")
	}

	return &Configuration{
		API: &APIConfig{
			Key:     c.String("key"),
			URL:     c.String("url"),
			Timeout: c.Duration("apitimeout"),
		},
		Model: &ModelConfig{
			Model:          c.String("model"),
			ReasoningModel: c.String("reasoningmodel"),
		},
		Search: &SearchConfig{
			MaxTokens:         c.Int("maxtokens"),
			Temperature:       c.Float("temperature"),
			TopP:              c.Float("top_p"),
			FrequencyPenalty:  c.Float("frequencypenalty"),
			SearchContextSize: c.String("searchcontextsize"),
		},
		Log: &LogConfig{
			Path:    logPath,
			Verbose: c.Bool("verbose"),
		},
	}
}

// VerifyConfig rejects configurations the server cannot start with. A missing
// API key is the one fatal condition; every failure after startup is
// recovered into a tool result instead.
func (c *Configuration) VerifyConfig() error {
	if c.API.Key == "" {
		return fmt.Errorf("PERPLEXITY_API_KEY environment variable is required")
	}
	if c.API.URL == "" {
		return fmt.Errorf("completion endpoint must not be empty")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("apitimeout must be positive, got %s", c.API.Timeout)
	}
	return nil
}

func (c *Configuration) PrintConfig(w io.Writer) {
	fmt.Fprintf(w, "key: %s\n", maskKey(c.API.Key))
	fmt.Fprintf(w, "url: %s\n", c.API.URL)
	fmt.Fprintf(w, "apitimeout: %s\n", c.API.Timeout)
	fmt.Fprintf(w, "model: %s\n", c.Model.Model)
	fmt.Fprintf(w, "reasoningmodel: %s\n", c.Model.ReasoningModel)
	fmt.Fprintf(w, "maxtokens: %d\n", c.Search.MaxTokens)
	fmt.Fprintf(w, "temperature: %f\n", c.Search.Temperature)
	fmt.Fprintf(w, "top_p: %f\n", c.Search.TopP)
	fmt.Fprintf(w, "frequencypenalty: %f\n", c.Search.FrequencyPenalty)
	fmt.Fprintf(w, "searchcontextsize: %s\n", c.Search.SearchContextSize)
	fmt.Fprintf(w, "logfile: %s\n", c.Log.Path)
	fmt.Fprintf(w, "verbose: %t\n", c.Log.Verbose)
}

// modelCatalog names the Perplexity models the server knows about.
var modelCatalog = []struct {
	Name        string
	Description string
}{
	{"sonar-reasoning-pro", "128k context - Advanced reasoning with professional focus"},
	{"sonar-reasoning", "128k context - Enhanced reasoning capabilities"},
	{"sonar-pro", "200k context - Professional grade model"},
	{"sonar", "128k context - General purpose model"},
}

// LogAvailableModels writes one line per known model, marking which is
// configured for search and which for reasoning.
func (c *Configuration) LogAvailableModels(log *slog.Logger) {
	log.Info("available Perplexity models (set with PERPLEXITY_MODEL or PERPLEXITY_REASONING_MODEL)")
	for _, m := range modelCatalog {
		attrs := []any{"name", m.Name, "description", m.Description}
		if m.Name == c.Model.Model {
			attrs = append(attrs, "search", true)
		}
		if m.Name == c.Model.ReasoningModel {
			attrs = append(attrs, "reasoning", true)
		}
		log.Info("model", attrs...)
	}
}

func maskKey(key string) string {
	if len(key) > 3 {
		return strings.Repeat("*", len(key)-3) + key[len(key)-3:]
	}
	return key
}

// findProjectRoot walks up from the working directory looking for a .git
// directory or a go.mod file. The audit log lands next to whichever is found
// first; if neither exists the working directory is used.
func findProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return wd
}
