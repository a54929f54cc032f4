package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/fakebackend"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	reply(logger *slog.Logger) (fakebackend.ReplyFunc, error)
	title(logger *slog.Logger) (fakebackend.TitleFunc, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port          string    `yaml:"port"`
	Prefix        string    `yaml:"prefix"`
	SystemPrompt  string    `yaml:"systemPrompt"`
	ChunkDelayRaw string    `yaml:"chunkDelay"`
	LogLevel      string    `yaml:"logLevel"`
	LLM           llmConfig `yaml:"llm"`

	chunkDelay time.Duration
}

type echoConfig struct {
	BaseLLMConfig `yaml:",inline"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
	TitleModel    string `yaml:"titleModel"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

func defaultConfig() config {
	return config{
		Port:     "8000",
		Prefix:   "/api",
		LogLevel: "info",
		LLM:      echoConfig{},
	}
}

func decodeConfig(r io.Reader, cfg *config) error {
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("error decoding config file: %w", err)
	}
	return nil
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port          string         `yaml:"port"`
		Prefix        string         `yaml:"prefix"`
		SystemPrompt  string         `yaml:"systemPrompt"`
		ChunkDelayRaw string         `yaml:"chunkDelay"`
		LogLevel      string         `yaml:"logLevel"`
		LLM           map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.Prefix != "" {
		c.Prefix = rawConfig.Prefix
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	c.SystemPrompt = rawConfig.SystemPrompt
	c.ChunkDelayRaw = rawConfig.ChunkDelayRaw

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, _ := rawConfig.LLM["provider"].(string)

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "", "echo":
		llm = &echoConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm
	return nil
}

func (c *config) validate() error {
	if c.ChunkDelayRaw != "" {
		d, err := time.ParseDuration(c.ChunkDelayRaw)
		if err != nil {
			return fmt.Errorf("invalid chunkDelay %q: %w", c.ChunkDelayRaw, err)
		}
		c.chunkDelay = d
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid logLevel %q", c.LogLevel)
	}
	return nil
}

func (c config) logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// options builds the backend options, including the configured reply and title generators.
func (c config) options(logger *slog.Logger) (fakebackend.Options, error) {
	llm := c.LLM
	if llm == nil {
		llm = echoConfig{}
	}
	reply, err := llm.reply(logger)
	if err != nil {
		return fakebackend.Options{}, err
	}
	title, err := llm.title(logger)
	if err != nil {
		return fakebackend.Options{}, err
	}
	return fakebackend.Options{
		DefaultSystemPrompt: c.SystemPrompt,
		Reply:               reply,
		Title:               title,
		ChunkDelay:          c.chunkDelay,
	}, nil
}

func (echoConfig) reply(*slog.Logger) (fakebackend.ReplyFunc, error) {
	return fakebackend.EchoReply, nil
}

func (echoConfig) title(*slog.Logger) (fakebackend.TitleFunc, error) {
	return nil, nil
}

func (o openAIConfig) newOpenAI(logger *slog.Logger) (fakebackend.OpenAI, error) {
	if o.Model == "" {
		return fakebackend.OpenAI{}, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return fakebackend.NewOpenAI(apiKey, o.BaseURL, o.Model, o.TitleModel, logger), nil
}

func (o openAIConfig) reply(logger *slog.Logger) (fakebackend.ReplyFunc, error) {
	client, err := o.newOpenAI(logger)
	if err != nil {
		return nil, err
	}
	return client.Reply, nil
}

func (o openAIConfig) title(logger *slog.Logger) (fakebackend.TitleFunc, error) {
	client, err := o.newOpenAI(logger)
	if err != nil {
		return nil, err
	}
	return client.GenerateTitle, nil
}

func (o ollamaConfig) newOllama() (fakebackend.Ollama, error) {
	if o.Model == "" {
		return fakebackend.Ollama{}, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return fakebackend.NewOllama(host, o.Model)
}

func (o ollamaConfig) reply(*slog.Logger) (fakebackend.ReplyFunc, error) {
	client, err := o.newOllama()
	if err != nil {
		return nil, err
	}
	return client.Reply, nil
}

func (o ollamaConfig) title(*slog.Logger) (fakebackend.TitleFunc, error) {
	client, err := o.newOllama()
	if err != nil {
		return nil, err
	}
	return client.GenerateTitle, nil
}
