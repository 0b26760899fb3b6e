package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/abhisek/notebrief/internal/llm"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NOTEBRIEF_"

// PathEnvVar overrides the config file location.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultPath returns the first existing config file among
// NOTEBRIEF_CONFIG, ./notebrief.yaml and $XDG_CONFIG_HOME/notebrief/config.yaml.
// It returns "" when none exists.
func DefaultPath() string {
	candidates := []string{os.Getenv(PathEnvVar), "notebrief.yaml", "notebrief.yml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "notebrief", "config.yaml"))
	}
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads the configuration at path and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Read layers defaults, the YAML file at path (skipped when path is empty)
// and environment variables without validating. Inspection commands use it
// so they work before input folders are configured.
func Read(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if !cfg.LLM.HasKey() {
		cfg.LLM, _ = llm.DiscoverConfig(cfg.LLM)
	}
	return cfg, nil
}

// envAliases maps flat variable names onto config paths.
var envAliases = map[string]string{
	"input_folders":      "input_folders",
	"target_extensions":  "target_extensions",
	"output_folder_name": "output_folder_name",
	"output_dir":         "output_dir",
	"max_context_tokens": "max_context_tokens",
	"timezone":           "timezone",
	"db":                 "db",
	"log_level":          "log.level",
	"log_format":         "log.format",
	"log_file":           "log.file",
	"server_addr":        "server.addr",
	"provider":           "llm.provider",
	"answer_window":      "quiz.answer_window",
}

// envKey turns NOTEBRIEF_LOG_LEVEL into log.level. Names outside the alias
// table use "__" as the path separator: NOTEBRIEF_LLM__ANTHROPIC__MODEL.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	return strings.ReplaceAll(key, "__", ".")
}

// listFields accept a comma-separated string from the environment.
var listFields = []string{"input_folders", "target_extensions", "llm.retry.backoff"}

func splitListFields(k *koanf.Koanf) error {
	for _, path := range listFields {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
