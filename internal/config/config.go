// Package config loads notebrief settings from defaults, a YAML file and
// NOTEBRIEF_* environment variables.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/abhisek/notebrief/internal/dispatcher"
	"github.com/abhisek/notebrief/internal/llm"
	"github.com/abhisek/notebrief/internal/logging"
	"github.com/abhisek/notebrief/internal/resilient"
	"github.com/abhisek/notebrief/internal/selector"
	"github.com/abhisek/notebrief/internal/state"
)

// Config is the complete application configuration.
type Config struct {
	InputFolders     []string `koanf:"input_folders" validate:"required,min=1,dive,required"`
	TargetExtensions []string `koanf:"target_extensions" validate:"dive,required"`
	OutputFolderName string   `koanf:"output_folder_name" validate:"required,excludesall=/\\"`
	// OutputDir overrides <first input folder>/<output_folder_name>.
	OutputDir        string `koanf:"output_dir"`
	MaxContextTokens int    `koanf:"max_context_tokens" validate:"gt=0"`
	Timezone         string `koanf:"timezone" validate:"omitempty,timezone"`

	Selection  selector.Options `koanf:"selection"`
	Schedules  SchedulesConfig  `koanf:"schedules"`
	Dispatcher DispatcherConfig `koanf:"dispatcher"`
	LLM        llm.Config       `koanf:"llm"`
	Quiz       QuizConfig       `koanf:"quiz"`
	Server     ServerConfig     `koanf:"server"`
	Log        logging.Config   `koanf:"log"`

	// DB is the sqlite path. Empty means store.DefaultDBPath.
	DB string `koanf:"db"`
}

// RuleConfig is one firing time: a day set such as "mon-fri" plus a
// wall-clock hour and minute.
type RuleConfig struct {
	Days   string `koanf:"days" validate:"weekdays"`
	Hour   int    `koanf:"hour" validate:"gte=0,lte=23"`
	Minute int    `koanf:"minute" validate:"gte=0,lte=59"`
}

// SchedulesConfig holds the rules of both features. An empty list
// disables scheduled runs of that feature.
type SchedulesConfig struct {
	FeatureA []RuleConfig `koanf:"feature_a" validate:"dive"`
	FeatureB []RuleConfig `koanf:"feature_b" validate:"dive"`
}

// DispatcherConfig tunes deferral and misfire handling.
type DispatcherConfig struct {
	DeferDelay   time.Duration `koanf:"defer_delay" validate:"gt=0"`
	MisfireGrace time.Duration `koanf:"misfire_grace" validate:"gt=0"`
	// SubmitWait bounds how long an answer submission waits for a running
	// job before it is rejected as busy.
	SubmitWait time.Duration `koanf:"submit_wait" validate:"gt=0"`
}

// QuizConfig configures pending quizzes.
type QuizConfig struct {
	AnswerWindow time.Duration `koanf:"answer_window" validate:"gt=0"`
}

// ServerConfig configures the local answer endpoint.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required,hostname_port"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	// WriteTimeout is raised to HTTPWriteTimeout when it cannot cover a
	// scoring call.
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		InputFolders:     []string{},
		TargetExtensions: []string{".md"},
		OutputFolderName: "_briefings",
		MaxContextTokens: 100_000,
		Selection:        selector.DefaultOptions(),
		Schedules: SchedulesConfig{
			FeatureA: []RuleConfig{{Days: "mon-fri", Hour: 9}},
			FeatureB: []RuleConfig{{Days: "mon,wed,fri", Hour: 8}},
		},
		Dispatcher: DispatcherConfig{
			DeferDelay:   dispatcher.DefaultDeferDelay,
			MisfireGrace: dispatcher.DefaultMisfireGrace,
			SubmitWait:   dispatcher.DefaultSubmitWait,
		},
		LLM:  llm.DefaultConfig(),
		Quiz: QuizConfig{AnswerWindow: 24 * time.Hour},
		Server: ServerConfig{
			Addr:            "127.0.0.1:7171",
			RateLimit:       30,
			RateLimitWindow: time.Minute,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    90 * time.Second,
		},
		Log: logging.DefaultConfig(),
	}
}

// ResolveOutputDir is where briefings are written.
func (c *Config) ResolveOutputDir() string {
	if c.OutputDir != "" {
		return c.OutputDir
	}
	if len(c.InputFolders) == 0 {
		return c.OutputFolderName
	}
	return filepath.Join(c.InputFolders[0], c.OutputFolderName)
}

// Location is the time zone schedules are evaluated in.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// BuildSchedules compiles the configured rules.
func (c *Config) BuildSchedules() (map[state.Feature]dispatcher.Schedule, error) {
	out := make(map[state.Feature]dispatcher.Schedule, 2)
	for f, rules := range map[state.Feature][]RuleConfig{
		state.FeatureA: c.Schedules.FeatureA,
		state.FeatureB: c.Schedules.FeatureB,
	} {
		compiled := make([]dispatcher.Rule, 0, len(rules))
		for _, r := range rules {
			days, err := dispatcher.ParseDays(r.Days)
			if err != nil {
				return nil, fmt.Errorf("schedules.%s: %w", f, err)
			}
			compiled = append(compiled, dispatcher.Rule{Days: days, Hour: r.Hour, Minute: r.Minute})
		}
		s, err := dispatcher.NewSchedule(c.Location(), compiled...)
		if err != nil {
			return nil, fmt.Errorf("schedules.%s: %w", f, err)
		}
		out[f] = s
	}
	return out, nil
}

// HTTPWriteTimeout is the server write deadline. It covers the worst-case
// scoring call plus the two bounded lock waits of a submission.
func (c *Config) HTTPWriteTimeout() time.Duration {
	policy := resilient.Policy{Timeout: c.LLM.ScoringTimeout, Backoff: c.LLM.Retry.Backoff}
	need := policy.Budget() + 2*c.Dispatcher.SubmitWait + 5*time.Second
	return max(c.Server.WriteTimeout, need)
}
