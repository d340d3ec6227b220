// Package config loads pulseloop's startup configuration: a .env file for
// secrets (the executor's Discord token) via godotenv, and a
// pulseloop.yaml rules document for event-loop tuning via yaml.v3.
// Grounded on cmd/bud/main.go's env-loading block and
// internal/reflex/engine.go's YAML-document-per-concern idiom,
// generalized from conversational trigger files to event-loop tuning.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vthunder/pulseloop/internal/logging"
)

// Secrets holds values loaded from the environment / .env file.
type Secrets struct {
	DiscordToken   string
	DiscordGuildID string
	StatePath      string
}

// LoadSecrets loads a .env file if present (missing is not an error,
// matching cmd/bud/main.go's godotenv.Load handling) and reads the
// executor's required environment variables.
func LoadSecrets() Secrets {
	if err := godotenv.Load(); err != nil {
		logging.Debug("config", "no .env file found, using environment variables")
	} else {
		logging.Info("config", "loaded .env file")
	}

	statePath := os.Getenv("PULSELOOP_STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}

	return Secrets{
		DiscordToken:   os.Getenv("DISCORD_TOKEN"),
		DiscordGuildID: os.Getenv("DISCORD_GUILD_ID"),
		StatePath:      statePath,
	}
}

// AggregationRule configures how one perception kind is aggregated
// before it reaches the queue.
type AggregationRule struct {
	Window       time.Duration `yaml:"window"`
	MaxBatchSize int           `yaml:"max_batch_size"`
}

// ShapingRule configures debounce and/or throttle for one perception
// kind. A zero DebounceWindow/ThrottleWindow means that half of the rule
// is not installed.
type ShapingRule struct {
	DebounceWindow   time.Duration `yaml:"debounce_window"`
	DebounceLeading  bool          `yaml:"debounce_leading"`
	DebounceTrailing bool          `yaml:"debounce_trailing"`
	ThrottleWindow   time.Duration `yaml:"throttle_window"`
	ThrottleLeading  bool          `yaml:"throttle_leading"`
	ThrottleTrailing bool          `yaml:"throttle_trailing"`
}

// MonitorIntervals overrides each monitor's polling cadence; a zero value
// keeps the monitor's own default. The Cursor entry is parsed but not
// applied: the cursor monitor always samples every 16ms.
type MonitorIntervals struct {
	Cursor       time.Duration `yaml:"cursor"`
	Filesystem   time.Duration `yaml:"filesystem"`
	Scheduler    time.Duration `yaml:"scheduler"`
	SystemState  time.Duration `yaml:"system_state"`
	UserActivity time.Duration `yaml:"user_activity"`
}

// Rules is the declarative pulseloop.yaml document: per perception-kind
// aggregation and debounce/throttle rules, monitor cadences, and the
// event loop's own sizing.
type Rules struct {
	QueueSize        int                         `yaml:"queue_size"`
	LatencyTarget    time.Duration               `yaml:"latency_target"`
	Aggregation      map[string]AggregationRule  `yaml:"aggregation"`
	DebounceThrottle map[string]ShapingRule      `yaml:"debounce_throttle"`
	Monitors         MonitorIntervals            `yaml:"monitors"`
}

// DefaultRules mirrors the constants each component falls back to when
// no YAML document is supplied, including the three shaping rules
// _setup_default_aggregations/_setup_default_debounce_throttle always
// register: a 32ms/10-event cursor-move aggregation, a 100ms
// trailing-only filesystem debounce, and a 1s leading+trailing
// system-state throttle.
func DefaultRules() Rules {
	return Rules{
		QueueSize:     10000,
		LatencyTarget: 16 * time.Millisecond,
		Aggregation: map[string]AggregationRule{
			"cursor": {Window: 32 * time.Millisecond, MaxBatchSize: 10},
		},
		DebounceThrottle: map[string]ShapingRule{
			"filesystem":   {DebounceWindow: 100 * time.Millisecond, DebounceTrailing: true},
			"system-state": {ThrottleWindow: time.Second, ThrottleLeading: true, ThrottleTrailing: true},
		},
		Monitors: MonitorIntervals{
			Cursor:       16 * time.Millisecond,
			Filesystem:   time.Second,
			Scheduler:    time.Second,
			SystemState:  5 * time.Second,
			UserActivity: 10 * time.Second,
		},
	}
}

// LoadRules reads a pulseloop.yaml document at path, falling back to
// DefaultRules() if the file does not exist.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Debug("config", "no rules file at %s, using defaults", path)
		return rules, nil
	}
	if err != nil {
		return rules, err
	}

	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, err
	}
	logging.Info("config", "loaded rules from %s", path)
	return rules, nil
}
