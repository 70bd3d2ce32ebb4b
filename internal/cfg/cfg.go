package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config adds docket-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	MockMode              bool
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	DBSlowQueryMillis     int
	DBLogQueryArgs        bool
	RosterFile            string
	SlackWebhookURL       string
	APIToken              string
	IncrementWorkload     bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.BoolVar(&c.MockMode, "mock-mode", false, "disable all model calls and triage with heuristics only")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude inference service (empty = heuristics only)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBSlowQueryMillis, "db-slow-query-ms", 0, "only log successful queries slower than this many milliseconds (0 = log all)")
	fs.BoolVar(&c.DBLogQueryArgs, "db-log-query-args", false, "include bind arguments in query logs")
	fs.StringVar(&c.RosterFile, "roster-file", "", "YAML team roster to seed at startup (empty = built-in roster)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for triage notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 routes (empty = no auth)")
	fs.BoolVar(&c.IncrementWorkload, "increment-workload", false, "bump the assigned team's workload counter after each triage")
}

// InferenceEnabled reports whether triage stages may call the model.
func (c *Config) InferenceEnabled() bool {
	return !c.MockMode && c.ClaudeAPIKey != ""
}

// DBSlowQuery returns the slow query log threshold.
func (c *Config) DBSlowQuery() time.Duration {
	return time.Duration(c.DBSlowQueryMillis) * time.Millisecond
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// A model is only needed when inference is on
	if c.InferenceEnabled() && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.DBSlowQueryMillis < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be >= 0)", c.DBSlowQueryMillis))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
