package logging

import "time"

// #region run-entry
// RunEntry is a single row in the consolidation_runs table.
type RunEntry struct {
	RunID       string        `json:"run_id"`
	UserID      string        `json:"user_id"`
	Outcome     string        `json:"outcome"` // "success" | "no_op" | "retry"
	LogsRead    int           `json:"logs_read"`
	LogsUsed    int           `json:"logs_used"`
	LogsDeleted int64         `json:"logs_deleted"`
	DiaryID     string        `json:"diary_id,omitempty"`
	VersionFrom int64         `json:"version_from,omitempty"`
	VersionTo   int64         `json:"version_to,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}
// #endregion run-entry

// #region log-config
// LogConfig selects the zap logger flavor.
type LogConfig struct {
	Level       string `yaml:"level"`       // debug | info | warn | error
	Development bool   `yaml:"development"` // console encoder, stack traces on warn
}

// DefaultLogConfig returns an info-level production logger config.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info"}
}
// #endregion log-config
