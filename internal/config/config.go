package config

import "time"

// Config is the root configuration.
type Config struct {
	// NodeID names this capture node in every record it writes.
	NodeID string `yaml:"node_id" json:"node_id"`
	// Root is the directory holding one subdirectory per channel.
	Root string `yaml:"root" json:"root"`
	// Channels lists the channels to record and reconcile.
	Channels []string `yaml:"channels" json:"channels"`
	// LedgerPath is the SQLite reconciliation ledger. Empty disables it.
	LedgerPath string `yaml:"ledger_path" json:"ledger_path"`

	Normalizer NormalizerConfig `yaml:"normalizer" json:"normalizer"`
	Recorder   RecorderConfig   `yaml:"recorder" json:"recorder"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" json:"reconcile"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// NormalizerConfig tunes timestamp resolution.
type NormalizerConfig struct {
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	PresenceSlack time.Duration `yaml:"presence_slack" json:"presence_slack"`
}

// RecorderConfig tunes minute flushing.
type RecorderConfig struct {
	FlushDelay time.Duration `yaml:"flush_delay" json:"flush_delay"`
}

// ReconcileConfig tunes the scheduler.
type ReconcileConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}
