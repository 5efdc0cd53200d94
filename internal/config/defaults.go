package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultNodeID               = "node1"
	DefaultRoot                 = "./archive"
	DefaultNormalizerTimeout    = 30 * time.Second
	DefaultPresenceSlack        = 45 * time.Second
	DefaultFlushDelay           = 5 * time.Second
	DefaultReconcileInterval    = 30 * time.Second
	DefaultReconcileConcurrency = 1
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = DefaultNodeID
	}
	if c.Root == "" {
		c.Root = DefaultRoot
	}

	// Normalizer defaults
	if c.Normalizer.Timeout == 0 {
		c.Normalizer.Timeout = DefaultNormalizerTimeout
	}
	if c.Normalizer.PresenceSlack == 0 {
		c.Normalizer.PresenceSlack = DefaultPresenceSlack
	}

	// Recorder defaults
	if c.Recorder.FlushDelay == 0 {
		c.Recorder.FlushDelay = DefaultFlushDelay
	}

	// Reconcile defaults
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = DefaultReconcileInterval
	}
	if c.Reconcile.Concurrency == 0 {
		c.Reconcile.Concurrency = DefaultReconcileConcurrency
	}
}
