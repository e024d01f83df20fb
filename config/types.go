package config

// Pauses toggles individual modules off without restarting the node.
type Pauses struct {
	Market bool `toml:"Market"`
	Assets bool `toml:"Assets"`
}

// Telemetry configures the OpenTelemetry exporters.
type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers,omitempty"`
	Metrics     bool              `toml:"Metrics"`
	Traces      bool              `toml:"Traces"`
	SampleRatio float64           `toml:"SampleRatio"`
}

// Logging configures structured log output and rotation.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Webhook configures outbound delivery of committed market events.
type Webhook struct {
	Endpoint      string   `toml:"Endpoint"`
	SecretEnv     string   `toml:"SecretEnv"`
	MaxAttempts   int      `toml:"MaxAttempts"`
	MinBackoffMs  int      `toml:"MinBackoffMs"`
	MaxBackoffMs  int      `toml:"MaxBackoffMs"`
	EventPrefixes []string `toml:"EventPrefixes,omitempty"`
	QueueSize     int      `toml:"QueueSize"`
}

// Enabled reports whether a webhook endpoint is configured.
func (w Webhook) Enabled() bool { return w.Endpoint != "" }

// PauseMap converts the pause toggles into the module-keyed form consumed by
// the native engines.
func (p Pauses) PauseMap() map[string]bool {
	return map[string]bool{
		"market": p.Market,
		"assets": p.Assets,
	}
}
