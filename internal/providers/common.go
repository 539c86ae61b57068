package providers

type Config struct {
	Providers struct {
		Default string `yaml:"default"`
		Hetzner struct {
			Token               string            `yaml:"token"`
			Endpoint            string            `yaml:"endpoint"`
			Location            string            `yaml:"location"`
			ServerType          string            `yaml:"server_type"`
			Image               string            `yaml:"image"`
			Labels              map[string]string `yaml:"labels"`
			PollIntervalSeconds int               `yaml:"poll_interval_seconds"`
		} `yaml:"hetzner"`
		Local struct {
			Path      string `yaml:"path"`
			Location  string `yaml:"location"`
			LatencyMS int    `yaml:"latency_ms"`
		} `yaml:"local"`
	} `yaml:"providers"`
	Defaults struct {
		User               string `yaml:"user"`
		Concurrency        int    `yaml:"concurrency"`
		UnitTimeoutSeconds int    `yaml:"unit_timeout_seconds"`
		NamingPrefix       string `yaml:"naming_prefix"`
		Retries            int    `yaml:"retries"`
	} `yaml:"defaults"`
	Catalog struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"catalog"`
	Telemetry struct {
		Enabled     bool   `yaml:"enabled"`
		Pushgateway string `yaml:"pushgateway"`
		Job         string `yaml:"job"`
	} `yaml:"telemetry"`
}

// RetryConfig derives backend retry behavior from the defaults section.
func (c Config) RetryConfig() RetryConfig {
	rc := DefaultRetryConfig()
	if c.Defaults.Retries > 0 {
		rc.MaxRetries = c.Defaults.Retries
	}
	return rc
}
