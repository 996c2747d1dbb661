package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Option Chain Engine Configuration

[engine]
# Hard ceiling of instruments per quote call
quote_batch_size = 400
# Wait before retrying a failed quote batch once
quote_retry_delay = "1s"
# Pause between quote batches
quote_batch_pacing = "150ms"
quote_cache_ttl = "1s"
# Instrument catalog refresh interval
instrument_ttl = "1h"
exchanges = ["NFO", "BFO", "MCX"]
# Deadline for one chain build, and budgets for its slow stages
build_timeout = "30s"
prefetch_budget = "8s"
intraday_budget = "8s"
risk_free_rate = 0.05
http_timeout = "10s"

[prevday]
# Directory for prevday_YYYY-MM-DD.json files (defaults to <config dir>/cache)
# cache_dir = ""
prefetch_cap = 450
lookback_days = 7
cooldown = "180s"
# Background warming starts below this coverage
coverage_threshold = 0.7
shards = 3
workers = 3
queue_size = 64
call_pacing = "10ms"
pause_every = 15
pause_for = "200ms"
rate_limit_backoff = "5s"
# Day files older than this are pruned
retention_days = 7
# "weekday": fall back to the latest earlier candle when the target day has none
# "strict": leave the token unresolved instead
holiday_rule = "weekday"
# Exchange holidays skipped when computing the previous trading day
holidays = []

[intraday]
max_tokens = 400
chain_subset = 150
max_age = "180s"
cooldown = "90s"

[historical]
# Shared pacing for all historical-candle calls
rate_per_second = 3.0
burst = 3

[logging]
level = "info"
console = true
file = true

[metrics]
enabled = false
addr = ":9108"
`

const credentialsTemplate = `# Option Chain Engine Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kite]
api_key = ""
api_secret = ""
# Optional; "optionchain auth" stores a session instead
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return fmt.Errorf("config file not found, created template at %s", path)
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return fmt.Errorf("credentials file not found, created template at %s", path)
}
