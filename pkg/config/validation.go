package config

import (
	"fmt"
	"strconv"
	"strings"
)

// validate checks the loaded configuration for errors that must stop
// startup
func validate(cfg *Config) error {
	if cfg.Global.ListenPort < 1 || cfg.Global.ListenPort > 65535 {
		return fmt.Errorf("global.listen_port out of range: %d", cfg.Global.ListenPort)
	}
	if cfg.Global.AuthKey == "" {
		return fmt.Errorf("global.auth_key must be set")
	}
	if cfg.Global.SqlTimeout < 0 {
		return fmt.Errorf("global.sql_timeout cannot be negative: %d", cfg.Global.SqlTimeout)
	}
	if cfg.Global.SqlTimeoutBlocktime < 0 {
		return fmt.Errorf("global.sql_timeout_blocktime cannot be negative: %d", cfg.Global.SqlTimeoutBlocktime)
	}
	if cfg.Global.TGForV1Clients == 0 {
		return fmt.Errorf("global.tg_for_v1_clients must be positive")
	}

	if cfg.Global.RandomQsyRange != "" {
		if _, _, err := ParseQsyRange(cfg.Global.RandomQsyRange); err != nil {
			return fmt.Errorf("global.random_qsy_range: %w", err)
		}
	}

	if cfg.Web.Enabled && (cfg.Web.Port < 1 || cfg.Web.Port > 65535) {
		return fmt.Errorf("web.port out of range: %d", cfg.Web.Port)
	}
	if cfg.History.Enabled && cfg.History.Path == "" {
		return fmt.Errorf("history.path must be set when history is enabled")
	}

	return nil
}

// ParseQsyRange parses a "lo,size" random QSY range specification.
// A syntactically valid but unusable range (lo < 1) is left to the
// allocator, which treats it as disabled.
func ParseQsyRange(spec string) (lo, size uint32, err error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"lo,size\", got %q", spec)
	}

	loVal, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start %q: %w", parts[0], err)
	}
	sizeVal, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range size %q: %w", parts[1], err)
	}

	return uint32(loVal), uint32(sizeVal), nil
}

// QsyRange returns the parsed random QSY range, ok false when unset
// or unparseable
func (g GlobalConfig) QsyRange() (lo, size uint32, ok bool) {
	if g.RandomQsyRange == "" {
		return 0, 0, false
	}
	lo, size, err := ParseQsyRange(g.RandomQsyRange)
	if err != nil {
		return 0, 0, false
	}
	return lo, size, true
}
