package rules

import (
	"context"
	"log/slog"
	"time"
)

// RuleEngine confirms whether a line matches an external or local alert rule set. Confirms never
// fails: adapters log their own errors and report false.
type RuleEngine interface {
	Confirms(ctx context.Context, line string) bool
	// Enabled reports whether the engine is configured. A disabled engine must be bypassed so
	// it does not filter anything out.
	Enabled() bool
	Name() string
}

// Passthrough is the unconfigured rule engine.
type Passthrough struct{}

// Confirms always reports true.
func (Passthrough) Confirms(context.Context, string) bool { return true }

// Enabled reports false.
func (Passthrough) Enabled() bool { return false }

// Name implements RuleEngine.
func (Passthrough) Name() string { return "passthrough" }

// Settings captures the inputs Resolve chooses between.
type Settings struct {
	WazuhURL      string
	WazuhUser     string
	WazuhPassword string
	Timeout       time.Duration
	MaxRetries    int
	SignaturePath string
}

// Resolve picks the rule engine once at startup: Wazuh when fully configured, else a local
// signature pack when the file exists, else Passthrough.
func Resolve(s Settings, logger *slog.Logger) (RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if s.WazuhURL != "" && s.WazuhUser != "" && s.WazuhPassword != "" {
		logger.Info("rule engine: wazuh", slog.String("url", s.WazuhURL))
		return NewWazuhClient(WazuhConfig{
			URL:        s.WazuhURL,
			User:       s.WazuhUser,
			Password:   s.WazuhPassword,
			Timeout:    s.Timeout,
			MaxRetries: s.MaxRetries,
		}, logger), nil
	}

	pack, err := LoadSignaturePack(s.SignaturePath, logger)
	if err != nil {
		return nil, err
	}
	if pack != nil {
		logger.Info("rule engine: signature pack", slog.String("path", s.SignaturePath), slog.Int("rules", pack.Len()))
		return pack, nil
	}

	logger.Info("rule engine not configured, stage bypassed")
	return Passthrough{}, nil
}
