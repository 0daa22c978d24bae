package policy

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"codeforge/internal/logging"
)

// GlobalMode is the process-wide approval strictness.
type GlobalMode string

const (
	GlobalDisabled  GlobalMode = "disabled"
	GlobalSelective GlobalMode = "selective"
	GlobalAll       GlobalMode = "all"
)

// CapabilityMode tunes a single capability under selective mode.
type CapabilityMode string

const (
	// CapabilityModeAuto defers to the resolver's analysis-derived verdict.
	CapabilityModeAuto CapabilityMode = "auto"
	// CapabilityModeAlways requires approval for every run of the capability.
	CapabilityModeAlways CapabilityMode = "always"
)

// CapabilityPolicy is the per-capability approval configuration.
type CapabilityPolicy struct {
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Mode    CapabilityMode `yaml:"mode" json:"mode"`
}

// ApprovalConfig is the approval policy loaded at startup. Resolution order:
// disabled and all override everything; selective defers to the capability.
type ApprovalConfig struct {
	GlobalMode   GlobalMode                  `yaml:"global_mode" json:"global_mode"`
	Capabilities map[string]CapabilityPolicy `yaml:"capabilities" json:"capabilities"`
}

// Validate is deliberately strict: this configuration governs unattended
// code execution, so missing fields fail startup instead of defaulting.
func (c *ApprovalConfig) Validate() error {
	switch c.GlobalMode {
	case GlobalDisabled, GlobalSelective, GlobalAll:
	case "":
		return fmt.Errorf("approval.global_mode is required (disabled, selective, or all)")
	default:
		return fmt.Errorf("approval.global_mode %q is invalid (want disabled, selective, or all)", c.GlobalMode)
	}
	for name, cap := range c.Capabilities {
		switch cap.Mode {
		case CapabilityModeAuto, CapabilityModeAlways:
		case "":
			return fmt.Errorf("approval.capabilities.%s.mode is required (auto or always)", name)
		default:
			return fmt.Errorf("approval.capabilities.%s.mode %q is invalid (want auto or always)", name, cap.Mode)
		}
	}
	return nil
}

// Capability resolves the policy for a capability name. Unknown capabilities
// get a disabled auto policy, which under selective mode means no approval.
func (c *ApprovalConfig) Capability(name string) CapabilityPolicy {
	if cap, ok := c.Capabilities[name]; ok {
		return cap
	}
	return CapabilityPolicy{Enabled: false, Mode: CapabilityModeAuto}
}

// Store holds the live approval configuration. Reads are unsynchronized and
// safe; a reload is a single atomic pointer swap, never an in-place
// mutation visible mid-read.
type Store struct {
	current atomic.Pointer[ApprovalConfig]
	logger  *zap.Logger
}

// NewStore validates cfg and wraps it in a store.
func NewStore(cfg *ApprovalConfig, logger *zap.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{logger: logging.OrNop(logger).Named("policystore")}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the live configuration snapshot.
func (s *Store) Current() *ApprovalConfig {
	return s.current.Load()
}

// Swap installs a validated replacement configuration.
func (s *Store) Swap(cfg *ApprovalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.current.Store(cfg)
	s.logger.Info("approval policy swapped", zap.String("global_mode", string(cfg.GlobalMode)))
	return nil
}

// Watch reloads the policy file on change until ctx is done. Invalid
// replacements are logged and ignored; the previous snapshot stays live.
func (s *Store) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadApprovalConfig(path)
				if err != nil {
					s.logger.Warn("policy reload rejected", zap.Error(err))
					continue
				}
				if err := s.Swap(cfg); err != nil {
					s.logger.Warn("policy reload rejected", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("policy watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// LoadApprovalConfig reads and validates a standalone approval policy file.
func LoadApprovalConfig(path string) (*ApprovalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read approval policy: %w", err)
	}
	var wrapper struct {
		Approval ApprovalConfig `yaml:"approval"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse approval policy: %w", err)
	}
	if err := wrapper.Approval.Validate(); err != nil {
		return nil, err
	}
	return &wrapper.Approval, nil
}
