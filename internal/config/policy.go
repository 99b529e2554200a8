package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/verifyd/internal/model"
	"github.com/alfredjeanlab/verifyd/internal/observer"
	"github.com/alfredjeanlab/verifyd/internal/outbox"
)

// Policy holds the tunables read from the policy file.
type Policy struct {
	Transfer TransferPolicy `toml:"transfer"`
	Observer ObserverPolicy `toml:"observer"`
	Outbox   OutboxPolicy   `toml:"outbox"`
}

type TransferPolicy struct {
	Threshold int `toml:"threshold"`
}

type ObserverPolicy struct {
	Debounce duration `toml:"debounce"`
}

type OutboxPolicy struct {
	MaxAttempts   int      `toml:"max_attempts"`
	BaseBackoff   duration `toml:"base_backoff"`
	MaxBackoff    duration `toml:"max_backoff"`
	RatePerSecond float64  `toml:"rate_per_second"`
}

// duration decodes TOML strings like "500ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	ob := outbox.DefaultPolicy()
	return Policy{
		Transfer: TransferPolicy{Threshold: model.DefaultTransferThreshold},
		Observer: ObserverPolicy{Debounce: duration{observer.DefaultDebounce}},
		Outbox: OutboxPolicy{
			MaxAttempts:   ob.MaxAttempts,
			BaseBackoff:   duration{ob.BaseBackoff},
			MaxBackoff:    duration{ob.MaxBackoff},
			RatePerSecond: ob.RatePerSecond,
		},
	}
}

// LoadPolicy reads the TOML policy at path over the defaults. An empty path
// or a missing file yields DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

func (p Policy) validate() error {
	if p.Transfer.Threshold < 1 || p.Transfer.Threshold > 100 {
		return fmt.Errorf("transfer.threshold must be between 1 and 100, got %d", p.Transfer.Threshold)
	}
	if p.Observer.Debounce.Duration < 0 {
		return fmt.Errorf("observer.debounce must not be negative")
	}
	if p.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("outbox.max_attempts must be at least 1")
	}
	if p.Outbox.BaseBackoff.Duration <= 0 || p.Outbox.MaxBackoff.Duration < p.Outbox.BaseBackoff.Duration {
		return fmt.Errorf("outbox backoff must satisfy 0 < base_backoff <= max_backoff")
	}
	if p.Outbox.RatePerSecond < 0 {
		return fmt.Errorf("outbox.rate_per_second must not be negative")
	}
	return nil
}

// TransferGate returns the gate policy for the verify service.
func (p Policy) TransferGate() model.TransferPolicy {
	return model.TransferPolicy{Threshold: p.Transfer.Threshold}
}

// OutboxRetry returns the dispatcher retry policy.
func (p Policy) OutboxRetry() outbox.Policy {
	return outbox.Policy{
		MaxAttempts:   p.Outbox.MaxAttempts,
		BaseBackoff:   p.Outbox.BaseBackoff.Duration,
		MaxBackoff:    p.Outbox.MaxBackoff.Duration,
		RatePerSecond: p.Outbox.RatePerSecond,
	}
}

// Debounce returns the observer write debounce.
func (p Policy) Debounce() time.Duration {
	return p.Observer.Debounce.Duration
}
