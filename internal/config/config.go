// Package config provides configuration types for the broker.
//
// Everything the core needs at startup is read once, here, and then held
// immutable for the life of the process: the HMAC key, the wrapper
// registry path mapping, the policy timeout table, the reserved-name
// tables, and the role->permission map. Nothing downstream reaches back
// into viper or the filesystem after LoadConfig returns.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/sentinel-gate/broker/internal/config/defaultpolicy"
	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// BrokerConfig is the top-level configuration for the privileged-operation
// broker.
type BrokerConfig struct {
	// Server holds the HTTP address and the log level. The broker starts no
	// HTTP server; only LogLevel is read at startup.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// StateDB is the path to the SQLite database file backing the
	// Approval Engine's persisted state. ":memory:" is valid for tests
	// but never for a production deployment.
	StateDB string `yaml:"state_db" mapstructure:"state_db" validate:"required"`

	// HMAC configures the key used to sign every audit-history entry.
	HMAC HMACConfig `yaml:"hmac" mapstructure:"hmac"`

	// Wrappers is the fixed allowlist mapping a symbolic wrapper id to its
	// absolute on-disk path. This is the Wrapper Gateway's entire attack
	// surface: the core invokes no host command outside this list.
	Wrappers []WrapperConfig `yaml:"wrappers" mapstructure:"wrappers" validate:"required,min=1,dive"`

	// PolicyOverrides lets an operator narrow or widen the shipped
	// default policy table's approval_count/timeout/auto_execute fields
	// per operation, without recompiling. Operations absent here keep
	// defaultpolicy.Table()'s shipped values.
	PolicyOverrides []PolicyOverride `yaml:"policy_overrides" mapstructure:"policy_overrides" validate:"omitempty,dive"`

	// Roles optionally overrides the built-in role->permission map.
	// Empty means identity.DefaultRoleTable() applies unchanged.
	Roles []RoleConfig `yaml:"roles" mapstructure:"roles" validate:"omitempty,dive"`

	// Audit configures the file-rotated audit log.
	Audit AuditFileConfig `yaml:"audit" mapstructure:"audit"`

	// Sweeper configures the background expiry sweep.
	Sweeper SweeperConfig `yaml:"sweeper" mapstructure:"sweeper"`

	// Observability configures metrics and tracing.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// DevMode enables verbose logging and permissive defaults suited to a
	// local operator trying the broker out, never a production posture.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`

	// CronCommandAllowlist is the set of absolute command paths a cron_add
	// or cron_modify payload's "command" field may resolve to. A command
	// outside this list is rejected at payload validation, before any
	// approval record is ever created. Empty means no cron command is
	// ever accepted -- the allowlist is deny-by-default, like Wrappers.
	CronCommandAllowlist []string `yaml:"cron_command_allowlist" mapstructure:"cron_command_allowlist" validate:"omitempty,dive,absolute_path"`
}

// ServerConfig holds the server-level settings.
type ServerConfig struct {
	// HTTPAddr is a host:port, validated and defaulted to "127.0.0.1:8080".
	// Nothing listens on it: the broker has no HTTP server.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: debug, info, warn, or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// HMACConfig configures the audit-history signing key. Exactly one of Key
// or KeyFile must be set.
type HMACConfig struct {
	// Key is the raw key, inline. Prefer KeyFile in production so the
	// key never lands in a config file an operator might commit.
	Key string `yaml:"key" mapstructure:"key"`

	// KeyFile is a path to a file holding the raw key bytes.
	KeyFile string `yaml:"key_file" mapstructure:"key_file"`
}

// WrapperConfig describes one allowlisted wrapper program.
type WrapperConfig struct {
	// ID is the symbolic wrapper name the registry resolves, e.g. "user_add".
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Path is the wrapper's absolute on-disk location.
	Path string `yaml:"path" mapstructure:"path" validate:"required,absolute_path"`

	// TimeoutMS overrides the gateway's default wall-clock timeout for
	// this wrapper, in milliseconds. 0 means "use the gateway default".
	TimeoutMS int64 `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`
}

// PolicyOverride narrows or widens one operation's policy fields.
type PolicyOverride struct {
	// Operation is the operation type to override, e.g. "user_add".
	Operation string `yaml:"operation" mapstructure:"operation" validate:"required"`

	// TimeoutHours overrides the approval deadline window. Must fall in
	// the data model's bound of 1-168h (one week) when set.
	TimeoutHours int `yaml:"timeout_hours" mapstructure:"timeout_hours" validate:"omitempty,min=1,max=168"`

	// ApprovalCount overrides the number of distinct approvers required.
	ApprovalCount int `yaml:"approval_count" mapstructure:"approval_count" validate:"omitempty,min=1,max=10"`

	// AutoExecute overrides whether an approval immediately executes the
	// wrapper invocation rather than waiting for a manual execute call.
	AutoExecute *bool `yaml:"auto_execute" mapstructure:"auto_execute"`
}

// RoleConfig assigns a permission set to a role, overriding the built-in
// table entry for that role wholesale.
type RoleConfig struct {
	Role        string   `yaml:"role" mapstructure:"role" validate:"required,oneof=viewer operator approver admin"`
	Permissions []string `yaml:"permissions" mapstructure:"permissions" validate:"required,min=1"`
}

// AuditFileConfig configures the file-based, rotated audit log. Its events
// are not signed; the HMAC key signs approval history entries only.
type AuditFileConfig struct {
	// Dir is the directory audit log segments are written to.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`

	// RetentionDays is how many days of rotated segments to keep.
	// Defaults to 90.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB is the per-segment size before rotation. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`

	// CacheSize is how many recent events the in-memory ring buffer keeps
	// for a fast recent-activity read without touching disk. Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size" validate:"omitempty,min=1"`
}

// SweeperConfig configures the background expiry sweep.
type SweeperConfig struct {
	// Interval is how often the sweeper checks for pending requests past
	// their deadline, e.g. "1m". Defaults to "1m".
	Interval string `yaml:"interval" mapstructure:"interval" validate:"omitempty"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsAddr is a host:port, validated when set. No /metrics server
	// is started from it: the collectors are registered on a registry
	// that nothing serves.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// TracingEnabled turns on the stdout OpenTelemetry exporter.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// SetDefaults applies sensible default values to the configuration. Called
// before validation so required fields not authored by the operator are
// still satisfied.
func (c *BrokerConfig) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.StateDB == "" {
		c.StateDB = "/var/lib/broker/state.db"
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = "/var/log/broker/audit"
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}
	if c.Audit.CacheSize == 0 {
		c.Audit.CacheSize = 1000
	}
	if c.Sweeper.Interval == "" {
		c.Sweeper.Interval = "1m"
	}
}

// SetDevDefaults applies permissive defaults for development mode, enough
// to start the broker against an in-memory database with a single
// no-op wrapper. Applied after SetDefaults, before validation.
func (c *BrokerConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.StateDB == "/var/lib/broker/state.db" {
		c.StateDB = ":memory:"
	}
	if c.HMAC.Key == "" && c.HMAC.KeyFile == "" {
		c.HMAC.Key = "dev-only-hmac-key-do-not-use-in-prod!!"
	}
	if c.Audit.Dir == "/var/log/broker/audit" {
		c.Audit.Dir = "./audit-dev"
	}
	if len(c.Wrappers) == 0 {
		c.Wrappers = []WrapperConfig{{ID: "noop", Path: "/bin/true"}}
	}
	if len(c.CronCommandAllowlist) == 0 {
		c.CronCommandAllowlist = []string{"/bin/true"}
	}
}

// Resolve returns the raw HMAC key bytes, reading KeyFile if set in
// preference to the inline Key.
func (h HMACConfig) Resolve() ([]byte, error) {
	if h.KeyFile != "" {
		b, err := os.ReadFile(h.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read hmac key_file: %w", err)
		}
		return bytes.TrimSpace(b), nil
	}
	return []byte(h.Key), nil
}

// SweepInterval parses Sweeper.Interval, falling back to one minute if it
// is empty or malformed -- the sweeper must always run.
func (c *BrokerConfig) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Sweeper.Interval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// PolicyTable merges PolicyOverrides onto defaultpolicy.Table(), returning
// the resulting immutable table the Approval Engine is seeded and
// authorized against.
func (c *BrokerConfig) PolicyTable() policy.Table {
	table := defaultpolicy.Table()
	for _, o := range c.PolicyOverrides {
		op := policy.OperationType(o.Operation)
		pol, ok := table[op]
		if !ok {
			continue
		}
		if o.TimeoutHours > 0 {
			pol.Timeout = time.Duration(o.TimeoutHours) * time.Hour
		}
		if o.ApprovalCount > 0 {
			pol.ApprovalCount = o.ApprovalCount
		}
		if o.AutoExecute != nil {
			pol.AutoExecute = *o.AutoExecute
		}
		table[op] = pol
	}
	return table
}

// RoleTable merges Roles onto identity.DefaultRoleTable(), returning the
// resulting immutable role->permission map.
func (c *BrokerConfig) RoleTable() identity.RoleTable {
	table := identity.DefaultRoleTable()
	for _, r := range c.Roles {
		perms := make([]identity.Permission, 0, len(r.Permissions))
		for _, p := range r.Permissions {
			perms = append(perms, identity.Permission(p))
		}
		table[identity.Role(r.Role)] = identity.NewPermissionSet(perms...)
	}
	return table
}
