package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

func TestBrokerConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg BrokerConfig
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:8080")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, "info")
	}
	if cfg.StateDB == "" {
		t.Error("StateDB should default to a non-empty path")
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.Audit.RetentionDays)
	}
	if cfg.Sweeper.Interval != "1m" {
		t.Errorf("Sweeper.Interval = %q, want %q", cfg.Sweeper.Interval, "1m")
	}
}

func TestBrokerConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := BrokerConfig{
		Server:  ServerConfig{HTTPAddr: ":9090"},
		StateDB: "/custom/path.db",
		Sweeper: SweeperConfig{Interval: "30s"},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q, want %q", cfg.Server.HTTPAddr, ":9090")
	}
	if cfg.StateDB != "/custom/path.db" {
		t.Errorf("StateDB was overwritten: got %q", cfg.StateDB)
	}
	if cfg.Sweeper.Interval != "30s" {
		t.Errorf("Sweeper.Interval was overwritten: got %q", cfg.Sweeper.Interval)
	}
}

func TestBrokerConfig_SetDevDefaults_NoOpWhenDisabled(t *testing.T) {
	t.Parallel()

	var cfg BrokerConfig
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.StateDB == ":memory:" {
		t.Error("SetDevDefaults should not apply when DevMode is false")
	}
	if cfg.HMAC.Key != "" {
		t.Error("SetDevDefaults should not inject an HMAC key when DevMode is false")
	}
}

func TestBrokerConfig_SetDevDefaults_SeedsInMemoryDB(t *testing.T) {
	t.Parallel()

	cfg := BrokerConfig{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.StateDB != ":memory:" {
		t.Errorf("StateDB = %q, want \":memory:\" in dev mode", cfg.StateDB)
	}
	if len(cfg.HMAC.Key) < 32 {
		t.Errorf("dev HMAC key is %d bytes, want >= 32", len(cfg.HMAC.Key))
	}
	if len(cfg.Wrappers) != 1 || cfg.Wrappers[0].Path != "/bin/true" {
		t.Errorf("Wrappers = %+v, want a single /bin/true no-op wrapper seeded for dev mode", cfg.Wrappers)
	}
}

func TestBrokerConfig_SetDevDefaults_SeedsCronAllowlist(t *testing.T) {
	t.Parallel()

	cfg := BrokerConfig{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if len(cfg.CronCommandAllowlist) != 1 || cfg.CronCommandAllowlist[0] != "/bin/true" {
		t.Errorf("CronCommandAllowlist = %+v, want a single /bin/true entry seeded for dev mode", cfg.CronCommandAllowlist)
	}
}

func TestBrokerConfig_SetDevDefaults_DoesNotOverrideConfiguredWrappers(t *testing.T) {
	t.Parallel()

	cfg := BrokerConfig{DevMode: true, Wrappers: []WrapperConfig{{ID: "user_add", Path: "/opt/broker/wrappers/user_add"}}}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if len(cfg.Wrappers) != 1 || cfg.Wrappers[0].ID != "user_add" {
		t.Errorf("Wrappers = %+v, want the operator-configured wrapper left untouched", cfg.Wrappers)
	}
}

func TestBrokerConfig_SweepInterval(t *testing.T) {
	t.Parallel()

	cfg := BrokerConfig{Sweeper: SweeperConfig{Interval: "5m"}}
	if got := cfg.SweepInterval(); got != 5*time.Minute {
		t.Errorf("SweepInterval() = %v, want 5m", got)
	}

	cfg2 := BrokerConfig{Sweeper: SweeperConfig{Interval: "garbage"}}
	if got := cfg2.SweepInterval(); got != time.Minute {
		t.Errorf("SweepInterval() fallback = %v, want 1m", got)
	}
}

func TestBrokerConfig_PolicyTable_AppliesOverrides(t *testing.T) {
	t.Parallel()

	autoExec := true
	cfg := BrokerConfig{
		PolicyOverrides: []PolicyOverride{
			{Operation: "user_add", TimeoutHours: 48, ApprovalCount: 2, AutoExecute: &autoExec},
		},
	}
	table := cfg.PolicyTable()

	pol, ok := table[policy.OpUserAdd]
	if !ok {
		t.Fatal("expected user_add to remain present in the merged table")
	}
	if pol.Timeout != 48*time.Hour {
		t.Errorf("Timeout = %v, want 48h", pol.Timeout)
	}
	if pol.ApprovalCount != 2 {
		t.Errorf("ApprovalCount = %d, want 2", pol.ApprovalCount)
	}
	if !pol.AutoExecute {
		t.Error("AutoExecute should be true after override")
	}

	// An operation with no override keeps its shipped default untouched.
	del, ok := table[policy.OpUserDelete]
	if !ok || del.Timeout != 24*time.Hour {
		t.Errorf("user_delete policy should be unaffected by an unrelated override")
	}
}

func TestBrokerConfig_PolicyTable_IgnoresUnknownOperation(t *testing.T) {
	t.Parallel()

	cfg := BrokerConfig{PolicyOverrides: []PolicyOverride{{Operation: "no_such_op", TimeoutHours: 10}}}
	table := cfg.PolicyTable()

	if _, ok := table[policy.OperationType("no_such_op")]; ok {
		t.Error("an override for an unknown operation must not create a new table entry")
	}
}

func TestBrokerConfig_RoleTable_AppliesOverride(t *testing.T) {
	t.Parallel()

	cfg := BrokerConfig{
		Roles: []RoleConfig{{Role: "viewer", Permissions: []string{"read:users"}}},
	}
	table := cfg.RoleTable()

	if !table[identity.RoleViewer].Has("read:users") {
		t.Error("viewer role override should grant read:users")
	}
	if table[identity.RoleViewer].Has("read:processes") {
		t.Error("viewer role override should replace the default permission set wholesale")
	}

	// Unmentioned roles keep their built-in permissions.
	if !table[identity.RoleAdmin].Has("execute:approved_action") {
		t.Error("admin role should keep its default permissions when not overridden")
	}
}

func TestHMACConfig_Resolve_InlineKey(t *testing.T) {
	t.Parallel()

	h := HMACConfig{Key: "inline-key"}
	got, err := h.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if string(got) != "inline-key" {
		t.Errorf("Resolve() = %q, want %q", got, "inline-key")
	}
}

func TestHMACConfig_Resolve_KeyFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "hmac.key")
	if err := os.WriteFile(path, []byte("file-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	h := HMACConfig{KeyFile: path}
	got, err := h.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if string(got) != "file-key" {
		t.Errorf("Resolve() = %q, want %q (trailing whitespace trimmed)", got, "file-key")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "broker.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0o644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "broker.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0o644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "broker"), []byte("\x7fELF binary"), 0o755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "broker.yaml")
	ymlPath := filepath.Join(dir, "broker.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0o644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0o644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
