package cmd

import (
	"testing"

	"github.com/sentinel-gate/broker/internal/domain/identity"
)

func TestApprovalCommands_Registered(t *testing.T) {
	want := []string{"create", "approve", "reject", "cancel", "execute"}
	for _, name := range want {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("%q command not registered with rootCmd", name)
		}
	}
}

func TestCallerIdentity_MissingID(t *testing.T) {
	callerUserID, callerUsername, callerRole = "", "", "operator"
	defer func() { callerUserID, callerUsername, callerRole = "", "", "" }()

	if _, err := callerIdentity(); err == nil {
		t.Error("expected error when --as-id is missing")
	}
}

func TestCallerIdentity_InvalidRole(t *testing.T) {
	callerUserID, callerUsername, callerRole = "alice", "Alice", "superuser"
	defer func() { callerUserID, callerUsername, callerRole = "", "", "" }()

	if _, err := callerIdentity(); err == nil {
		t.Error("expected error for an invalid role")
	}
}

func TestCallerIdentity_DefaultsNameToID(t *testing.T) {
	callerUserID, callerUsername, callerRole = "alice", "", "operator"
	defer func() { callerUserID, callerUsername, callerRole = "", "", "" }()

	got, err := callerIdentity()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := identity.Identity{UserID: "alice", Username: "alice", Role: identity.RoleOperator}
	if got != want {
		t.Errorf("callerIdentity() = %+v, want %+v", got, want)
	}
}

func TestParsePayload(t *testing.T) {
	payload, err := parsePayload([]string{"username=bob", "groups=users,wheel", "shell=/bin/bash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["username"] != "bob" {
		t.Errorf("username = %v, want bob", payload["username"])
	}
	groups, ok := payload["groups"].([]any)
	if !ok || len(groups) != 2 || groups[0] != "users" || groups[1] != "wheel" {
		t.Errorf("groups = %v, want [users wheel]", payload["groups"])
	}
}

func TestParsePayload_InvalidEntry(t *testing.T) {
	if _, err := parsePayload([]string{"no-equals-sign"}); err == nil {
		t.Error("expected error for a malformed --payload entry")
	}
}
