package approval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sentinel-gate/broker/internal/domain/policy"
	"github.com/sentinel-gate/broker/internal/domain/validate"
	"github.com/sentinel-gate/broker/internal/domain/wrapper"
)

// ValidatePayload checks req's payload against the operation's payload
// schema -- a Validator bundle per operation type, per the create()
// contract's step 3. It never touches the database; a failure here means
// no record is ever inserted.
//
// cronAllowlist is the set of absolute command paths an operator has
// pre-approved for cron_add/cron_modify; it is ignored by every other
// operation. A nil or empty allowlist rejects every cron command.
func ValidatePayload(op policy.OperationType, payload map[string]any, cronAllowlist []string) error {
	switch op {
	case policy.OpUserAdd:
		return validateUserAdd(payload)
	case policy.OpUserDelete:
		return requireUsername(payload, validate.NotForbiddenUser)
	case policy.OpUserModify:
		return validateUserModify(payload)
	case policy.OpUserPasswd:
		return validateUserPasswd(payload)
	case policy.OpGroupAdd:
		return validateGroupAdd(payload)
	case policy.OpGroupDelete:
		return requireGroupname(payload, validate.NotForbiddenGroup)
	case policy.OpGroupModify:
		return validateGroupModify(payload)
	case policy.OpCronAdd:
		return validateCronAdd(payload, cronAllowlist)
	case policy.OpCronDelete:
		return requireString(payload, "job_id")
	case policy.OpCronModify:
		return validateCronModify(payload, cronAllowlist)
	case policy.OpServiceStop:
		return requireString(payload, "service_name")
	case policy.OpFirewallModify:
		return requireForbiddenCharFree(payload, "rule")
	default:
		return fmt.Errorf("approval: no payload schema for operation %q", op)
	}
}

func str(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func requireString(payload map[string]any, key string) error {
	s, ok := str(payload, key)
	if !ok || s == "" {
		return fmt.Errorf("approval: payload missing required field %q", key)
	}
	return nil
}

func requireForbiddenCharFree(payload map[string]any, key string) error {
	if err := requireString(payload, key); err != nil {
		return err
	}
	s, _ := str(payload, key)
	return validate.IsForbiddenCharFree(s)
}

func requireUsername(payload map[string]any, extra func(string) error) error {
	s, ok := str(payload, "username")
	if !ok {
		return fmt.Errorf("approval: payload missing required field %q", "username")
	}
	if err := validate.IsUsername(s); err != nil {
		return err
	}
	return extra(s)
}

func requireGroupname(payload map[string]any, extra func(string) error) error {
	s, ok := str(payload, "groupname")
	if !ok {
		return fmt.Errorf("approval: payload missing required field %q", "groupname")
	}
	if err := validate.IsGroupname(s); err != nil {
		return err
	}
	return extra(s)
}

func validateUserAdd(payload map[string]any) error {
	if err := requireUsername(payload, validate.NotForbiddenUser); err != nil {
		return err
	}
	shell, ok := str(payload, "shell")
	if !ok {
		return fmt.Errorf("approval: payload missing required field %q", "shell")
	}
	if err := validate.IsAllowedShell(shell); err != nil {
		return err
	}
	if home, ok := str(payload, "home"); ok && home != "" {
		if err := validate.IsHomeDir(home); err != nil {
			return err
		}
	}
	return validateGroupsField(payload)
}

func validateGroupsField(payload map[string]any) error {
	raw, ok := payload["groups"]
	if !ok {
		return nil
	}
	groups, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("approval: payload field %q must be a list", "groups")
	}
	for _, g := range groups {
		name, ok := g.(string)
		if !ok {
			return fmt.Errorf("approval: payload field %q must contain strings", "groups")
		}
		if err := validate.IsGroupname(name); err != nil {
			return err
		}
		if err := validate.NotForbiddenGroup(name); err != nil {
			return err
		}
	}
	return nil
}

func validateUserModify(payload map[string]any) error {
	if err := requireUsername(payload, validate.NotForbiddenUser); err != nil {
		return err
	}
	if shell, ok := str(payload, "shell"); ok && shell != "" {
		if err := validate.IsAllowedShell(shell); err != nil {
			return err
		}
	}
	if home, ok := str(payload, "home"); ok && home != "" {
		if err := validate.IsHomeDir(home); err != nil {
			return err
		}
	}
	return validateGroupsField(payload)
}

func validateUserPasswd(payload map[string]any) error {
	if err := requireUsername(payload, validate.NotForbiddenUser); err != nil {
		return err
	}
	hash, ok := str(payload, "password_hash")
	if !ok {
		return fmt.Errorf("approval: payload missing required field %q", "password_hash")
	}
	return validate.IsBcryptHash(hash)
}

func validateGroupAdd(payload map[string]any) error {
	if err := requireGroupname(payload, validate.NotForbiddenGroup); err != nil {
		return err
	}
	groupname, _ := str(payload, "groupname")
	return validate.UserGroupCollisionFree(groupname)
}

func validateGroupModify(payload map[string]any) error {
	if err := requireGroupname(payload, validate.NotForbiddenGroup); err != nil {
		return err
	}
	if newName, ok := str(payload, "new_name"); ok && newName != "" {
		if err := validate.IsGroupname(newName); err != nil {
			return err
		}
		return validate.NotForbiddenGroup(newName)
	}
	return nil
}

func validateCronAdd(payload map[string]any, cronAllowlist []string) error {
	schedule, ok := str(payload, "schedule")
	if !ok {
		return fmt.Errorf("approval: payload missing required field %q", "schedule")
	}
	if err := validate.IsCronSchedule(schedule); err != nil {
		return err
	}
	command, ok := str(payload, "command")
	if !ok {
		return fmt.Errorf("approval: payload missing required field %q", "command")
	}
	return validateCronCommand(command, cronAllowlist)
}

func validateCronModify(payload map[string]any, cronAllowlist []string) error {
	if err := requireString(payload, "job_id"); err != nil {
		return err
	}
	if schedule, ok := str(payload, "schedule"); ok && schedule != "" {
		if err := validate.IsCronSchedule(schedule); err != nil {
			return err
		}
	}
	if command, ok := str(payload, "command"); ok && command != "" {
		if err := validateCronCommand(command, cronAllowlist); err != nil {
			return err
		}
	}
	return nil
}

// validateCronCommand confirms command is metacharacter-free, absolute, and
// resolves to an entry in cronAllowlist -- the operator-configured set of
// commands cron jobs may invoke. Passing the character/path checks is not
// enough on its own: an arbitrary absolute path must still be pre-approved.
func validateCronCommand(command string, cronAllowlist []string) error {
	if err := validate.IsForbiddenCharFree(command); err != nil {
		return err
	}
	if !strings.HasPrefix(command, "/") {
		return fmt.Errorf("approval: cron command %q must be an absolute path", command)
	}
	for _, allowed := range cronAllowlist {
		if command == allowed {
			return nil
		}
	}
	return fmt.Errorf("approval: cron command %q is not in the configured allowlist", command)
}

// dash is the convention for "leave unchanged" in a modify wrapper's argv.
const dash = "-"

func opt(payload map[string]any, key string) string {
	if s, ok := str(payload, key); ok && s != "" {
		return s
	}
	return dash
}

// BuildInvocation derives (wrapper_id, argv, stdin) from a request's type
// and payload via the fixed per-operation mapping. Secrets (the bcrypt
// hash for user_add/user_passwd) are moved into stdin and never placed in
// argv.
func BuildInvocation(op policy.OperationType, payload map[string]any) (wrapper.ID, []string, []byte, error) {
	switch op {
	case policy.OpUserAdd:
		username, _ := str(payload, "username")
		shell, _ := str(payload, "shell")
		argv := []string{username, shell, opt(payload, "home"), groupsCSV(payload)}
		return "user_add", argv, stdinHash(payload), nil
	case policy.OpUserDelete:
		username, _ := str(payload, "username")
		return "user_delete", []string{username}, nil, nil
	case policy.OpUserModify:
		username, _ := str(payload, "username")
		argv := []string{username, opt(payload, "shell"), opt(payload, "home"), groupsCSV(payload)}
		return "user_modify", argv, nil, nil
	case policy.OpUserPasswd:
		username, _ := str(payload, "username")
		return "user_passwd", []string{username}, stdinHash(payload), nil
	case policy.OpGroupAdd:
		groupname, _ := str(payload, "groupname")
		return "group_add", []string{groupname}, nil, nil
	case policy.OpGroupDelete:
		groupname, _ := str(payload, "groupname")
		return "group_delete", []string{groupname}, nil, nil
	case policy.OpGroupModify:
		groupname, _ := str(payload, "groupname")
		return "group_modify", []string{groupname, opt(payload, "new_name")}, nil, nil
	case policy.OpCronAdd:
		schedule, _ := str(payload, "schedule")
		command, _ := str(payload, "command")
		return "cron_add", []string{schedule, command}, nil, nil
	case policy.OpCronDelete:
		jobID, _ := str(payload, "job_id")
		return "cron_delete", []string{jobID}, nil, nil
	case policy.OpCronModify:
		jobID, _ := str(payload, "job_id")
		argv := []string{jobID, opt(payload, "schedule"), opt(payload, "command")}
		return "cron_modify", argv, nil, nil
	case policy.OpServiceStop:
		name, _ := str(payload, "service_name")
		return "service_stop", []string{name}, nil, nil
	case policy.OpFirewallModify:
		rule, _ := str(payload, "rule")
		return "firewall_modify", []string{rule}, nil, nil
	default:
		return "", nil, nil, fmt.Errorf("approval: no invocation mapping for operation %q", op)
	}
}

func stdinHash(payload map[string]any) []byte {
	if hash, ok := str(payload, "password_hash"); ok {
		return []byte(hash)
	}
	return nil
}

func groupsCSV(payload map[string]any) string {
	raw, ok := payload["groups"]
	if !ok {
		return dash
	}
	groups, ok := raw.([]any)
	if !ok || len(groups) == 0 {
		return dash
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		if s, ok := g.(string); ok {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
