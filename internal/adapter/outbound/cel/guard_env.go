package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// newGuardEnvironment builds the CEL environment every guard expression
// compiles against: caller identity, the operation being attempted, its
// operation-scoped target descriptor, and the evaluation time.
func newGuardEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("caller_id", cel.StringType),
		cel.Variable("caller_name", cel.StringType),
		cel.Variable("caller_roles", cel.ListType(cel.StringType)),
		cel.Variable("operation", cel.StringType),
		cel.Variable("operation_object", cel.StringType),
		cel.Variable("target", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request_time", cel.TimestampType),

		// target_arg: extract a specific field by key from the target
		// descriptor. Usage: target_arg(target, "username")
		cel.Function("target_arg",
			cel.Overload("target_arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if goMap, ok := mapVal.Value().(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),

		// glob: shell-style glob match, e.g. glob("prod-*", target_arg(target, "name"))
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// has_role: membership test against caller_roles, sparing policy
		// authors from writing "'X' in caller_roles" by hand.
		cel.Function("has_role",
			cel.Overload("has_role_list_string",
				[]*cel.Type{cel.ListType(cel.StringType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(rolesVal, roleVal ref.Val) ref.Val {
					want := roleVal.Value().(string)
					lister, ok := rolesVal.(types.Lister)
					if !ok {
						return types.Bool(false)
					}
					it := lister.Iterator()
					for it.HasNext() == types.True {
						if it.Next().Value().(string) == want {
							return types.Bool(true)
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)
}

// buildActivation turns a policy.GuardContext into the CEL activation map
// newGuardEnvironment's variables resolve against.
func buildActivation(guardCtx policy.GuardContext) map[string]any {
	target := guardCtx.TargetDescriptor
	if target == nil {
		target = map[string]any{}
	}
	roles := make([]string, 0, len(guardCtx.CallerRoles))
	for _, r := range guardCtx.CallerRoles {
		roles = append(roles, string(r))
	}

	return map[string]any{
		"caller_id":        guardCtx.CallerID,
		"caller_name":      guardCtx.CallerName,
		"caller_roles":     roles,
		"operation":        string(guardCtx.Operation),
		"operation_object": guardCtx.Operation.Object(),
		"target":           target,
		"request_time":     guardCtx.RequestTime,
	}
}
