package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sentinel-gate/broker/internal/domain/identity"
	"github.com/sentinel-gate/broker/internal/domain/policy"
)

// Local, trusted-operator identity flags. broker has no HTTP transport (and
// so no session/JWT layer) in scope; the CLI stands in for that inbound
// adapter and takes the caller's identity directly from flags instead of
// from a bearer token, the same way an operator invoking a cobra
// subcommand directly is trusted by virtue of already having a shell on
// the host.
var (
	callerUserID   string
	callerUsername string
	callerRole     string
)

func addCallerFlags(c *cobra.Command) {
	c.Flags().StringVar(&callerUserID, "as-id", "", "caller user id (required)")
	c.Flags().StringVar(&callerUsername, "as-name", "", "caller display name (defaults to --as-id)")
	c.Flags().StringVar(&callerRole, "as-role", "", "caller role: viewer, operator, approver, or admin (required)")
}

func callerIdentity() (identity.Identity, error) {
	if callerUserID == "" {
		return identity.Identity{}, fmt.Errorf("--as-id is required")
	}
	role := identity.Role(callerRole)
	if !role.Valid() {
		return identity.Identity{}, fmt.Errorf("--as-role must be one of viewer, operator, approver, admin (got %q)", callerRole)
	}
	name := callerUsername
	if name == "" {
		name = callerUserID
	}
	return identity.Identity{UserID: callerUserID, Username: name, Role: role}, nil
}

// quietLogger discards everything but warnings and above, so a one-shot CLI
// invocation doesn't spam the operator with the same info-level lines
// runStart logs for a long-lived process.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var createCmd = &cobra.Command{
	Use:   "create <operation> --reason TEXT [--payload key=value ...]",
	Short: "Create an approval request for a privileged operation",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var (
	createReason      string
	createPayloadArgs []string
)

func init() {
	addCallerFlags(createCmd)
	createCmd.Flags().StringVar(&createReason, "reason", "", "reason for the request (required)")
	createCmd.Flags().StringArrayVar(&createPayloadArgs, "payload", nil, "payload field as key=value; repeat per field; \"groups\" is comma-split into a list")
	rootCmd.AddCommand(createCmd)
}

func parsePayload(args []string) (map[string]any, error) {
	payload := make(map[string]any, len(args))
	for _, kv := range args {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --payload %q, expected key=value", kv)
		}
		if key == "groups" {
			parts := strings.Split(value, ",")
			groups := make([]any, 0, len(parts))
			for _, p := range parts {
				if p != "" {
					groups = append(groups, p)
				}
			}
			payload[key] = groups
			continue
		}
		payload[key] = value
	}
	return payload, nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	caller, err := callerIdentity()
	if err != nil {
		return err
	}
	payload, err := parsePayload(createPayloadArgs)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := context.Background()
	env, err := boot(ctx, cfg, quietLogger())
	if err != nil {
		return err
	}
	defer env.shutdown(ctx)

	req, err := env.Approvals.Create(ctx, caller, policy.OperationType(args[0]), payload, createReason)
	if err != nil {
		return err
	}
	fmt.Printf("created %s status=%s expires_at=%s\n", req.ID, req.Status, req.ExpiresAt.Format(timeFormat))
	return nil
}

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func init() {
	addCallerFlags(approveCmd)
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	caller, err := callerIdentity()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := context.Background()
	env, err := boot(ctx, cfg, quietLogger())
	if err != nil {
		return err
	}
	defer env.shutdown(ctx)

	req, err := env.Approvals.ApproveRequest(ctx, caller, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s status=%s\n", req.ID, req.Status)
	return nil
}

var rejectCmd = &cobra.Command{
	Use:   "reject <request-id> --reason TEXT",
	Short: "Reject a pending approval request",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var rejectReason string

func init() {
	addCallerFlags(rejectCmd)
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "reason for the rejection (required)")
	rootCmd.AddCommand(rejectCmd)
}

func runReject(cmd *cobra.Command, args []string) error {
	caller, err := callerIdentity()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := context.Background()
	env, err := boot(ctx, cfg, quietLogger())
	if err != nil {
		return err
	}
	defer env.shutdown(ctx)

	if err := env.Approvals.RejectRequest(ctx, caller, args[0], rejectReason); err != nil {
		return err
	}
	fmt.Printf("%s rejected\n", args[0])
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <request-id>",
	Short: "Cancel a pending approval request you created",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	addCallerFlags(cancelCmd)
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	caller, err := callerIdentity()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := context.Background()
	env, err := boot(ctx, cfg, quietLogger())
	if err != nil {
		return err
	}
	defer env.shutdown(ctx)

	if err := env.Approvals.CancelRequest(ctx, caller, args[0]); err != nil {
		return err
	}
	fmt.Printf("%s cancelled\n", args[0])
	return nil
}

var executeCmd = &cobra.Command{
	Use:   "execute <request-id>",
	Short: "Run the wrapper for an approved request",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecute,
}

func init() {
	addCallerFlags(executeCmd)
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	caller, err := callerIdentity()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx := context.Background()
	env, err := boot(ctx, cfg, quietLogger())
	if err != nil {
		return err
	}
	defer env.shutdown(ctx)

	req, err := env.Approvals.ExecuteRequest(ctx, caller, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s status=%s\n", req.ID, req.Status)
	if req.ExecutionResult != nil {
		fmt.Printf("  exit_code=%d stdout=%q stderr=%q\n",
			req.ExecutionResult.ExitCode, req.ExecutionResult.Stdout, req.ExecutionResult.Stderr)
	}
	return nil
}

const timeFormat = "2006-01-02T15:04:05Z07:00"
