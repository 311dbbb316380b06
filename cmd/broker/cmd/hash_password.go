package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sentinel-gate/broker/internal/domain/credential"
	"github.com/sentinel-gate/broker/internal/domain/validate"
)

var hashPasswordUsername string

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an operator password for the operators file",
	Long: `Read a password from stdin (never argv, so it never lands in shell
history or a process listing) and print its Argon2id hash.

The output is a PHC-format string suitable for an operator entry's
password_hash field:

  broker hash-password --username alice
  Password: ********
  $argon2id$v=19$m=47104,t=1,p=1$...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readPassword(cmd)
		if err != nil {
			return err
		}
		if err := validate.IsStrongPassword(raw, hashPasswordUsername); err != nil {
			return fmt.Errorf("password does not meet strength requirements: %w", err)
		}
		hash, err := credential.HashPassword(raw)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

// readPassword reads a password from the terminal without echoing it when
// stdin is a tty, falling back to a line read (e.g. a piped input in CI).
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func init() {
	hashPasswordCmd.Flags().StringVar(&hashPasswordUsername, "username", "", "username the password belongs to, screened against the password itself")
	rootCmd.AddCommand(hashPasswordCmd)
}
