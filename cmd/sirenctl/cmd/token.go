package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/calm-otter-ops/siren/internal/api/auth"
)

var (
	tokenActor string
	tokenTTL   time.Duration
)

// tokenCmd represents the token command group
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "API token commands",
	Long: `Commands for minting operator API tokens.

Tokens are HS256 JWTs signed with the server's shared secret. The
secret is read from SIREN_JWT_SECRET or prompted interactively so it
never appears in shell history.

Example:
  sirenctl token mint --actor alice --ttl 12h`,
}

var tokenMintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint an operator API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenActor == "" {
			return fmt.Errorf("--actor is required; it becomes the actor on recorded transitions")
		}

		secret := os.Getenv("SIREN_JWT_SECRET")
		if secret == "" {
			var err error
			secret, err = promptSecret("Enter JWT secret: ")
			if err != nil {
				return fmt.Errorf("read secret: %w", err)
			}
		}
		if secret == "" {
			return fmt.Errorf("JWT secret is required")
		}

		jwtService := auth.NewJWTService([]byte(secret), tokenTTL)
		token, err := jwtService.GenerateToken(tokenActor)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}

		fmt.Println(token)
		PrintVerbose("token for %s valid for %v", tokenActor, tokenTTL)
		return nil
	},
}

// promptSecret prompts for a secret without echoing to the terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		secretBytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(secretBytes), nil
	}

	// Fallback for non-terminal input (e.g., piped input)
	reader := bufio.NewReader(os.Stdin)
	secret, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(secret), nil
}

func init() {
	tokenMintCmd.Flags().StringVar(&tokenActor, "actor", "", "name recorded as the actor on API transitions")
	tokenMintCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")

	tokenCmd.AddCommand(tokenMintCmd)
	rootCmd.AddCommand(tokenCmd)
}
