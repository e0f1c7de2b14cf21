package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dlqueue/pkg/auth"
	"dlqueue/pkg/client"
	"dlqueue/pkg/config"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/retry"
	"dlqueue/pkg/ui"
)

var (
	loginServer   string
	loginNoVerify bool
)

var errTokenRejected = errors.New("token rejected by the daemon")

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API tokens for dlqueue daemons",
	Long: `Manage the API tokens client commands send to a daemon.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - DLQUEUE_API_TOKEN environment variable (read only)

A daemon requires a token when server.api_token is set in its config.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store an API token",
	Long: `Store an API token under a name. The token is read from the terminal
without echo, or from standard input when it is not a terminal.

Before storing, the token is checked against the daemon. A token the daemon
rejects is not stored; when the daemon cannot be reached the token is
stored unverified.

Client commands use the token named by client.account (default "default")
or by --account.`,
	Example: `  # Store the token for the default account
  dlqueue auth login

  # Store a token for a daemon on another machine
  dlqueue auth login nas --server-url http://nas.local:8001
  echo "$TOKEN" | dlqueue auth login ci`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove a stored API token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored API tokens",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, listCmd)

	loginCmd.Flags().StringVar(&loginServer, "server-url", "", "daemon the token belongs to")
	loginCmd.Flags().BoolVar(&loginNoVerify, "no-verify", false, "store the token without checking it against the daemon")
}

// verifyToken asks the daemon for its queue with token. Only a rejected
// token yields errTokenRejected.
func verifyToken(ctx context.Context, cfg config.ClientConfig, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c := client.New(cfg, token, logger.GetLogger()).
		WithRetry(&retry.Config{MaxAttempts: 1, Logger: logger.NewNopLogger()})
	_, err := c.Status(ctx)
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w at %s", errTokenRejected, cfg.ServerURL)
	}
	return err
}

func accountArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	if accountName != "" {
		return accountName
	}
	return "default"
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	clientCfg := cfg.Client
	if loginServer != "" {
		clientCfg.ServerURL = loginServer
	}

	name := accountArg(args)
	token, err := readToken()
	if err != nil {
		return err
	}

	if !loginNoVerify {
		err := verifyToken(cmd.Context(), clientCfg, token)
		switch {
		case errors.Is(err, errTokenRejected):
			return err
		case err != nil:
			ui.PrintWarning("Daemon not reachable, storing the token unverified", err)
		default:
			ui.PrintSuccess("Token accepted by " + clientCfg.ServerURL)
		}
	}

	account := &auth.Account{Name: name, ServerURL: clientCfg.ServerURL, Token: token}
	if err := manager.Store(account); err != nil {
		return err
	}

	ui.PrintSuccess("Token stored for " + name)
	ui.PrintInfo("Token", auth.SanitizeAccount(account).Token)
	if name != "default" {
		fmt.Printf("\nUse it with: dlqueue --account %s status\n", name)
	}
	return nil
}

// readToken prompts without echo on a terminal and reads one line otherwise
func readToken() (string, error) {
	fd := int(os.Stdin.Fd())
	var token string
	if term.IsTerminal(fd) {
		fmt.Print("API token: ")
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		token = string(raw)
	} else {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read token: %w", err)
		}
		token = line
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token is empty")
	}
	return token, nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	name := accountArg(args)
	if err := manager.Delete(name); err != nil {
		return err
	}
	ui.PrintSuccess("Token removed: " + name)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintWarning("No stored tokens. Run 'dlqueue auth login' to add one.")
		return nil
	}

	for _, account := range accounts {
		masked := auth.SanitizeAccount(account)
		line := fmt.Sprintf("%s  %s", ui.Cyan(masked.Name), masked.Token)
		if masked.ServerURL != "" {
			line += "  " + ui.Dim(masked.ServerURL)
		}
		if !masked.LastModified.IsZero() {
			line += "  " + ui.Dim(masked.LastModified.Format("2006-01-02 15:04"))
		}
		fmt.Println(line)
	}
	return nil
}
