package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"optionchain/pkg/utils"
)

func newAuthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Kite Connect session management",
		Long: `Manage the Kite Connect session used for market data.

Kite access tokens lapse at 06:00 IST every day, so a login is needed once
per trading day. The session is stored in session.json in the config directory.`,
	}

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newLogoutCmd(app))
	cmd.AddCommand(newAuthStatusCmd(app))
	return cmd
}

func newLoginCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to Kite Connect",
		Long: `Open the Kite login page and exchange the request token for a session.

After logging in, Kite redirects to your app's redirect URL with a
request_token parameter. Paste it when prompted, or pass it with --token.`,
		Example: `  optionchain auth login
  optionchain auth login --token=<request_token>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			if app.Kite == nil {
				output.Error("Kite not configured. Add api_key and api_secret to %s/credentials.toml", app.ConfigDir)
				return fmt.Errorf("kite not configured")
			}

			token, _ := cmd.Flags().GetString("token")
			if token != "" {
				return completeLogin(ctx, app, output, token)
			}

			if app.Kite.IsAuthenticated() {
				output.Success("✓ Already logged in")
				showSession(output)
				return nil
			}

			loginURL := app.Kite.LoginURL()
			if !stdinIsTerminal() {
				output.Println(loginURL)
				output.Info("Complete the login with 'optionchain auth login --token=<request_token>'")
				return nil
			}

			output.Info("Opening Kite login page...")
			output.Println()
			output.Bold("Login URL:")
			output.Println(loginURL)
			output.Println()

			if err := openURL(loginURL); err != nil {
				output.Warning("Could not open browser automatically")
			}

			output.Info("After logging in, you'll be redirected to a URL like:")
			output.Dim("  https://your-redirect-url.com/?request_token=XXXXXX&status=success")
			output.Println()
			output.Bold("Paste the request_token value here:")

			reader := bufio.NewReader(cmd.InOrStdin())
			output.Printf("> ")
			inputToken, _ := reader.ReadString('\n')
			inputToken = strings.TrimSpace(inputToken)
			if inputToken == "" {
				output.Error("No token provided")
				return fmt.Errorf("no token provided")
			}

			return completeLogin(ctx, app, output, inputToken)
		},
	}

	cmd.Flags().String("token", "", "request token from the redirect URL")
	return cmd
}

func completeLogin(ctx context.Context, app *App, output *Output, token string) error {
	output.Info("Completing login with token...")
	if err := app.Kite.CompleteLogin(ctx, token); err != nil {
		output.Error("Login failed: %v", err)
		return err
	}
	output.Success("✓ Login successful!")
	showSession(output)
	return nil
}

func showSession(output *Output) {
	now := time.Now()
	expiry := utils.SessionExpiry(now)
	output.Println()
	output.Bold("Session")
	output.Printf("  Expires:    %s (%s remaining)\n",
		expiry.In(utils.IndiaLocation).Format("02 Jan 2006, 03:04 PM"),
		formatDuration(expiry.Sub(now)))
}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}
	return cmd.Start()
}

func newLogoutCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the Kite session",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if app.Kite == nil || !app.Kite.IsAuthenticated() {
				output.Warning("Not currently logged in.")
				return nil
			}

			if err := app.Kite.Logout(ctx); err != nil {
				output.Error("Logout failed: %v", err)
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"success":   true,
					"timestamp": time.Now().Format(time.RFC3339),
				})
			}
			output.Success("✓ Logged out")
			output.Dim("Session file removed.")
			return nil
		},
	}
}

func newAuthStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			configured := app.Kite != nil
			authenticated := configured && app.Kite.IsAuthenticated()

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"configured":    configured,
					"authenticated": authenticated,
					"expires_at":    utils.SessionExpiry(time.Now()),
				})
			}

			switch {
			case !configured:
				output.Error("Kite not configured")
				output.Info("Add api_key and api_secret to %s/credentials.toml", app.ConfigDir)
			case !authenticated:
				output.Warning("Not authenticated")
				output.Info("Run 'optionchain auth login' to start a session")
			default:
				output.Success("✓ Authenticated")
				showSession(output)
			}
			return nil
		},
	}
}

// stdinIsTerminal reports whether a prompt can be answered interactively.
func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
