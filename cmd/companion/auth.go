package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/credential"
	"project-companion/internal/domain"
)

var (
	authEmail    string
	authName     string
	authPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session token",
	Args:  cobra.NoArgs,
	RunE:  withApp(runLogin),
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and log in",
	Args:  cobra.NoArgs,
	RunE:  withApp(runSignup),
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	Args:  cobra.NoArgs,
	RunE:  withApp(runLogout),
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE:  withApp(runWhoami),
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, signupCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "account email (prompted when empty)")
		c.Flags().StringVar(&authPassword, "password", "", "account password (prompted when empty)")
	}
	signupCmd.Flags().StringVar(&authName, "name", "", "display name (prompted when empty)")

	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd)
}

func runLogin(cmd *cobra.Command, a *app, _ []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	email, err := valueOrPrompt(cmd, in, authEmail, "Email")
	if err != nil {
		return err
	}
	password, err := valueOrPrompt(cmd, in, authPassword, "Password")
	if err != nil {
		return err
	}

	resp, err := a.api.Login(cmd.Context(), domain.LoginCredentials{Email: email, Password: password})
	if err != nil {
		return err
	}
	return saveLogin(cmd, a, resp)
}

func runSignup(cmd *cobra.Command, a *app, _ []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	email, err := valueOrPrompt(cmd, in, authEmail, "Email")
	if err != nil {
		return err
	}
	name, err := valueOrPrompt(cmd, in, authName, "Name")
	if err != nil {
		return err
	}
	password, err := valueOrPrompt(cmd, in, authPassword, "Password")
	if err != nil {
		return err
	}

	resp, err := a.api.Signup(cmd.Context(), domain.SignupRequest{Email: email, Name: name, Password: password})
	if err != nil {
		return err
	}
	return saveLogin(cmd, a, resp)
}

func saveLogin(cmd *cobra.Command, a *app, resp *domain.AuthResponse) error {
	if resp.Token == "" {
		return fmt.Errorf("%w: backend returned no token", domain.ErrProviderError)
	}
	if err := a.creds.Save(domain.Credentials{Token: resp.Token, User: resp.User}); err != nil {
		return err
	}
	a.logger.Info("logged in", "credentials", a.creds.Path())

	out := cmd.OutOrStdout()
	if resp.User != nil && resp.User.Name != "" {
		fmt.Fprintf(out, "Logged in as %s.\n", resp.User.Name)
	} else {
		fmt.Fprintln(out, "Logged in.")
	}
	if resp.ProjectID != "" {
		fmt.Fprintf(out, "Default project: %s\n", resp.ProjectID)
	}
	return nil
}

func runLogout(cmd *cobra.Command, a *app, _ []string) error {
	if err := a.creds.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
	return nil
}

func runWhoami(cmd *cobra.Command, a *app, _ []string) error {
	out := cmd.OutOrStdout()
	creds, err := a.creds.Load()
	if errors.Is(err, domain.ErrNotAuthenticated) {
		fmt.Fprintln(out, "Not logged in. Run 'companion login'.")
		return nil
	}
	if err != nil {
		return err
	}

	if u := creds.User; u != nil {
		fmt.Fprintf(out, "User:    %s (id %d)\n", u.Name, u.ID)
		if u.Username != "" {
			fmt.Fprintf(out, "Login:   %s\n", u.Username)
		}
	}
	info, err := credential.Inspect(creds.Token)
	if err != nil {
		fmt.Fprintln(out, "Token:   opaque")
		return nil
	}
	if info.Subject != "" {
		fmt.Fprintf(out, "Subject: %s\n", info.Subject)
	}
	if info.ExpiresAt != nil {
		state := "valid"
		if info.Expired(time.Now()) {
			state = "expired"
		}
		fmt.Fprintf(out, "Expires: %s (%s)\n", info.ExpiresAt.Local().Format(time.RFC1123), state)
	}
	return nil
}

// valueOrPrompt returns v, or asks for it on stdin when empty.
func valueOrPrompt(cmd *cobra.Command, in *bufio.Reader, v, label string) (string, error) {
	if v = strings.TrimSpace(v); v != "" {
		return v, nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if line = strings.TrimSpace(line); line == "" {
		return "", fmt.Errorf("%w: %s is required", domain.ErrInvalidInput, strings.ToLower(label))
	}
	return line, nil
}
