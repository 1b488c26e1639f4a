package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-uploader/internal/driveops"
	"github.com/tonimelisma/onedrive-uploader/internal/graph"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize with OneDrive using the authorization code flow",
		Long: `Prints a Microsoft sign-in URL. After signing in, paste either the code or
the full URL the browser was redirected to. The token is cached for later runs.`,
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached access token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account the cached token belongs to",
		RunE:  runWhoami,
	}
}

// askOne is the survey entry point. Tests replace it.
var askOne = survey.AskOne

// surveyPrompt returns a graph.CodePrompt that prints the authorization URL
// to w and reads the pasted code or redirect URL from the terminal.
func surveyPrompt(w io.Writer) graph.CodePrompt {
	return func(ctx context.Context, authURL string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		// Prompts are always shown, even with --quiet.
		fmt.Fprintf(w, "To authorize, open this URL in a browser:\n\n  %s\n\n", authURL)

		var answer string

		err := askOne(&survey.Input{
			Message: "Paste the authorization code or the redirect URL:",
		}, &answer, survey.WithValidator(survey.Required))
		if err != nil {
			return "", fmt.Errorf("reading authorization code: %w", err)
		}

		return answer, nil
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	provider := newAuthProvider(cc.Cfg, surveyPrompt(cc.Stderr), cc.Logger)
	cache := driveops.NewTokenCache(cc.Cfg.TokenCachePath(), provider, cc.Logger)

	cc.Logger.Info("login started")

	tok, err := provider.AcquireToken(ctx, nil)
	if err != nil {
		return err
	}

	if err := cache.Store(tok); err != nil {
		return err
	}

	cc.Logger.Info("login successful")
	cc.Statusf("Login successful. Token cached at %s\n", cache.Path())

	user, err := newGraphClient(cc.Cfg, cache, cc.Logger).Me(ctx)
	if err != nil {
		cc.Logger.Warn("could not fetch account after login", "error", err)

		return nil
	}

	cc.Statusf("Signed in as %s\n", userLabel(user))

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cache := driveops.NewTokenCache(cc.Cfg.TokenCachePath(), nil, cc.Logger)

	removed, err := cache.Clear()
	if err != nil {
		return err
	}

	if !removed {
		cc.Statusf("Not logged in.\n")

		return nil
	}

	cc.Logger.Info("logout successful")
	cc.Statusf("Logged out.\n")

	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	cache := driveops.NewTokenCache(cc.Cfg.TokenCachePath(), nil, cc.Logger)

	user, err := newGraphClient(cc.Cfg, cache, cc.Logger).Me(ctx)
	if err != nil {
		if errors.Is(err, graph.ErrAuthFailure) || errors.Is(err, graph.ErrUnauthorized) {
			return fmt.Errorf("not logged in or token expired, run 'onedrive-uploader login': %w", err)
		}

		return fmt.Errorf("fetching user profile: %w", err)
	}

	fmt.Fprintf(cc.Stdout, "User:  %s\n", userLabel(user))
	fmt.Fprintf(cc.Stdout, "ID:    %s\n", user.ID)

	if tok, terr := cache.Current(); terr == nil {
		fmt.Fprintf(cc.Stdout, "Token: expires %s\n", formatExpiry(tok.ExpiresAt))
	}

	return nil
}

func userLabel(u *graph.User) string {
	email := u.Mail
	if email == "" {
		email = u.UserPrincipalName
	}

	if email == "" {
		return u.DisplayName
	}

	return fmt.Sprintf("%s (%s)", u.DisplayName, email)
}
