package sites

import (
	"context"
	"log/slog"

	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/config"
)

// FormLogin is the default Authenticate step. Extractors embed it unless
// the site needs a custom flow.
type FormLogin struct{}

// Authenticate opens the site, opens the login form, types the credentials
// like a person would, submits and waits for the success indicator.
func (FormLogin) Authenticate(ctx context.Context, env Env) error {
	auth := env.Site.Auth
	s := env.Session

	if err := s.Navigate(ctx, auth.SiteURL, browser.WaitDOMContentLoaded); err != nil {
		return err
	}
	if err := s.WaitVisible(ctx, auth.LoginSelector); err != nil {
		return err
	}
	if err := s.Click(ctx, auth.LoginSelector); err != nil {
		return err
	}
	return submitCredentials(ctx, env)
}

// submitCredentials fills an already open login form and waits for the
// logged-in state.
func submitCredentials(ctx context.Context, env Env) error {
	auth := env.Site.Auth
	creds := env.Site.Credentials
	s := env.Session

	if err := env.Human.TypeLikeHuman(ctx, s, auth.UsernameSelector, creds.Username); err != nil {
		return err
	}
	if err := env.Human.TypeLikeHuman(ctx, s, auth.PasswordSelector, creds.Password); err != nil {
		return err
	}
	if err := s.Click(ctx, auth.SubmitSelector); err != nil {
		return err
	}
	if err := s.WaitVisible(ctx, auth.SuccessIndicator); err != nil {
		return err
	}
	slog.Debug("logged in", "site", env.Site.ID)
	return nil
}

// formFields lists the selectors submitCredentials types into and clicks.
func formFields(site config.Site) []field {
	return []field{
		{"auth.username_selector", site.Auth.UsernameSelector},
		{"auth.password_selector", site.Auth.PasswordSelector},
		{"auth.submit_selector", site.Auth.SubmitSelector},
	}
}
