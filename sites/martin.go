package sites

import (
	"context"
	"net/url"

	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
)

// MartinRules keeps the aggregate types listed in valid_methods.
var MartinRules = Rules{
	Methods:   []any{"payment_methods"},
	FilterKey: []any{"aggregate_type"},
	Filter:    FilterAllow,
	Name:      [][]any{{"child_system_name"}, {"child_system"}},
	MinAmount: []any{"limit", "min"},
}

const martinMethodsPath = "api/v4/cashbox/payment_methods"

// Martin logs in through the login form and needs a reload afterwards for
// the cashbox to pick up the session.
type Martin struct {
	FormLogin
}

func (Martin) ID() string { return "martin" }

func (Martin) Requires(site config.Site) error {
	return requireFields(site, append(formFields(site),
		field{"topup.cashbox_selector", site.Topup.CashboxSelector},
	)...)
}

func (Martin) NavigateToTarget(ctx context.Context, env Env) error {
	return env.Session.Reload(ctx, browser.WaitCommit)
}

func (Martin) Extract(ctx context.Context, env Env) ([]models.PaymentMethod, error) {
	s := env.Session
	topup := env.Site.Topup

	endpoint, err := martinEndpoint(s.URL())
	if err != nil {
		return nil, err
	}
	ex, err := s.Expect(ctx, browser.ResponseURLEquals(endpoint), func(ctx context.Context) error {
		return s.Click(ctx, topup.CashboxSelector)
	})
	if err != nil {
		return nil, err
	}
	return Normalize(ex.JSON(), MartinRules, topup.ValidMethods, topup.InvalidMethods)
}

// martinEndpoint derives the payment methods API URL from the current page.
// The API lives at the site root, outside the /ru/ locale prefix.
func martinEndpoint(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", models.NewScrapeError(models.ErrCodeExtraction, "cannot derive API origin from page URL "+pageURL, err)
	}
	return u.Scheme + "://" + u.Host + "/" + martinMethodsPath, nil
}
