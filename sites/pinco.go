package sites

import (
	"context"

	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/models"
)

// PincoRules reads the cashbox deposit methods list. Groups 49 and 51 hold
// methods that are not offered for deposits.
var PincoRules = Rules{
	Methods:    []any{"methods"},
	FilterKey:  []any{"name"},
	Filter:     FilterDeny,
	GroupID:    []any{"groups", 0, "id"},
	DenyGroups: []int64{51, 49},
	Name:       [][]any{{"popUpName"}},
	MinAmount:  []any{"limit", "RUB", "min"},
}

// Pinco logs in through the login form. The cashbox opens as an overlay, so
// there is nothing to navigate to.
type Pinco struct {
	FormLogin
}

func (Pinco) ID() string { return "pinco" }

func (Pinco) Requires(site config.Site) error {
	return requireFields(site, append(formFields(site),
		field{"topup.cashbox_selector", site.Topup.CashboxSelector},
	)...)
}

func (Pinco) NavigateToTarget(context.Context, Env) error { return nil }

func (Pinco) Extract(ctx context.Context, env Env) ([]models.PaymentMethod, error) {
	s := env.Session
	topup := env.Site.Topup

	ex, err := s.Expect(ctx, browser.URLContains("cashbox/deposit/methods", ""), func(ctx context.Context) error {
		return s.Click(ctx, topup.CashboxSelector)
	})
	if err != nil {
		return nil, err
	}
	return Normalize(ex.JSON(), PincoRules, topup.ValidMethods, topup.InvalidMethods)
}
