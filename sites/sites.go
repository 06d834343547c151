// Package sites holds one extractor per supported site. An extractor knows
// how to log in, reach the cashbox screen and turn the data-bearing network
// response into payment methods.
package sites

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/captcha"
	"github.com/use-agent/paywatch/config"
	"github.com/use-agent/paywatch/human"
	"github.com/use-agent/paywatch/models"
)

// Env is what an extractor works with during one attempt.
type Env struct {
	Session browser.Session
	Site    config.Site
	Human   *human.Emulator
	Solver  captcha.Solver
}

// Extractor is implemented once per site. The three steps run strictly in
// order within one session; any error aborts the attempt.
type Extractor interface {
	ID() string
	Authenticate(ctx context.Context, env Env) error
	NavigateToTarget(ctx context.Context, env Env) error
	Extract(ctx context.Context, env Env) ([]models.PaymentMethod, error)
}

// Requirer is implemented by extractors that read site fields beyond the
// ones every site must have.
type Requirer interface {
	Requires(site config.Site) error
}

// Registry maps a site identifier to its extractor.
type Registry map[string]Extractor

// Default returns the registry of built-in extractors.
func Default() Registry {
	return Registry{
		"pinco":  Pinco{},
		"martin": Martin{},
		"onx":    Onx{},
	}
}

// Lookup returns the extractor for id, or a NoExtractorForSite error.
func (r Registry) Lookup(id string) (Extractor, error) {
	ex, ok := r[id]
	if !ok {
		return nil, models.NewScrapeError(models.ErrCodeNoExtractor, fmt.Sprintf("no extractor for site %q", id), nil)
	}
	return ex, nil
}

// Check verifies that every enabled site has an extractor and carries the
// fields that extractor reads. It is run at startup so a misconfigured site
// stops the process instead of failing every batch.
func (r Registry) Check(sites []config.Site) error {
	for _, s := range sites {
		if !s.IsEnabled() {
			continue
		}
		ex, err := r.Lookup(s.ID)
		if err != nil {
			return err
		}
		if req, ok := ex.(Requirer); ok {
			if err := req.Requires(s); err != nil {
				return err
			}
		}
	}
	return nil
}

type field struct {
	name  string
	value string
}

// requireFields returns a Config error naming every empty field.
func requireFields(site config.Site, fields ...field) error {
	var empty []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			empty = append(empty, f.name)
		}
	}
	if len(empty) == 0 {
		return nil
	}
	return models.NewScrapeError(models.ErrCodeConfig,
		fmt.Sprintf("site %s: %s required", site.ID, strings.Join(empty, ", ")), nil)
}

// IDs lists the registered identifiers in sorted order.
func (r Registry) IDs() []string {
	ids := make([]string, 0, len(r))
	for id := range r {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
