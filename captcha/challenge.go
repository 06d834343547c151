package captcha

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/paywatch/browser"
	"github.com/use-agent/paywatch/models"
	"github.com/ysmood/gson"
)

const detectJS = `() => Boolean(window.turnstile || window._cf_chl_opt)`

// Detect reports whether a known challenge widget is present in the page.
// Evaluation errors count as "no challenge".
func Detect(ctx context.Context, s browser.Session) bool {
	res, err := s.Eval(ctx, detectJS)
	if err != nil {
		slog.Warn("challenge detection failed", "error", err)
		return false
	}
	found, _ := res.Val().(bool)
	if found {
		slog.Info("challenge detected", "url", s.URL())
	}
	return found
}

// ChallengeMatcher accepts the GraphQL POST whose first operation is
// "Captcha".
func ChallengeMatcher() browser.Matcher {
	return browser.Matcher{
		Name: "graphql Captcha operation",
		OnRequest: func(method, url, postData string) bool {
			if method != "POST" || !strings.Contains(url, "api-gateway/graphql") {
				return false
			}
			return operationName(postData) == "Captcha"
		},
	}
}

// ExtractChallenge reloads the page while waiting for the Captcha GraphQL
// exchange and returns the site key it carries. If the exchange never
// happens, the page HTML is searched for a widget site key before failing
// with ChallengeNotFound.
func ExtractChallenge(ctx context.Context, s browser.Session) (string, error) {
	ex, err := s.Expect(ctx, ChallengeMatcher(), func(ctx context.Context) error {
		return s.Reload(ctx, browser.WaitCommit)
	})
	if err == nil {
		if key := siteKeyFromExchange(ex); key != "" {
			return key, nil
		}
		slog.Warn("captcha exchange carried no site key", "url", ex.URL)
	} else if models.CodeOf(err) != models.ErrCodeTimeout {
		return "", err
	}

	if html, herr := s.HTML(ctx); herr == nil {
		if key := SiteKeyFromHTML(html); key != "" {
			slog.Info("site key read from page markup")
			return key, nil
		}
	}
	return "", models.NewScrapeError(models.ErrCodeChallengeNotFound, "challenge request not observed", err)
}

// SiteKeyFromHTML returns the data-sitekey of the first challenge widget in
// html, or "".
func SiteKeyFromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	key, _ := doc.Find(".cf-turnstile[data-sitekey], [data-sitekey]").First().Attr("data-sitekey")
	return strings.TrimSpace(key)
}

func siteKeyFromExchange(ex *browser.Exchange) string {
	key, ok := ex.JSON().Gets(0, "data", "reCaptcha", "captchaId")
	if !ok {
		return ""
	}
	s, _ := key.Val().(string)
	return s
}

func operationName(postData string) string {
	if postData == "" {
		return ""
	}
	name, ok := gson.NewFrom(postData).Gets(0, "operationName")
	if !ok {
		return ""
	}
	s, _ := name.Val().(string)
	return s
}
