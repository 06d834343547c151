package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/spf13/viper"
	"github.com/use-agent/paywatch/models"
)

// Site is one target site definition. It is read once at startup and
// shared read-only by every component for the lifetime of the process.
type Site struct {
	ID          string      `mapstructure:"id"`
	Name        string      `mapstructure:"name"`
	Enabled     *bool       `mapstructure:"enabled"`
	Auth        Auth        `mapstructure:"auth"`
	Credentials Credentials `mapstructure:"credentials"`
	Topup       Topup       `mapstructure:"topup"`
}

// IsEnabled treats a missing enabled flag as true.
func (s Site) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DisplayName falls back to the identifier when no name is configured.
func (s Site) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Auth holds the login parameters.
type Auth struct {
	SiteURL          string `mapstructure:"site_url"`
	LoginSelector    string `mapstructure:"login_selector"`
	UsernameSelector string `mapstructure:"username_selector"`
	PasswordSelector string `mapstructure:"password_selector"`
	SubmitSelector   string `mapstructure:"submit_selector"`
	SuccessIndicator string `mapstructure:"success_indicator"`
	CookiesSelector  string `mapstructure:"cookies_selector"`

	// GraphQLURL and LoginHost are used by sites that log in through an
	// injected GraphQL mutation after solving a challenge.
	GraphQLURL string `mapstructure:"graphql_url"`
	LoginHost  string `mapstructure:"login_host"`
}

// Credentials are resolved from ${VAR} references at load time.
type Credentials struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Topup holds navigation and extraction parameters.
type Topup struct {
	CashboxSelector    string   `mapstructure:"cashbox_selector"`
	ScreenshotSelector string   `mapstructure:"screenshot_selector"`
	SuccessIndicator   string   `mapstructure:"success_indicator"`
	ButtonSelector     string   `mapstructure:"button_selector"`
	ValidMethods       []string `mapstructure:"valid_methods"`
	InvalidMethods     []string `mapstructure:"invalid_methods"`
}

type sitesFile struct {
	Sites []Site `mapstructure:"sites"`
}

// LoadSites reads and validates the site definitions in path.
func LoadSites(path string) ([]Site, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeConfig, "read sites config", err)
	}
	return ParseSites(raw)
}

// ParseSites decodes YAML site definitions, resolves credential references
// and validates the result.
func ParseSites(raw []byte) ([]Site, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeConfig, "parse sites config", err)
	}

	var f sitesFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeConfig, "decode sites config", err)
	}

	for i := range f.Sites {
		s := &f.Sites[i]
		s.Credentials.Username = expandRef(s.ID, s.Credentials.Username)
		s.Credentials.Password = expandRef(s.ID, s.Credentials.Password)
	}

	if err := validateSites(f.Sites); err != nil {
		return nil, err
	}
	slog.Info("sites config loaded", "sites", len(f.Sites))
	return f.Sites, nil
}

var refPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandRef replaces a whole-value ${VAR} reference with the variable's value.
func expandRef(siteID, value string) string {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return value
	}
	env, ok := os.LookupEnv(m[1])
	if !ok || env == "" {
		slog.Warn("credential variable not set", "site", siteID, "var", m[1])
	}
	return env
}

func validateSites(sites []Site) error {
	var problems []string
	seen := make(map[string]struct{}, len(sites))

	for i, s := range sites {
		label := s.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			problems = append(problems, fmt.Sprintf("site %s: id is required", label))
		}
		if _, dup := seen[s.ID]; dup && s.ID != "" {
			problems = append(problems, fmt.Sprintf("site %s: duplicate id", label))
		}
		seen[s.ID] = struct{}{}

		if u, err := url.Parse(s.Auth.SiteURL); err != nil || !u.IsAbs() || u.Host == "" {
			problems = append(problems, fmt.Sprintf("site %s: auth.site_url must be an absolute URL", label))
		}

		required := map[string]string{
			"auth.login_selector":       s.Auth.LoginSelector,
			"auth.success_indicator":    s.Auth.SuccessIndicator,
			"topup.screenshot_selector": s.Topup.ScreenshotSelector,
		}
		for field, sel := range required {
			if strings.TrimSpace(sel) == "" {
				problems = append(problems, fmt.Sprintf("site %s: %s is required", label, field))
			}
		}

		for field, sel := range s.selectors() {
			if sel == "" {
				continue
			}
			if _, err := cascadia.Parse(sel); err != nil {
				problems = append(problems, fmt.Sprintf("site %s: %s %q is not a valid CSS selector: %v", label, field, sel, err))
			}
		}
	}

	if len(problems) > 0 {
		return models.NewScrapeError(models.ErrCodeConfig, strings.Join(problems, "; "), nil)
	}
	return nil
}

func (s Site) selectors() map[string]string {
	return map[string]string{
		"auth.login_selector":       s.Auth.LoginSelector,
		"auth.username_selector":    s.Auth.UsernameSelector,
		"auth.password_selector":    s.Auth.PasswordSelector,
		"auth.submit_selector":      s.Auth.SubmitSelector,
		"auth.success_indicator":    s.Auth.SuccessIndicator,
		"auth.cookies_selector":     s.Auth.CookiesSelector,
		"topup.cashbox_selector":    s.Topup.CashboxSelector,
		"topup.screenshot_selector": s.Topup.ScreenshotSelector,
		"topup.success_indicator":   s.Topup.SuccessIndicator,
		"topup.button_selector":     s.Topup.ButtonSelector,
	}
}
