package sites

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/use-agent/paywatch/models"
	"github.com/ysmood/gson"
)

// FilterMode says how a method's filter key is checked against the site's
// method lists.
type FilterMode int

const (
	// FilterDeny drops methods whose key is in invalid_methods.
	FilterDeny FilterMode = iota
	// FilterAllow keeps only methods whose key is in valid_methods.
	FilterAllow
)

// Rules maps one site's response shape onto payment methods. Paths are gson
// sections: strings index objects, ints index arrays.
type Rules struct {
	// Methods locates the method list in the response body.
	Methods []any
	// FilterKey locates the value compared against the method lists.
	FilterKey []any
	Filter    FilterMode
	// GroupID locates a numeric group id; methods in DenyGroups are dropped.
	// A method without a group id is never dropped by group.
	GroupID    []any
	DenyGroups []int64
	// Name lists candidate paths for the display name; the first non-empty
	// string wins.
	Name [][]any
	// MinAmount locates the minimum deposit, a number or a decimal string.
	MinAmount []any
}

// Normalize applies r to body. valid and invalid are the site's configured
// method lists.
func Normalize(body gson.JSON, r Rules, valid, invalid []string) ([]models.PaymentMethod, error) {
	list, ok := body.Gets(r.Methods...)
	if !ok {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, fmt.Sprintf("response has no %s", pathString(r.Methods)), nil)
	}
	items, ok := list.Val().([]any)
	if !ok {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, fmt.Sprintf("%s is not a list", pathString(r.Methods)), nil)
	}

	methods := make([]models.PaymentMethod, 0, len(items))
	for i, raw := range items {
		item := gson.New(raw)

		if r.deniedGroup(item) {
			continue
		}
		key := stringAt(item, r.FilterKey)
		switch r.Filter {
		case FilterAllow:
			if !slices.Contains(valid, key) {
				continue
			}
		case FilterDeny:
			if slices.Contains(invalid, key) {
				continue
			}
		}

		name := r.name(item)
		if name == "" {
			return nil, models.NewScrapeError(models.ErrCodeExtraction, fmt.Sprintf("method %d (%s) has no name", i, key), nil)
		}
		amount, ok := item.Gets(r.MinAmount...)
		if !ok {
			return nil, models.NewScrapeError(models.ErrCodeExtraction, fmt.Sprintf("method %q has no %s", name, pathString(r.MinAmount)), nil)
		}
		minAmount, err := TruncateAmount(amount.Val())
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeExtraction, fmt.Sprintf("method %q: bad minimum amount", name), err)
		}

		methods = append(methods, models.PaymentMethod{
			Name:      models.Capitalize(name),
			MinAmount: minAmount,
		})
	}
	return methods, nil
}

func (r Rules) deniedGroup(item gson.JSON) bool {
	if len(r.GroupID) == 0 || len(r.DenyGroups) == 0 {
		return false
	}
	v, ok := item.Gets(r.GroupID...)
	if !ok {
		return false
	}
	id, err := TruncateAmount(v.Val())
	if err != nil {
		return false
	}
	return slices.Contains(r.DenyGroups, id)
}

func (r Rules) name(item gson.JSON) string {
	for _, path := range r.Name {
		if s := strings.TrimSpace(stringAt(item, path)); s != "" {
			return s
		}
	}
	return ""
}

// TruncateAmount converts a JSON number or decimal string to an integer by
// dropping any fractional part: "100.50" and 100.5 both become 100.
func TruncateAmount(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("amount %v is not finite", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return TruncateAmount(n.String())
	case string:
		s := strings.TrimSpace(n)
		if whole, _, found := strings.Cut(s, "."); found {
			s = whole
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("amount %q is not numeric", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("amount has unsupported type %T", v)
	}
}

func stringAt(item gson.JSON, path []any) string {
	if len(path) == 0 {
		return ""
	}
	v, ok := item.Gets(path...)
	if !ok {
		return ""
	}
	s, _ := v.Val().(string)
	return s
}

func pathString(path []any) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, ".")
}
