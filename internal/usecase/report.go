package usecase

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shelfcheck/internal/domain"
)

const reportNameWidth = 44

// Dedupe keeps the first verdict per product. Products are keyed by the
// catalog name when matched and the raw name otherwise; blank and
// placeholder names are dropped.
func Dedupe(verdicts []domain.Verdict) []domain.Verdict {
	seen := make(map[string]struct{}, len(verdicts))
	out := make([]domain.Verdict, 0, len(verdicts))
	for _, v := range verdicts {
		key := strings.ToUpper(strings.TrimSpace(displayName(v)))
		if key == "" || key == "NULL" || key == "NONE" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// FormatReport renders verdicts as a fixed-width table followed by a
// summary line. Both are computed on the deduplicated list.
func FormatReport(storeID string, verdicts []domain.Verdict) string {
	if len(verdicts) == 0 {
		return "⚠️ No products found in the image."
	}
	verdicts = Dedupe(verdicts)
	if len(verdicts) == 0 {
		return "⚠️ No valid products found in the image."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Validation results - store %s\n\n", storeID)
	fmt.Fprintf(&b, "%-4s %-45s %12s %15s %11s\n", "#", "PRODUCT", "PHOTO PRICE", "SYSTEM PRICE", "CHECK")
	b.WriteString(strings.Repeat("-", 92))
	b.WriteByte('\n')

	for i, v := range verdicts {
		name := []rune(displayName(v))
		if len(name) > reportNameWidth {
			name = name[:reportNameWidth]
		}
		var system *decimal.Decimal
		if v.Match.MatchedEntry != nil {
			system = &v.Match.MatchedEntry.Price
		}
		fmt.Fprintf(&b, "%-4d %-45s %12s %15s %11s\n",
			i+1, string(name), formatPrice(v.Match.Item.ObservedPrice), formatPrice(system), checkMark(v.PriceStatus))
	}

	s := domain.Summarize(verdicts)
	fmt.Fprintf(&b, "\nSummary: ✅ %d correct | ❌ %d price differences | ⚠️ %d not found | Total: %d products",
		s.MatchedCount, s.MismatchCount, s.UnknownCount, s.Total)
	return b.String()
}

func displayName(v domain.Verdict) string {
	if v.Match.MatchedEntry != nil && v.Match.MatchedEntry.CanonicalName != "" {
		return v.Match.MatchedEntry.CanonicalName
	}
	return v.Match.Item.RawName
}

func formatPrice(p *decimal.Decimal) string {
	if p == nil {
		return "N/A"
	}
	return "$" + p.StringFixed(2)
}

func checkMark(status domain.PriceStatus) string {
	switch status {
	case domain.PriceOK:
		return "✅"
	case domain.PriceMismatch:
		return "❌"
	default:
		return "⚠️"
	}
}
