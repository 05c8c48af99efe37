package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"pricecollector/internal/logger"
)

const rule = "============================================================"

// WriteText writes the human readable summary.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\nCOLLECTION SUMMARY\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Run: %s (%s, mode %s, %s)\n", r.RunDate, r.RunID, r.Mode, r.Policy)
	fmt.Fprintf(&b, "Total assets in config: %d\n", r.Universe)
	fmt.Fprintf(&b, "Successfully collected: %d\n", len(r.Collected))
	fmt.Fprintf(&b, "Failed to collect: %d\n", len(r.Failed))
	fmt.Fprintf(&b, "New records saved: %d\n", r.Inserted)
	if r.Updated > 0 {
		fmt.Fprintf(&b, "Records updated: %d\n", r.Updated)
	}
	if r.Skipped > 0 {
		fmt.Fprintf(&b, "Already recorded: %d\n", r.Skipped)
	}

	if len(r.Collected) > 0 {
		fmt.Fprintf(&b, "\n[OK] Collected (%d):\n", len(r.Collected))
		for _, c := range r.Collected {
			fmt.Fprintf(&b, "     %s: %s (%s)\n", c.AssetCode, FormatPrice(c.Price, c.Currency), c.Provider)
		}
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, "\n[XX] Failed (%d):\n", len(r.Failed))
		for _, f := range r.Failed {
			fmt.Fprintf(&b, "     %s (%s): %s\n", f.AssetCode, f.AssetClass, f.Error)
		}
	}
	fmt.Fprintf(&b, "\n%s\n", rule)

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatPrice renders price in the conventions of currency. Unknown
// currencies fall back to the plain number and code.
func FormatPrice(price decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return price.String() + " " + currency
	}
	factor := decimal.New(1, int32(cur.Fraction))
	return money.New(price.Mul(factor).Round(0).IntPart(), cur.Code).Display()
}

// Log writes the summary as structured entries: one line for the run, one
// per failed asset.
func (r *Report) Log(log *logger.Logger) {
	log = log.With(logger.String("run_id", r.RunID))
	log.Info("run finished",
		logger.String("run_date", r.RunDate),
		logger.String("mode", r.Mode),
		logger.String("policy", string(r.Policy)),
		logger.Int("universe", r.Universe),
		logger.Int("collected", len(r.Collected)),
		logger.Int("failed", len(r.Failed)),
		logger.Int("inserted", r.Inserted),
		logger.Int("updated", r.Updated),
		logger.Int("skipped", r.Skipped),
		logger.Duration("duration", r.Duration()),
	)
	for _, f := range r.Failed {
		log.Warn("asset not collected",
			logger.String("asset", f.AssetCode),
			logger.String("class", string(f.AssetClass)),
			logger.String("kind", string(f.Kind)),
			logger.String("error", f.Error),
		)
	}
}
