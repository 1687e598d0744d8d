// Package sectors maps instruments to industry sectors.
package sectors

import "strings"

// Unclassified is reported for symbols the map does not know.
const Unclassified = "Unclassified"

type Map interface {
	SectorOf(symbol string) string
}

// Static is a fixed symbol to sector table.
type Static map[string]string

func (s Static) SectorOf(symbol string) string {
	if sector, ok := s[strings.ToUpper(symbol)]; ok {
		return sector
	}
	return Unclassified
}

// Default covers the instruments the simulated feed carries.
func Default() Static {
	return Static{
		"AAPL":  "Technology",
		"MSFT":  "Technology",
		"GOOGL": "Communication Services",
		"META":  "Communication Services",
		"AMZN":  "Consumer Discretionary",
		"TSLA":  "Consumer Discretionary",
		"NVDA":  "Technology",
		"JPM":   "Financials",
		"BAC":   "Financials",
		"GS":    "Financials",
		"XOM":   "Energy",
		"CVX":   "Energy",
		"JNJ":   "Health Care",
		"PFE":   "Health Care",
		"UNH":   "Health Care",
		"KO":    "Consumer Staples",
		"PG":    "Consumer Staples",
		"WMT":   "Consumer Staples",
		"SPY":   "Index",
	}
}
