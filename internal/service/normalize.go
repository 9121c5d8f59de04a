package service

import (
	"regexp"
	"strings"
)

// Recurring misspellings seen in real questions; fixed before any routing
// keyword matching happens.
var typoFixes = map[string]string{
	"utilisation": "utilization",
	"utilizaton":  "utilization",
	"utlization":  "utilization",
	"utilzation":  "utilization",
}

// Asset tickers stored uppercase in the warehouse.
var knownTickers = map[string]struct{}{
	"USDC": {},
	"USDT": {},
	"DAI":  {},
	"WETH": {},
	"WBTC": {},
}

var reWord = regexp.MustCompile(`[A-Za-z]+`)

// Normalize collapses whitespace, fixes known typos, uppercases known asset
// tickers and maps ETH to WETH (the warehouse only tracks wrapped ether).
func Normalize(question string) string {
	q := strings.Join(strings.Fields(question), " ")
	return reWord.ReplaceAllStringFunc(q, func(word string) string {
		lower := strings.ToLower(word)
		if fixed, ok := typoFixes[lower]; ok {
			return fixed
		}
		upper := strings.ToUpper(word)
		if upper == "ETH" {
			return "WETH"
		}
		if _, ok := knownTickers[upper]; ok {
			return upper
		}
		return word
	})
}

// tickerIn returns the first known ticker mentioned in a normalized question.
func tickerIn(question string) (string, bool) {
	for _, word := range reWord.FindAllString(question, -1) {
		if _, ok := knownTickers[word]; ok {
			return word, true
		}
	}
	return "", false
}
