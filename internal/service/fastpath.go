package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Fast paths answer common "latest" questions with hand-written SQL, skipping
// the planner and rewriter entirely. The statements are written to pass the
// guard trivially and still go through it and the executor.

type fastPath struct {
	sql    string
	answer func(rows []map[string]any) string
}

var (
	reLatest      = regexp.MustCompile(`(?i)\b(latest|most recent|current)\b`)
	reUtilization = regexp.MustCompile(`(?i)\butilization\b`)
	rePrice       = regexp.MustCompile(`(?i)\bprice\b`)
	reDexVolume   = regexp.MustCompile(`(?i)\b(dex\s+)?(trading\s+)?volume\b`)
)

func matchFastPath(question string) (*fastPath, bool) {
	if !reLatest.MatchString(question) {
		return nil, false
	}

	switch {
	case reUtilization.MatchString(question):
		symbol, ok := tickerIn(question)
		if !ok {
			return nil, false
		}
		return &fastPath{
			sql: fmt.Sprintf("SELECT ts, utilization, ROUND(utilization*100,2) AS utilization_pct "+
				"FROM public.market_data WHERE protocol='aave' AND symbol='%s' ORDER BY ts DESC LIMIT 1", symbol),
			answer: func(rows []map[string]any) string {
				if pct, ok := rowFloat(rows, "utilization_pct"); ok {
					return fmt.Sprintf("Latest %s utilization is %.2f%%.", symbol, pct)
				}
				return fmt.Sprintf("No utilization data found for %s.", symbol)
			},
		}, true

	case rePrice.MatchString(question):
		symbol, ok := tickerIn(question)
		if !ok {
			return nil, false
		}
		return &fastPath{
			sql: fmt.Sprintf("SELECT ts, symbol, price FROM public.token_prices_minutely "+
				"WHERE symbol='%s' ORDER BY ts DESC LIMIT 1", symbol),
			answer: func(rows []map[string]any) string {
				if price, ok := rowFloat(rows, "price"); ok {
					return fmt.Sprintf("Latest %s price is $%.2f.", symbol, price)
				}
				return fmt.Sprintf("No price data found for %s.", symbol)
			},
		}, true

	case reDexVolume.MatchString(question):
		return &fastPath{
			sql: "SELECT day, SUM(volume_usd) AS volume_usd FROM public.dex_volumes_daily " +
				"GROUP BY day ORDER BY day DESC LIMIT 1",
			answer: func(rows []map[string]any) string {
				if vol, ok := rowFloat(rows, "volume_usd"); ok {
					return fmt.Sprintf("Latest daily DEX volume is $%.0f.", vol)
				}
				return "No DEX volume data found."
			},
		}, true
	}
	return nil, false
}

// rowFloat pulls a numeric column from the first row. lib/pq hands numerics
// back as strings, so both forms are accepted.
func rowFloat(rows []map[string]any, col string) (float64, bool) {
	if len(rows) == 0 {
		return 0, false
	}
	switch v := rows[0][col].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
