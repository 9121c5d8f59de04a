package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const summarySystem = `You write a 1-2 sentence natural-language answer to a question about DeFi market data, based strictly on SQL result rows. Refer only to numbers present in the rows. Do not invent values, do not mention SQL or the database. Plain text only.`

const maxSummaryRows = 50

// summarize asks the LLM for a short answer; on any failure it degrades to a
// canned row count rather than failing the request.
func (s *Service) summarize(ctx context.Context, question, sqlText string, rows []map[string]any) string {
	clipped := rows
	if len(clipped) > maxSummaryRows {
		clipped = clipped[:maxSummaryRows]
	}
	payload, err := json.Marshal(clipped)
	if err != nil {
		return cannedAnswer(len(rows))
	}

	user := fmt.Sprintf("Question: %s\n\nSQL executed:\n%s\n\nRows (JSON, %d of %d shown):\n%s",
		question, sqlText, len(clipped), len(rows), payload)

	out, err := s.summary.Complete(ctx, summarySystem, user)
	if err != nil || strings.TrimSpace(out) == "" {
		return cannedAnswer(len(rows))
	}
	return strings.TrimSpace(out)
}

func cannedAnswer(n int) string {
	return fmt.Sprintf("Returned %d row(s).", n)
}
