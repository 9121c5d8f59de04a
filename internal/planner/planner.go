// Package planner turns a normalized question into a candidate SQL plan via
// one LLM call, and regenerates the plan once when execution fails with a
// recoverable error class. The model's SQL is never trusted; everything it
// returns goes through the guard downstream.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/marketlens/marketlens/internal/llm"
)

// Plan is the structured LLM reply. Only SQL is required; everything else is
// advisory presentation metadata.
type Plan struct {
	Domain       string       `json:"domain"`
	Reason       string       `json:"reason"`
	SQL          string       `json:"sql"`
	Presentation Presentation `json:"presentation"`
}

type Presentation struct {
	Style         string   `json:"style"` // concise, bulleted or headline
	IncludeFields []string `json:"include_fields"`
	Notes         string   `json:"notes"`
}

// ParseError carries the raw model output that could not be parsed into a
// plan, for logs and error responses.
type ParseError struct {
	Raw string
}

func (e *ParseError) Error() string {
	return "planner reply is not a usable JSON plan"
}

type Planner struct {
	chat      llm.ChatCompletion
	schemaDoc string
}

func New(chat llm.ChatCompletion, schemaDoc string) *Planner {
	return &Planner{chat: chat, schemaDoc: schemaDoc}
}

// Plan asks the model for a candidate statement answering question.
func (p *Planner) Plan(ctx context.Context, question string) (*Plan, error) {
	raw, err := p.chat.Complete(ctx, p.systemPrompt(), userPrompt(question))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return parsePlan(raw)
}

// Replan asks the model once more after a recoverable execution failure,
// carrying the failing SQL and the database error verbatim.
func (p *Planner) Replan(ctx context.Context, question, prevSQL, dbErr string) (*Plan, error) {
	raw, err := p.chat.Complete(ctx, p.systemPrompt(), retryPrompt(question, prevSQL, dbErr))
	if err != nil {
		return nil, fmt.Errorf("replan: %w", err)
	}
	return parsePlan(raw)
}

var recoverablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)syntax error`),
	regexp.MustCompile(`(?i)OVER is not supported for ordered-set aggregate`),
	regexp.MustCompile(`(?i)percentile_(cont|disc).*OVER`),
}

// Recoverable reports whether an execution error message belongs to the
// small class that warrants one planner retry. Anything else is fatal.
func Recoverable(message string) bool {
	for _, re := range recoverablePatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// parsePlan requires a JSON object, accepting either a bare {"sql": ...} or
// the richer shape. When the reply is not valid JSON it makes one recovery
// attempt on the first balanced {...} substring.
func parsePlan(raw string) (*Plan, error) {
	candidate := stripFences(raw)

	var plan Plan
	if err := json.Unmarshal([]byte(candidate), &plan); err != nil {
		inner, ok := firstJSONObject(candidate)
		if !ok {
			return nil, &ParseError{Raw: raw}
		}
		if err := json.Unmarshal([]byte(inner), &plan); err != nil {
			return nil, &ParseError{Raw: raw}
		}
	}
	plan.SQL = strings.TrimSpace(plan.SQL)
	if plan.SQL == "" {
		return nil, &ParseError{Raw: raw}
	}
	return &plan, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// firstJSONObject returns the first balanced {...} substring, honoring JSON
// string escapes so braces inside the sql field do not confuse the scan.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
