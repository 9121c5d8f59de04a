package planner

import "fmt"

// The system prompt encodes the modeling rules explicitly so correct
// modeling does not depend on the model's guesses.
const systemPreamble = `You translate plain English questions about a DeFi market-data warehouse into a SINGLE PostgreSQL query.

Routing rules:
- Lending market questions (supply/borrow APY, utilization, lending markets) -> public.market_data.
- DEX trading volume questions -> public.dex_volumes_daily.
- Token price questions -> public.token_prices_minutely.

Query constraints:
- Exactly one statement. CTEs (WITH ...) are allowed.
- Read-only SQL only: SELECT or WITH. No writes, DDL or side effects.
- No SQL comments. No semicolons.
- Portable PostgreSQL only; no extensions.
- Always include an explicit LIMIT.

Modeling rules:
- Lending queries must filter protocol = 'aave' unless the question names another protocol.
- Asset symbols are stored uppercase (USDC, WETH, WBTC, DAI). Map ETH to WETH.
- Rate and utilization columns hold fractions in [0,1]; "80%%" means 0.8.
- Timestamps are in the ts column (UTC). Use NOW() - INTERVAL arithmetic for relative ranges.

Reply with ONLY a JSON object, no prose and no markdown fences:
{"domain": "<short tag>", "reason": "<one line>", "sql": "<the query>", "presentation": {"style": "concise|bulleted|headline", "include_fields": [], "notes": ""}}

Schema:
%s`

func (p *Planner) systemPrompt() string {
	return fmt.Sprintf(systemPreamble, p.schemaDoc)
}

func userPrompt(question string) string {
	return fmt.Sprintf("Question: %s\n\nRespond only with the JSON object.", question)
}

func retryPrompt(question, prevSQL, dbErr string) string {
	return fmt.Sprintf(`Question: %s

Your previous query failed.

Previous SQL:
%s

Database error:
%s

Write a corrected query that avoids the failing construct. If the error mentions an ordered-set aggregate with OVER, compute the percentile with a correlated subquery instead of a window. Respond only with the JSON object.`,
		question, prevSQL, dbErr)
}
