package cost

import (
	"regexp"
	"strconv"
)

// TokenUsage represents input and output token counts.
type TokenUsage struct {
	Input  int
	Output int
}

var (
	// Some self-hosted backends report tokens inline in this format
	tokenRe = regexp.MustCompile(`Tokens: (\d+) input, (\d+) output`)
	// Alternatively, some models report separately
	inputRe  = regexp.MustCompile(`Input tokens: (\d+)`)
	outputRe = regexp.MustCompile(`Output tokens: (\d+)`)
)

// ExtractTokenUsage is the fallback path for a local backend response that
// didn't carry structured usage counts: try to parse them out of the raw
// text, then estimate from prompt/output length if that also fails.
func ExtractTokenUsage(output string, prompt string) TokenUsage {
	usage := TokenUsage{}

	// Try parsing from output
	if m := tokenRe.FindStringSubmatch(output); len(m) == 3 {
		usage.Input, _ = strconv.Atoi(m[1])
		usage.Output, _ = strconv.Atoi(m[2])
	} else {
		if m := inputRe.FindStringSubmatch(output); len(m) == 2 {
			usage.Input, _ = strconv.Atoi(m[1])
		}
		if m := outputRe.FindStringSubmatch(output); len(m) == 2 {
			usage.Output, _ = strconv.Atoi(m[1])
		}
	}

	// Fallback estimation if still 0
	if usage.Input == 0 {
		usage.Input = estimateTokens(prompt)
	}
	if usage.Output == 0 {
		usage.Output = estimateTokens(output)
	}

	return usage
}

// estimateTokens provides a rough estimate of token count (approx 4 chars per token).
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Rough heuristic for English/Code: 1 token per 4 characters
	tokens := len(text) / 4
	if tokens == 0 && len(text) > 0 {
		return 1
	}
	return tokens
}

// CalculateCost calculates total cost in USD based on token counts and pricing per million tokens.
func CalculateCost(usage TokenUsage, inputPriceMtok, outputPriceMtok float64) float64 {
	inputCost := (float64(usage.Input) / 1000000.0) * inputPriceMtok
	outputCost := (float64(usage.Output) / 1000000.0) * outputPriceMtok
	return inputCost + outputCost
}
