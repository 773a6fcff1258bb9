package intent

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountShorthand = regexp.MustCompile(`\$([\d,]+)k\b`)
	borrowerPhrase  = regexp.MustCompile(`\bfor\s+([a-z0-9\s]+)`)
	recipientPhrase = regexp.MustCompile(`\bto\s+([a-z0-9_\s]+)`)
)

// Normalize derives the core intent of a log. Values stated in the prompt
// override the tool call's values; everything else is normalized from the
// tool call parameters. Only keys present in the parameters are produced.
func Normalize(log ExecutionLog) CoreIntent {
	stated := ExtractFromPrompt(log.Prompt, log.ToolCall)

	normalized := make(map[string]any, len(log.Params))
	for key, value := range log.Params {
		if v, ok := stated[key]; ok {
			normalized[key] = v
			continue
		}
		normalized[key] = NormalizeValue(value)
	}

	return CoreIntent{Action: log.ToolCall, NormalizedParams: normalized}
}

// NormalizeValue rounds numbers to two decimals and lower-cases and trims
// strings. Other values pass through unchanged.
func NormalizeValue(v any) any {
	if n, ok := Number(v); ok {
		return roundCents(n)
	}
	if s, ok := v.(string); ok {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return v
}

// roundCents rounds half up, matching how the agent runtime rounds amounts.
func roundCents(n float64) float64 {
	return math.Floor(n*100+0.5) / 100
}

// ExtractFromPrompt pulls explicitly stated parameter values out of a prompt.
// A missing match is not an error; the key is simply absent from the result.
func ExtractFromPrompt(prompt, action string) map[string]any {
	values := make(map[string]any)
	lower := strings.ToLower(prompt)

	if m := amountShorthand.FindStringSubmatch(lower); m != nil {
		digits := strings.ReplaceAll(m[1], ",", "")
		// float64 so large shorthands keep their magnitude instead of wrapping
		if n, err := strconv.ParseFloat(digits, 64); err == nil {
			values["amount"] = n * 1000
		}
	}

	switch action {
	case "approve_loan":
		if m := borrowerPhrase.FindStringSubmatch(lower); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				values["borrower"] = name
			}
		}
	case "transfer_funds":
		if m := recipientPhrase.FindStringSubmatch(lower); m != nil {
			if name := strings.TrimSpace(m[1]); name != "" {
				values["recipient"] = name
			}
		}
	}

	return values
}
