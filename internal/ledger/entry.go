package ledger

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ValidationError reports user input the ledger refuses to store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseEntry reads "<amount> [description]". The text is split on the first
// run of whitespace; the first part must be a signed decimal number and the
// rest, if any, is the description.
func ParseEntry(text string) (decimal.Decimal, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, "", &ValidationError{Field: "amount", Reason: "missing"}
	}

	amountText, description := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		amountText = text[:i]
		description = strings.TrimSpace(text[i:])
	}

	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return decimal.Zero, "", &ValidationError{Field: "amount", Reason: fmt.Sprintf("%q is not a number", amountText)}
	}
	return amount, description, nil
}
