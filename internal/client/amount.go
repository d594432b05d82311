package client

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"monobank/internal/ledger"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const DefaultLocale = "cs"

// AmountFormat renders whole-unit amounts with locale digit grouping and
// parses them back.
type AmountFormat struct {
	printer *message.Printer
}

// NewAmountFormat falls back to Czech for an unparseable locale.
func NewAmountFormat(locale string) AmountFormat {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Czech
	}
	return AmountFormat{printer: message.NewPrinter(tag)}
}

func (f AmountFormat) Format(amount int64) string {
	return f.printer.Sprintf("%d", amount)
}

// Parse accepts whole amounts with an optional leading minus sign. Digits
// may be grouped in threes by one separator character; anything else,
// including a decimal part, is rejected.
func (f AmountFormat) Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	invalid := fmt.Errorf("%w: %q", ledger.ErrInvalidAmount, s)

	body := s
	neg := false
	if r, size := utf8.DecodeRuneInString(body); r == '-' || r == '\u2212' {
		neg = true
		body = body[size:]
	}

	var digits strings.Builder
	sep := rune(-1)
	group, groups := 0, 0
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
			group++
		case isGroupSeparator(r):
			if group == 0 || (sep != -1 && r != sep) {
				return 0, invalid
			}
			if (groups == 0 && group > 3) || (groups > 0 && group != 3) {
				return 0, invalid
			}
			sep = r
			groups++
			group = 0
		default:
			return 0, invalid
		}
	}
	if group == 0 || (groups > 0 && group != 3) {
		return 0, invalid
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", invalid, err)
	}
	if neg {
		n = -n
	}
	return n, nil
}

func isGroupSeparator(r rune) bool {
	return unicode.IsSpace(r) || r == '.' || r == ',' || r == '\'' || r == '\u2019'
}
