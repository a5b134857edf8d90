// Package variable validates, formats and substitutes the typed fields
// attached to a document.
package variable

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"time"
)

type FieldType string

const (
	TypeText   FieldType = "text"
	TypeNumber FieldType = "number"
	TypeDate   FieldType = "date"
	TypeEmail  FieldType = "email"
	TypeSelect FieldType = "select"
)

const DateLayout = "2006-01-02"

func (t FieldType) Valid() bool {
	switch t {
	case TypeText, TypeNumber, TypeDate, TypeEmail, TypeSelect:
		return true
	}
	return false
}

// Summary tags consumed by downstream document summarization.
var summaryFields = map[string]bool{
	"counterparty":      true,
	"object":            true,
	"value":             true,
	"term":              true,
	"subscription_date": true,
	"start_date":        true,
	"end_date":          true,
}

func ValidSummaryField(tag string) bool {
	return tag == "" || summaryFields[tag]
}

var (
	ErrUnknownType     = errors.New("unknown field type")
	ErrEmptyOptions    = errors.New("select field requires a non-empty option list")
	ErrNotInOptions    = errors.New("value is not one of the allowed options")
	ErrInvalidDate     = errors.New("date must be formatted as YYYY-MM-DD")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrInvalidCurrency = errors.New("currency must be a three-letter code")
)

var currencyRE = regexp.MustCompile(`^[A-Z]{3}$`)

// Validate checks value against the grammar of fieldType. An empty value is
// accepted for every type; a select field must still declare its options.
func Validate(fieldType FieldType, value string, options []string) error {
	if !fieldType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, fieldType)
	}
	if fieldType == TypeSelect && len(options) == 0 {
		return ErrEmptyOptions
	}
	if value == "" {
		return nil
	}

	switch fieldType {
	case TypeNumber:
		if _, err := ParseNumber(value); err != nil {
			return err
		}
	case TypeDate:
		if _, err := time.Parse(DateLayout, value); err != nil {
			return ErrInvalidDate
		}
	case TypeEmail:
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value {
			return ErrInvalidEmail
		}
	case TypeSelect:
		for _, opt := range options {
			if opt == value {
				return nil
			}
		}
		return ErrNotInOptions
	}
	return nil
}

// ValidateCurrency accepts an empty code or an upper-case ISO-4217 style code.
func ValidateCurrency(code string) error {
	if code == "" || currencyRE.MatchString(code) {
		return nil
	}
	return ErrInvalidCurrency
}

// Render formats value for display. Numbers are grouped with two decimals and
// prefixed by their currency label; other types pass through unchanged.
func Render(fieldType FieldType, value, currency string) string {
	if value == "" {
		return ""
	}
	if fieldType != TypeNumber {
		return value
	}
	n, err := ParseNumber(value)
	if err != nil {
		return value
	}
	return FormatNumber(n, currency)
}

var placeholderRE = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Substitute replaces {{key}} placeholders with raw values. Placeholders with
// no matching key are left in place.
func Substitute(template string, values map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(template, func(m string) string {
		match := placeholderRE.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		if v, ok := values[match[1]]; ok {
			return v
		}
		return m
	})
}

// Placeholders lists the distinct keys referenced by template in order of
// first appearance.
func Placeholders(template string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range placeholderRE.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}
