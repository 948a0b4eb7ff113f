// Package format normalises customer contact fields before they are persisted.
package format

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	nonDigit       = regexp.MustCompile(`\D`)
	nonNameRune    = regexp.MustCompile(`[^а-яА-ЯёЁa-zA-Z\s]`)
	nonCityRune    = regexp.MustCompile(`[^а-яА-ЯёЁa-zA-Z\s\-]`)
	citySeparators = regexp.MustCompile(`[\s\-]+`)
)

const phoneDigits = 10

// Phone reduces input to the ten national digits of a +7 number and renders them
// as "+7 (XXX) XX XX XXX". Partial input is rendered progressively.
func Phone(value string) (digits, formatted string) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "+")
	digits = nonDigit.ReplaceAllString(value, "")

	if strings.HasPrefix(digits, "7") || strings.HasPrefix(digits, "8") {
		digits = digits[1:]
	}
	if len(digits) > phoneDigits {
		digits = digits[:phoneDigits]
	}
	if digits == "" {
		return "", ""
	}

	var b strings.Builder
	b.WriteString("+7 (")
	b.WriteString(digits[:min(3, len(digits))])
	if len(digits) > 3 {
		b.WriteString(") ")
		b.WriteString(digits[3:min(5, len(digits))])
	}
	if len(digits) > 5 {
		b.WriteString(" ")
		b.WriteString(digits[5:min(7, len(digits))])
	}
	if len(digits) > 7 {
		b.WriteString(" ")
		b.WriteString(digits[7:])
	}
	return digits, b.String()
}

// Name keeps letters and spaces and capitalises every word.
func Name(value string) string {
	return titleWords(strings.Fields(nonNameRune.ReplaceAllString(value, "")))
}

// City keeps letters, spaces and hyphens, splits on either and capitalises every word.
func City(value string) string {
	cleaned := strings.TrimSpace(nonCityRune.ReplaceAllString(value, ""))
	var words []string
	for _, w := range citySeparators.Split(cleaned, -1) {
		if w != "" {
			words = append(words, w)
		}
	}
	return titleWords(words)
}

func titleWords(words []string) string {
	for i, w := range words {
		w = strings.ToLower(w)
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
