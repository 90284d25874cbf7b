package dispatch

import (
	"fmt"
	"strings"
)

type Recipient struct {
	Number      string `json:"number"`
	Name        string `json:"name,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

type NormalizationError struct {
	Raw string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("No usable mobile number in %q", e.Raw)
}

var numberCleaner = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// Normalize converts raw into +<country><number> form.
//
// Numbers already starting with '+' pass through without digit validation.
// Numbers that already start with the country code only get the '+' prefix.
func Normalize(raw, countryCode string) (string, error) {
	clean := numberCleaner.Replace(strings.TrimSpace(raw))
	if clean == "" {
		return "", &NormalizationError{Raw: raw}
	}

	if strings.HasPrefix(clean, "+") {
		return clean, nil
	}

	code := strings.TrimPrefix(numberCleaner.Replace(strings.TrimSpace(countryCode)), "+")
	if code != "" && strings.HasPrefix(clean, code) {
		return "+" + clean, nil
	}

	return "+" + code + clean, nil
}

// ParseNumberList splits a comma separated list of numbers and keeps the
// entries that carry an explicit country code. Everything else is dropped.
func ParseNumberList(text string) []string {
	var numbers []string

	for _, part := range strings.Split(text, ",") {
		if number, ok := acceptBulkNumber(part); ok {
			numbers = append(numbers, number)
		}
	}

	return numbers
}

func acceptBulkNumber(raw string) (string, bool) {
	clean := numberCleaner.Replace(strings.TrimSpace(raw))
	if !strings.HasPrefix(clean, "+") || len(clean) == 1 {
		return "", false
	}

	return clean, true
}

// RecipientsFromNumbers wraps plain numbers into recipients without names.
func RecipientsFromNumbers(numbers []string) []Recipient {
	recipients := make([]Recipient, 0, len(numbers))
	for _, number := range numbers {
		recipients = append(recipients, Recipient{Number: number})
	}

	return recipients
}
