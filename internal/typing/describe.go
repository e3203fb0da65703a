package typing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Describe renders the typing indicator text for the given display names.
func Describe(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return printer.Sprintf("%s is typing", names[0])
	case 2:
		return printer.Sprintf("%s and %s are typing", names[0], names[1])
	default:
		return printer.Sprintf("%d people are typing", len(names))
	}
}
