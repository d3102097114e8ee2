package services

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// PaymentPrompt renders the chat message sent alongside an STK push. The
// amount is grouped for the locale, e.g. "1,500.00" for English.
func PaymentPrompt(locale language.Tag, amount decimal.Decimal, reason string) string {
	if locale == language.Und {
		locale = language.English
	}
	p := message.NewPrinter(locale)
	return p.Sprintf("💰 Payment Request\n\nAmount: KES %.2f\nReason: %s\n\nPlease complete the payment on your phone.",
		amount.InexactFloat64(), reason)
}
