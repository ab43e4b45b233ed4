// Package provider defines the closed set of payment providers the platform
// can route to. All dispatch happens through this enum; call sites never
// branch on raw strings.
package provider

import "strings"

type Provider string

const (
	Stripe      Provider = "STRIPE"
	Pagarme     Provider = "PAGARME"
	Krxpay      Provider = "KRXPAY"
	Appmax      Provider = "APPMAX"
	OpenFinance Provider = "OPENFINANCE"
	Adyen       Provider = "ADYEN"
	PayPal      Provider = "PAYPAL"
	MercadoPago Provider = "MERCADOPAGO"
)

// All lists every provider the platform knows about, in a stable order.
func All() []Provider {
	return []Provider{Stripe, Pagarme, Krxpay, Appmax, OpenFinance, Adyen, PayPal, MercadoPago}
}

func (p Provider) Valid() bool {
	switch p {
	case Stripe, Pagarme, Krxpay, Appmax, OpenFinance, Adyen, PayPal, MercadoPago:
		return true
	}
	return false
}

func (p Provider) String() string { return string(p) }

// Parse normalizes a raw provider name. Unknown names return ok=false.
func Parse(raw string) (Provider, bool) {
	p := Provider(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", false
	}
	return p, true
}

// DefaultFor returns the hardcoded fallback provider for a checkout country.
// Brazilian traffic defaults to KRXPAY (Pagar.me white-label), everything
// else to Stripe.
func DefaultFor(country string) Provider {
	if strings.EqualFold(strings.TrimSpace(country), "BR") {
		return Krxpay
	}
	return Stripe
}

// Method is the payment method requested at checkout.
type Method string

const (
	MethodPix                  Method = "PIX"
	MethodCard                 Method = "CARD"
	MethodBoleto               Method = "BOLETO"
	MethodPayPal               Method = "PAYPAL"
	MethodOpenFinance          Method = "OPEN_FINANCE"
	MethodOpenFinanceAutomatic Method = "OPEN_FINANCE_AUTOMATIC"
)

func (m Method) Valid() bool {
	switch m {
	case MethodPix, MethodCard, MethodBoleto, MethodPayPal, MethodOpenFinance, MethodOpenFinanceAutomatic:
		return true
	}
	return false
}

func ParseMethod(raw string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(raw)))
	if !m.Valid() {
		return "", false
	}
	return m, true
}
