// Package payment orchestrates payment widget sessions for the
// contract flow.
//
// This file defines the widget abstraction. The real widget is an
// embedded third-party component; the flow only depends on this narrow
// surface so tests and headless runs can substitute their own.
package payment

// InstrumentDetails describes the payment instrument the customer
// selected in the widget.
type InstrumentDetails struct {
	Type string `json:"type"`
}

// Config is passed to the widget on every mount.
type Config struct {
	UserSessionToken string
	Container        string
	CountryCode      string
	Locale           string
	Environment      string
	FeatureFlags     map[string]bool

	// OnSuccess receives the payment request token once the customer
	// completes the widget. Instrument details may be nil.
	OnSuccess func(paymentRequestToken string, instrument *InstrumentDetails)
	// OnError receives widget-level failures.
	OnError func(err error)
}

// Handle is a mounted widget instance.
type Handle interface {
	Destroy() error
}

// Widget mounts payment widget instances.
type Widget interface {
	Init(cfg Config) (Handle, error)
}
