package model

// Notifier delivers out-of-band alerts (mail, webhooks). Send must be safe to
// call from the pipeline; failures are reported, never fatal.
type Notifier interface {
	Send(subject, body string) error
}
