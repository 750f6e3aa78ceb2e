package config

import "time"

type TransportConfig interface {
	GetTransportKind() string
	GetCallbackTimeout() time.Duration
}

type Transport struct{}

var _ TransportConfig = Transport{}

// GetTransportKind names the default adapter: system-browser, navigation-intercept or
// message-relay.
func (Transport) GetTransportKind() string {
	return GetEnv("IDENTITY_TRANSPORT", "system-browser")
}

func (Transport) GetCallbackTimeout() time.Duration {
	return GetEnvDuration("IDENTITY_CALLBACK_TIMEOUT", 60*time.Second)
}
