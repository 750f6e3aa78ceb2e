package config

type ProviderConfig interface {
	GetIdentityHost() string
	GetRelayURL() string
	GetAppScheme() string
	GetAccessLevel() int
	GetTestnet() bool
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetIdentityHost() string {
	return GetEnv("IDENTITY_HOST", "identity.deso.org")
}

// GetRelayURL is the bridge page the provider returns to. Empty means the provider calls the
// app deep link directly.
func (Provider) GetRelayURL() string {
	return GetEnv("IDENTITY_RELAY_URL", "")
}

func (Provider) GetAppScheme() string {
	return GetEnv("IDENTITY_APP_SCHEME", "desomobile")
}

// GetAccessLevel is used for both the log-in and derive requests.
func (Provider) GetAccessLevel() int {
	return GetEnvInt("IDENTITY_ACCESS_LEVEL", 2)
}

func (Provider) GetTestnet() bool {
	return GetEnvBool("IDENTITY_TESTNET", false)
}
