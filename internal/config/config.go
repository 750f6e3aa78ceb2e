package config

type Config interface {
	EnvConfig
	ProviderConfig
	TransportConfig
	StoreConfig
	SpendingConfig
	ServerConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Provider
	Transport
	Store
	Spending
	Server
}

func New() Config {
	return mainConfig{}
}
