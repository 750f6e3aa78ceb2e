package config

type StoreConfig interface {
	GetStoreBackend() string
	GetStorePassphrase() string
	GetRedisAddr() string
	GetRedisPassword() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetStoreBackend is one of memory, badger or redis.
func (Store) GetStoreBackend() string {
	return GetEnv("STORE_BACKEND", "memory")
}

// GetStorePassphrase seals stored values when set.
func (Store) GetStorePassphrase() string {
	return GetEnv("STORE_PASSPHRASE", "")
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}
