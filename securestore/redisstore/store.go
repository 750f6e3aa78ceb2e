package redisstore

import (
	"context"
	"time"

	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const DefaultPrefix = "identity-bridge:"

// Store keeps values in Redis under a key prefix. Intended for shared development hosts;
// wrap it in securestore.Sealed so nothing sensitive is stored in the clear.
type Store struct {
	client *goredis.Client
	prefix string
}

// Connect dials addr and verifies the connection with a PING.
func Connect(addr, password string) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "[redisstore.Connect] ping")
	}
	return New(client, DefaultPrefix), nil
}

func New(client *goredis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := securestore.ValidateKey(key); err != nil {
		return "", false, err
	}
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "[Store.Get] %s", key)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := securestore.ValidateKey(key); err != nil {
		return err
	}
	return errors.Wrapf(s.client.Set(ctx, s.prefix+key, value, 0).Err(), "[Store.Set] %s", key)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := securestore.ValidateKey(key); err != nil {
		return err
	}
	return errors.Wrapf(s.client.Del(ctx, s.prefix+key).Err(), "[Store.Remove] %s", key)
}

func (s *Store) Close() error {
	return s.client.Close()
}
