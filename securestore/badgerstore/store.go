package badgerstore

import (
	"context"
	"os"

	"github.com/dgraph-io/badger/v3"
	"github.com/jrsteele09/go-identity-bridge/securestore"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// Store keeps credentials in an on-device Badger database.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the database in dir. A leading "~" is expanded.
func Open(dir string) (*Store, error) {
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, errors.Wrap(err, "[badgerstore.Open] expand data dir")
	}
	if err := os.MkdirAll(expanded, 0o700); err != nil {
		return nil, errors.Wrap(err, "[badgerstore.Open] create data dir")
	}
	return open(badger.DefaultOptions(expanded))
}

// OpenInMemory opens a database that is never written to disk.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "[badgerstore.open] open database")
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	if err := securestore.ValidateKey(key); err != nil {
		return "", false, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "[Store.Get] %s", key)
	}
	return string(value), true, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	if err := securestore.ValidateKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	return errors.Wrapf(err, "[Store.Set] %s", key)
}

func (s *Store) Remove(_ context.Context, key string) error {
	if err := securestore.ValidateKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return errors.Wrapf(err, "[Store.Remove] %s", key)
}

func (s *Store) Close() error {
	return s.db.Close()
}
