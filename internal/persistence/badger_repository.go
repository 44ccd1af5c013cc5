package persistence

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/kristal2012/flowsniper/internal/models"
)

// badgerRepository is the BadgerDB implementation of the TokenRepository.
type badgerRepository struct {
	db     *badger.DB
	prefix string
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (TokenRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// For this use case, we can disable Badger's own logging to keep our app's logs clean.
	// Errors will still be returned from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:     db,
		prefix: "token:",
	}, nil
}

func (r *badgerRepository) key(symbol string) []byte {
	return []byte(r.prefix + strings.ToUpper(symbol))
}

// SaveToken marshals the descriptor into JSON and saves it under its symbol key.
func (r *badgerRepository) SaveToken(token *models.TokenDescriptor) error {
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key(token.Symbol), data)
	})
}

// LoadToken loads a token descriptor from storage.
// If the key is not found, it returns (nil, nil) to indicate no descriptor is present.
func (r *badgerRepository) LoadToken(symbol string) (*models.TokenDescriptor, error) {
	var token models.TokenDescriptor

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key(symbol))
		if err != nil {
			// This is the correct way to handle key not found.
			// We return the specific error to check it outside the transaction.
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("token value is empty in database")
			}
			return json.Unmarshal(val, &token)
		})
	})

	// After the transaction, check for the specific "key not found" error.
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // This is the expected "not cached" case.
	}

	if err != nil {
		return nil, err
	}

	return &token, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
