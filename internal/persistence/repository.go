package persistence

import "github.com/kristal2012/flowsniper/internal/models"

// TokenRepository defines the interface for token metadata persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type TokenRepository interface {
	// SaveToken persists a token descriptor keyed by its upper-case symbol.
	SaveToken(token *models.TokenDescriptor) error

	// LoadToken loads a token descriptor by symbol.
	// If no descriptor is found, it should return (nil, nil).
	LoadToken(symbol string) (*models.TokenDescriptor, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
