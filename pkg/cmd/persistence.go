// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unifyos/unify/pkg/credentials"
	credpg "github.com/unifyos/unify/pkg/credentials/postgresql"
	"github.com/unifyos/unify/pkg/persistence"
	"github.com/unifyos/unify/pkg/persistence/memory"
	"github.com/unifyos/unify/pkg/persistence/postgresql"
)

var (
	ErrUnsupportedDatabase = errors.New("unsupported database url")
	ErrMissingKey          = errors.New("credentials key is required with a postgres database")
)

var supportedPersistenceProviders = []string{"postgres", "postgresql", "memory"}

// Stores bundles the execution store with the credential store that shares
// its database.
type Stores struct {
	Persistence persistence.Persistence
	Credentials credentials.Store
	Resolver    credentials.IdentityResolver
}

// NewStores opens the store named by databaseURL: postgres:// or
// postgresql:// for PostgreSQL, memory:// for an in-process store. The
// memory credential store is returned so callers can seed it.
func NewStores(ctx context.Context, logger *slog.Logger, databaseURL, credentialsKey string) (*Stores, *credentials.MemoryStore, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, nil, err
	}

	if provider == "memory" {
		tokens := credentials.NewMemoryStore()

		return &Stores{Persistence: memory.NewPersistence(), Credentials: tokens, Resolver: tokens}, tokens, nil
	}

	if credentialsKey == "" {
		return nil, nil, ErrMissingKey
	}

	cipher, err := credentials.NewTokenCipher(credentialsKey)
	if err != nil {
		return nil, nil, err
	}

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	tokens := credpg.NewStore(store.DB(), cipher, logger)

	return &Stores{Persistence: store, Credentials: tokens, Resolver: tokens}, nil, nil
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDatabase, databaseURL)
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			if provider == "postgresql" {
				return "postgres", nil
			}

			return provider, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedDatabase, provider)
}
