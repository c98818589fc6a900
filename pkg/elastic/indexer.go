package elastic

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Indexer is implemented by every document type that owns an index: it
// declares the mapping its documents are written with.
type Indexer interface {
	Mapping() Mapping
}

// Target is the name a cache was configured with, classified once.
//
// The classification is never refreshed. If the name is later turned from an
// index into an alias (or back), the owning cache keeps the old read and
// write semantics until it is rebuilt.
type Target struct {
	Name    string
	IsAlias bool
}

// Provision prepares the backend target for an Indexer's documents.
//
// It pings the cluster, then classifies name. An alias is assumed to front
// indices that already exist. A missing index is created with the declared
// mapping and nothing else is done. An existing index or alias gets the
// declared mapping pushed as an update, so fields added by newer versions
// appear without touching stored data. Any backend error aborts provisioning.
func Provision(
	ctx context.Context,
	backend Backend,
	name string,
	indexer Indexer,
	logger zerolog.Logger,
) (Target, error) {
	if backend == nil {
		return Target{}, errors.New("elastic backend cannot be nil")
	}
	if name == "" {
		return Target{}, errors.New("index or alias name cannot be empty")
	}
	logger = logger.With().Str("component", "Provisioner").Str("target", name).Logger()

	if err := backend.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("Elasticsearch cluster is not available, not able to set up the store.")
		return Target{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	target := Target{Name: name}
	isAlias, err := backend.AliasExists(ctx, name)
	if err != nil {
		return Target{}, fmt.Errorf("failed to check alias %s: %w", name, err)
	}

	if isAlias {
		target.IsAlias = true
		logger.Info().Msg("Target is an alias, reads will resolve across its indices.")
	} else {
		exists, err := backend.IndexExists(ctx, name)
		if err != nil {
			return Target{}, fmt.Errorf("failed to check index %s: %w", name, err)
		}
		if !exists {
			logger.Warn().Msg("Index not found. Attempting to create with the declared mapping.")
			if err := backend.CreateIndex(ctx, name, indexer.Mapping()); err != nil {
				return Target{}, fmt.Errorf("failed to create index %s: %w", name, err)
			}
			logger.Info().Msg("Index created successfully.")
			return target, nil
		}
	}

	if err := backend.PutMapping(ctx, name, indexer.Mapping()); err != nil {
		return Target{}, fmt.Errorf("failed to update mapping of %s: %w", name, err)
	}
	logger.Info().Bool("is_alias", target.IsAlias).Msg("Mapping of existing target updated.")
	return target, nil
}
