/*
catalog.go - Reward definition storage and lifecycle

PURPOSE:
  The Catalog owns reward definitions: creation (always validated),
  lookup, listing, and activation toggling. Definitions are soft-state:
  deactivating one stops future grants but never touches history.
*/
package rewards

import (
	"context"
	"time"
)

// Catalog stores reward definitions, each with an ordered condition list
// and a payout description.
type Catalog struct {
	Store CatalogStore
	Clock func() time.Time
}

func NewCatalog(store CatalogStore) *Catalog {
	return &Catalog{Store: store, Clock: time.Now}
}

// Create validates and persists a new definition. Definitions start in
// whatever Active state the caller set; the configuration workflow
// commits them active.
func (c *Catalog) Create(ctx context.Context, def Definition) (Definition, error) {
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	now := c.Clock()
	def.CreatedAt = now
	def.UpdatedAt = now
	if err := c.Store.SaveDefinition(ctx, def); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Get returns a definition or ErrRewardNotFound.
func (c *Catalog) Get(ctx context.Context, id RewardID) (Definition, error) {
	def, err := c.Store.GetDefinition(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	if def == nil {
		return Definition{}, ErrRewardNotFound
	}
	return *def, nil
}

// List returns every definition, active or not.
func (c *Catalog) List(ctx context.Context) ([]Definition, error) {
	return c.Store.ListDefinitions(ctx)
}

// ListActive returns the definitions the engine evaluates.
func (c *Catalog) ListActive(ctx context.Context) ([]Definition, error) {
	return c.Store.ListActiveDefinitions(ctx)
}

// SetActive toggles a definition without altering its rules.
func (c *Catalog) SetActive(ctx context.Context, id RewardID, active bool) (Definition, error) {
	def, err := c.Get(ctx, id)
	if err != nil {
		return Definition{}, err
	}
	def.Active = active
	def.UpdatedAt = c.Clock()
	if err := c.Store.SaveDefinition(ctx, def); err != nil {
		return Definition{}, err
	}
	return def, nil
}
