/*
draft.go - The in-progress reward draft and its store

The draft is the only mutable-in-place, ephemeral structure in the
system: it exists from the first dialog step until commit or cancel,
keyed by the authoring admin's identity.
*/
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/rules"
)

// Draft is an in-progress, not-yet-committed reward definition plus the
// condition currently being edited.
type Draft struct {
	AdminID string
	State   State

	Name        string
	Description string
	PayoutKind  rewards.PayoutKind
	PayoutValue string // raw input; converted at commit

	Conditions []rules.Condition

	// Editing is the condition under construction in the sub-flow.
	// EditIndex is the slot being edited, or -1 when adding.
	Editing   *rules.Condition
	EditIndex int

	UpdatedAt time.Time
}

// NewDraft starts a fresh draft at the first collecting-basics step.
func NewDraft(adminID string, now time.Time) Draft {
	return Draft{
		AdminID:   adminID,
		State:     StateName,
		EditIndex: -1,
		UpdatedAt: now,
	}
}

// ErrDraftNotFound is returned by stores when the admin has no draft.
// The workflow treats it as "start fresh", never as a failure.
var ErrDraftNotFound = errors.New("draft not found")

// DraftStore persists drafts keyed by admin identity.
type DraftStore interface {
	// GetDraft returns the admin's draft, or (nil, nil) when none exists.
	GetDraft(ctx context.Context, adminID string) (*Draft, error)

	// SaveDraft upserts the draft. Drafts are mutable in place.
	SaveDraft(ctx context.Context, d Draft) error

	// DeleteDraft discards the draft. ErrDraftNotFound if absent.
	DeleteDraft(ctx context.Context, adminID string) error

	// CommitDraft atomically creates the reward definition and discards
	// the draft: both happen, or neither does.
	CommitDraft(ctx context.Context, adminID string, def rewards.Definition) error
}
