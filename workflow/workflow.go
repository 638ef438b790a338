/*
Package workflow implements the cascading configuration dialog through
which an administrator assembles a reward definition.

PURPOSE:
  A resumable, multi-step state machine over a persisted RewardDraft:

    collecting-name -> collecting-description -> collecting-payout-kind
      -> collecting-payout-value -> managing-conditions (hub)

  From the hub the admin may enter a 3-step condition sub-flow
  (type -> operator -> target, for add or edit), remove a condition, or
  finish. Finish leads to confirm, where the draft is either committed
  (atomically promoted to a RewardDefinition, draft discarded) or
  cancelled (draft discarded, nothing persisted).

DESIGN:
  Every transition is a pure function from (draft, input) to
  (draft, next state, prompt); persistence wraps the transition. That
  makes the dialog testable without any conversational framework, and
  the hub state is always re-derivable from the stored draft alone.

  Drafts are addressed by the authoring admin's identity, so abandoning
  the conversation and coming back later resumes the same draft instead
  of silently losing it or creating a duplicate. A missing draft is
  never an error: resuming starts fresh.

SEE ALSO:
  - draft.go: Draft value and store interface
  - rewards/types.go: The committed Definition
*/
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/coinage/rewards"
	"github.com/warp/coinage/rules"
)

// =============================================================================
// STATES
// =============================================================================

type State string

const (
	StateName        State = "collecting-name"
	StateDescription State = "collecting-description"
	StatePayoutKind  State = "collecting-payout-kind"
	StatePayoutValue State = "collecting-payout-value"
	StateHub         State = "managing-conditions"
	StateCondType    State = "condition-type"
	StateCondOp      State = "condition-operator"
	StateCondTarget  State = "condition-target"
	StateConfirm     State = "confirm"
)

// StepResult is what the presentation layer needs after a transition:
// the next state and the message content to show. Rendering (text,
// buttons) is entirely the caller's concern.
type StepResult struct {
	State  State
	Prompt string
	Done   bool

	// Committed is set when the transition promoted the draft.
	Committed *rewards.Definition

	Draft Draft
}

// effect tells Step what persistence action the pure transition decided.
type effect int

const (
	effectSave effect = iota
	effectCommit
	effectDiscard
	effectNone // no-op input, draft unchanged
)

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow drives drafts through the dialog and commits them.
type Workflow struct {
	Drafts DraftStore
	Clock  func() time.Time
}

func New(drafts DraftStore) *Workflow {
	return &Workflow{Drafts: drafts, Clock: time.Now}
}

// Resume returns the admin's in-progress draft and the prompt for its
// current state, starting a fresh draft if none exists (DraftNotFound is
// treated as starting over, never surfaced).
func (w *Workflow) Resume(ctx context.Context, adminID string) (*StepResult, error) {
	draft, err := w.loadOrStart(ctx, adminID)
	if err != nil {
		return nil, err
	}
	return &StepResult{State: draft.State, Prompt: promptFor(draft), Draft: draft}, nil
}

// Step applies one admin input to the draft and persists the outcome.
func (w *Workflow) Step(ctx context.Context, adminID, input string) (*StepResult, error) {
	draft, err := w.loadOrStart(ctx, adminID)
	if err != nil {
		return nil, err
	}

	next, res, eff := transition(draft, strings.TrimSpace(input))
	next.UpdatedAt = w.Clock()
	res.Draft = next

	switch eff {
	case effectSave:
		if err := w.Drafts.SaveDraft(ctx, next); err != nil {
			return nil, err
		}
	case effectDiscard:
		// A cancel before the first save has nothing to delete.
		if err := w.Drafts.DeleteDraft(ctx, adminID); err != nil && !errors.Is(err, ErrDraftNotFound) {
			return nil, err
		}
	case effectCommit:
		def, err := buildDefinition(next, w.Clock())
		if err != nil {
			// Malformed draft: reject the commit, keep the draft
			// editable at the hub.
			next.State = StateHub
			if saveErr := w.Drafts.SaveDraft(ctx, next); saveErr != nil {
				return nil, saveErr
			}
			res = StepResult{
				State:  StateHub,
				Prompt: fmt.Sprintf("Cannot create reward: %v\n%s", err, hubPrompt(next)),
				Draft:  next,
			}
			return &res, nil
		}
		if err := w.Drafts.CommitDraft(ctx, adminID, def); err != nil {
			return nil, err
		}
		res.Committed = &def
	}
	return &res, nil
}

// Cancel discards the admin's draft, if any.
func (w *Workflow) Cancel(ctx context.Context, adminID string) error {
	err := w.Drafts.DeleteDraft(ctx, adminID)
	if errors.Is(err, ErrDraftNotFound) {
		return nil
	}
	return err
}

func (w *Workflow) loadOrStart(ctx context.Context, adminID string) (Draft, error) {
	draft, err := w.Drafts.GetDraft(ctx, adminID)
	if err != nil && !errors.Is(err, ErrDraftNotFound) {
		return Draft{}, err
	}
	if draft == nil {
		return NewDraft(adminID, w.Clock()), nil
	}
	return *draft, nil
}

// =============================================================================
// PURE TRANSITIONS
// =============================================================================

// transition is the dialog's pure step function. It never touches
// storage; the returned effect says what Step should persist.
func transition(d Draft, input string) (Draft, StepResult, effect) {
	// "cancel" aborts from any state with no persisted side effects.
	if strings.EqualFold(input, "cancel") {
		return d, StepResult{State: d.State, Prompt: "Draft discarded.", Done: true}, effectDiscard
	}

	switch d.State {
	case StateName:
		if input == "" {
			return d, retry(d, "A name is required."), effectNone
		}
		d.Name = input
		d.State = StateDescription

	case StateDescription:
		d.Description = input
		d.State = StatePayoutKind

	case StatePayoutKind:
		kind := rewards.PayoutKind(strings.ToLower(input))
		if !knownPayoutKind(kind) {
			return d, retry(d, fmt.Sprintf("Unknown payout kind %q.", input)), effectNone
		}
		d.PayoutKind = kind
		if kind == rewards.PayoutBadge {
			// Badges carry no value; skip straight to the hub.
			d.State = StateHub
		} else {
			d.State = StatePayoutValue
		}

	case StatePayoutValue:
		if d.PayoutKind == rewards.PayoutCurrency {
			if _, err := parseWholeCoins(input); err != nil {
				return d, retry(d, "Enter a positive whole number of coins."), effectNone
			}
		} else if input == "" {
			return d, retry(d, "A benefit token is required."), effectNone
		}
		d.PayoutValue = input
		d.State = StateHub

	case StateHub:
		return hubTransition(d, input)

	case StateCondType:
		cond, ok := parseConditionType(input)
		if !ok {
			return d, retry(d, fmt.Sprintf("Unknown condition type %q.", input)), effectNone
		}
		d.Editing = &cond
		d.State = StateCondOp

	case StateCondOp:
		op := rules.Operator(input)
		if !knownOperator(op) {
			return d, retry(d, fmt.Sprintf("Unknown operator %q.", input)), effectNone
		}
		d.Editing.Operator = op
		d.State = StateCondTarget

	case StateCondTarget:
		target, window, err := parseTarget(input)
		if err != nil {
			return d, retry(d, err.Error()), effectNone
		}
		d.Editing.Target = target
		d.Editing.Window = window
		if err := d.Editing.Validate(); err != nil {
			return d, retry(d, err.Error()), effectNone
		}
		if d.EditIndex >= 0 && d.EditIndex < len(d.Conditions) {
			d.Conditions[d.EditIndex] = *d.Editing
		} else {
			d.Conditions = append(d.Conditions, *d.Editing)
		}
		d.Editing = nil
		d.EditIndex = -1
		d.State = StateHub

	case StateConfirm:
		switch strings.ToLower(input) {
		case "commit":
			return d, StepResult{State: StateConfirm, Prompt: "Reward created.", Done: true}, effectCommit
		case "back":
			d.State = StateHub
		default:
			return d, retry(d, "Reply commit, back, or cancel."), effectNone
		}

	default:
		// Unknown persisted state (old version, corrupted row): recover
		// at the hub rather than wedging the admin.
		d.State = StateHub
	}

	return d, StepResult{State: d.State, Prompt: promptFor(d)}, effectSave
}

// hubTransition handles the managing-conditions hub commands.
func hubTransition(d Draft, input string) (Draft, StepResult, effect) {
	cmd, arg, _ := strings.Cut(strings.ToLower(input), " ")
	switch cmd {
	case "add", "add-condition":
		d.Editing = &rules.Condition{}
		d.EditIndex = -1
		d.State = StateCondType

	case "edit", "edit-condition":
		i, err := conditionIndex(arg, len(d.Conditions))
		if err != nil {
			return d, retry(d, err.Error()), effectNone
		}
		// Pre-fill the sub-flow with the existing condition.
		cond := d.Conditions[i]
		d.Editing = &cond
		d.EditIndex = i
		d.State = StateCondType

	case "remove", "remove-condition":
		i, err := conditionIndex(arg, len(d.Conditions))
		if err != nil {
			return d, retry(d, err.Error()), effectNone
		}
		d.Conditions = append(d.Conditions[:i], d.Conditions[i+1:]...)
		// Stays in the hub.

	case "finish", "done":
		d.State = StateConfirm

	default:
		return d, retry(d, fmt.Sprintf("Unknown command %q.", input)), effectNone
	}
	return d, StepResult{State: d.State, Prompt: promptFor(d)}, effectSave
}

func retry(d Draft, msg string) StepResult {
	return StepResult{State: d.State, Prompt: msg + "\n" + promptFor(d), Draft: d}
}

func conditionIndex(arg string, n int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil || i < 1 || i > n {
		return 0, fmt.Errorf("condition number must be between 1 and %d", n)
	}
	return i - 1, nil
}

// parseConditionType accepts "streak-length", "custom-counter <name>", etc.
func parseConditionType(input string) (rules.Condition, bool) {
	name, arg, _ := strings.Cut(strings.ToLower(input), " ")
	for _, t := range rules.KnownConditionTypes {
		if string(t) == name {
			cond := rules.Condition{Type: t}
			if t == rules.CondCustomCounter {
				cond.Counter = strings.TrimSpace(arg)
			}
			return cond, true
		}
	}
	return rules.Condition{}, false
}

func knownOperator(op rules.Operator) bool {
	for _, k := range rules.KnownOperators {
		if k == op {
			return true
		}
	}
	return false
}

func knownPayoutKind(k rewards.PayoutKind) bool {
	for _, kk := range rewards.KnownPayoutKinds {
		if kk == k {
			return true
		}
	}
	return false
}

// parseTarget accepts "7" or "5 within 24h" (windowed counters).
func parseTarget(input string) (decimal.Decimal, time.Duration, error) {
	value, rest, _ := strings.Cut(input, " ")
	target, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("enter a number, optionally followed by \"within <duration>\"")
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return target, 0, nil
	}
	after, ok := strings.CutPrefix(rest, "within ")
	if !ok {
		return decimal.Zero, 0, fmt.Errorf("expected \"within <duration>\" after the target")
	}
	window, err := time.ParseDuration(strings.TrimSpace(after))
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("bad duration %q", after)
	}
	return target, window, nil
}

func parseWholeCoins(input string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(input)
	if err != nil || !v.IsInteger() || !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("bad coin amount %q", input)
	}
	return v, nil
}

// =============================================================================
// COMMIT
// =============================================================================

// buildDefinition converts a finished draft into a Definition, validating
// it as a whole. Definitions commit active.
func buildDefinition(d Draft, now time.Time) (rewards.Definition, error) {
	def := rewards.Definition{
		ID:          rewards.RewardID(uuid.NewString()),
		Name:        d.Name,
		Description: d.Description,
		Active:      true,
		Conditions:  append([]rules.Condition(nil), d.Conditions...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	def.Payout.Kind = d.PayoutKind
	switch d.PayoutKind {
	case rewards.PayoutCurrency:
		coins, err := parseWholeCoins(d.PayoutValue)
		if err != nil {
			return rewards.Definition{}, fmt.Errorf("%w: %v", rules.ErrInvalidConditionConfig, err)
		}
		def.Payout.Coins.Value = coins
	case rewards.PayoutBenefit:
		def.Payout.Token = d.PayoutValue
	}

	if err := def.Validate(); err != nil {
		return rewards.Definition{}, err
	}
	return def, nil
}

// =============================================================================
// PROMPTS
// =============================================================================

// promptFor renders the message content for a state. The presentation
// layer decides how to display it.
func promptFor(d Draft) string {
	switch d.State {
	case StateName:
		return "Name for the new reward?"
	case StateDescription:
		return "Short description?"
	case StatePayoutKind:
		return "Payout kind? (currency, badge, benefit-token)"
	case StatePayoutValue:
		if d.PayoutKind == rewards.PayoutCurrency {
			return "How many coins does it pay out?"
		}
		return "Which benefit token does it issue?"
	case StateCondType:
		return "Condition type? (streak-length, lifetime-earned, reaction-count, purchase-count, days-since-join, custom-counter <name>)"
	case StateCondOp:
		return "Operator? (=, >, >=, <, <=)"
	case StateCondTarget:
		return "Target value? (optionally \"<n> within <duration>\")"
	case StateConfirm:
		return reviewPrompt(d)
	default:
		return hubPrompt(d)
	}
}

func hubPrompt(d Draft) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reward %q (%s", d.Name, d.PayoutKind)
	if d.PayoutValue != "" {
		fmt.Fprintf(&b, " %s", d.PayoutValue)
	}
	b.WriteString(")\n")
	if len(d.Conditions) == 0 {
		b.WriteString("No conditions yet.\n")
	}
	for i, c := range d.Conditions {
		fmt.Fprintf(&b, "%d. %s %s %s", i+1, c.ContextKey(), c.Operator, c.Target)
		b.WriteString("\n")
	}
	b.WriteString("Commands: add, edit <n>, remove <n>, finish, cancel")
	return b.String()
}

func reviewPrompt(d Draft) string {
	return hubPrompt(d) + "\nReply commit to create this reward, back to keep editing, or cancel to discard."
}
