package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/itiky/drop-engine/events"
	"github.com/itiky/drop-engine/model"
	"github.com/itiky/drop-engine/storage"
)

// ClaimOutcome is the final state of a claim attempt.
type ClaimOutcome string

const (
	ClaimWon            ClaimOutcome = "won"
	ClaimAlreadyTaken   ClaimOutcome = "already_taken"
	ClaimExpired        ClaimOutcome = "expired"
	ClaimForbidden      ClaimOutcome = "forbidden"
	ClaimTransportError ClaimOutcome = "transport_error"
)

// ClaimResult describes a finished claim attempt.
type ClaimResult struct {
	Outcome ClaimOutcome
	Item    *model.InventoryItem
	Qty     int64
	Message string
}

// claimOutcomeFromCode maps a server refusal code.
func claimOutcomeFromCode(code string) ClaimOutcome {
	switch code {
	case model.ClaimCodeAlreadyTaken, model.ClaimCodeTaken, model.ClaimCodeClaimed:
		return ClaimAlreadyTaken
	case model.ClaimCodeExpired, model.ClaimCodeNotFound, model.ClaimCodeGone:
		return ClaimExpired
	default:
		return ClaimForbidden
	}
}

// Claim tries to take a drop.
// A non-nil error means the claim was rejected locally and no request was issued;
// every server or transport outcome is reported by the result (and a notice).
func (e *Engine) Claim(ctx context.Context, id model.DropId) (ClaimResult, error) {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return ClaimResult{}, err
	}

	if !e.session.Auth.Eligible {
		e.mu.Unlock()
		e.Notify(model.NoticeError, "You are not allowed to claim drops")
		return ClaimResult{Outcome: ClaimForbidden}, WrapError("claim", "forbidden", ErrNotEligible)
	}

	// idle -> requesting
	busyChange, err := e.registry.MarkBusy(id, e.clock.Now())
	if err != nil {
		e.mu.Unlock()
		if errors.Is(err, storage.ErrDropBusy) {
			return ClaimResult{}, WrapError("claim", "busy", ErrClaimInProgress)
		}
		return ClaimResult{}, WrapError("claim", "unknown", ErrUnknownDrop)
	}
	req := model.ClaimRequest{DropId: id, Auth: e.auth()}
	title := busyChange.Drop.Title
	e.mu.Unlock()

	e.bus.Publish(events.TopicDrops, events.DropsChanged{Changes: []model.DropChange{busyChange}})

	opStart := time.Now()
	res, err := e.api.Claim(ctx, req)
	e.monitor.Observe("claim", time.Since(opStart), err)

	result := ClaimResult{}
	out := pending{}

	e.mu.Lock()
	now := e.clock.Now()
	switch {
	case err != nil:
		e.logger.Debug("claim failed", zap.String("dropId", string(id)), zap.Error(err))
		result.Outcome = ClaimTransportError
		e.clearBusyLocked(&out, id, now)
		out.notice(model.NoticeError, "Could not claim %q, please try again", title)

	case res.Claimed:
		result.Outcome = ClaimWon
		result.Item = res.Item
		result.Qty = res.Qty
		if result.Qty < 1 {
			result.Qty = 1
		}
		e.removeLocked(&out, id, model.RemovalClaimed, now)

		itemTitle := title
		if res.Item != nil && res.Item.Title != "" {
			itemTitle = res.Item.Title
		}
		out.notice(model.NoticeSuccess, "You got %s x%d", itemTitle, result.Qty)

	default:
		result.Outcome = claimOutcomeFromCode(res.Code)
		switch result.Outcome {
		case ClaimAlreadyTaken:
			e.removeLocked(&out, id, model.RemovalTaken, now)
			out.notice(model.NoticeInfo, "Someone was faster: %q is already taken", title)
		case ClaimExpired:
			e.removeLocked(&out, id, model.RemovalExpired, now)
			out.notice(model.NoticeInfo, "%q has expired", title)
		default:
			e.clearBusyLocked(&out, id, now)
			out.notice(model.NoticeError, "Claim rejected: %s", res.Code)
		}
	}
	e.mu.Unlock()

	if res != nil {
		result.Message = res.Code
	}
	e.logger.Debug("claim", zap.String("dropId", string(id)), zap.String("outcome", string(result.Outcome)))
	e.publish(out)

	if result.Outcome == ClaimWon {
		e.applyOrRefresh(ctx, req.Auth, res.Inventory, res.Bank)
	}

	return result, nil
}

func (e *Engine) removeLocked(out *pending, id model.DropId, reason model.RemovalReason, now time.Time) {
	op, err := storage.NewRemoveOperation(id, reason)
	if err != nil {
		e.logger.Warn("remove operation", zap.String("dropId", string(id)), zap.Error(err))
		return
	}

	if changes := e.registry.ApplyOperations(now, op); len(changes) > 0 {
		out.add(events.TopicDrops, events.DropsChanged{Changes: changes})
	}
}

func (e *Engine) clearBusyLocked(out *pending, id model.DropId, now time.Time) {
	if change := e.registry.ClearBusy(id, now); change != nil {
		out.add(events.TopicDrops, events.DropsChanged{Changes: []model.DropChange{*change}})
	}
}
