package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/itiky/drop-engine/model"
)

// RefreshEconomy fetches the viewer inventory and the bank (initial bulk fetch).
func (e *Engine) RefreshEconomy(ctx context.Context) error {
	auth, err := e.eligibleAuth("refresh")
	if err != nil {
		return err
	}

	return e.refreshEconomy(ctx, auth)
}

func (e *Engine) refreshEconomy(ctx context.Context, auth model.Auth) error {
	opStart := time.Now()
	inventory, err := e.api.Inventory(ctx, auth)
	e.monitor.Observe("inventory", time.Since(opStart), err)
	if err != nil {
		return WrapError("refresh", "inventory", err)
	}

	opStart = time.Now()
	bank, err := e.api.BankState(ctx)
	e.monitor.Observe("bank", time.Since(opStart), err)
	if err != nil {
		return WrapError("refresh", "bank", err)
	}

	e.ReplaceSnapshots(inventory, bank)

	return nil
}

// Deposit moves qty of the viewer's itemId to the bank. Returns false on a business refusal.
func (e *Engine) Deposit(ctx context.Context, itemId model.ItemId, qty int64) (bool, error) {
	auth, err := e.eligibleAuth("deposit")
	if err != nil {
		return false, err
	}

	held := e.Inventory().Held(itemId)
	if qty < 1 || qty > held {
		e.Notify(model.NoticeError, fmt.Sprintf("Quantity must be between 1 and %d", held))
		return false, WrapError("deposit", "qty", ErrInvalidQty)
	}

	opStart := time.Now()
	res, err := e.api.BankDeposit(ctx, model.BankDepositRequest{Auth: auth, ItemId: itemId, Qty: qty})
	e.monitor.Observe("bank_deposit", time.Since(opStart), err)
	if err != nil {
		e.logger.Debug("deposit failed", zap.Error(err))
		e.Notify(model.NoticeError, "Deposit failed, please try again")
		return false, WrapError("deposit", "request", err)
	}

	if !res.Success {
		e.Notify(model.NoticeInfo, messageOr(res.Message, "Deposit refused"))
		return false, nil
	}

	e.applyOrRefresh(ctx, auth, res.Inventory, res.Bank)
	e.Notify(model.NoticeSuccess, messageOr(res.Message, fmt.Sprintf("Deposited x%d to the bank", qty)))

	return true, nil
}

// OpenChest opens one chest from the viewer inventory. Returns a nil reward on a business refusal.
func (e *Engine) OpenChest(ctx context.Context) (*model.ChestReward, error) {
	auth, err := e.eligibleAuth("chestOpen")
	if err != nil {
		return nil, err
	}

	if e.Inventory().Held(e.cfg.ChestItemId) < 1 {
		e.Notify(model.NoticeInfo, "No chests available")
		return nil, nil
	}

	opStart := time.Now()
	res, err := e.api.ChestOpen(ctx, model.ChestOpenRequest{Auth: auth})
	e.monitor.Observe("chest_open", time.Since(opStart), err)
	if err != nil {
		e.logger.Debug("chest open failed", zap.Error(err))
		e.Notify(model.NoticeError, "Could not open the chest, please try again")
		return nil, WrapError("chestOpen", "request", err)
	}

	if !res.Opened {
		e.Notify(model.NoticeInfo, messageOr(res.Message, "The chest did not open"))
		return nil, nil
	}

	e.applyOrRefresh(ctx, auth, res.Inventory, nil)
	if res.Reward != nil {
		e.Notify(model.NoticeSuccess, fmt.Sprintf("Chest opened: %s x%d", res.Reward.Title, res.Reward.Qty))
	} else {
		e.Notify(model.NoticeSuccess, messageOr(res.Message, "Chest opened"))
	}

	return res.Reward, nil
}

// RequestChestPurchase asks an admin for qty chests paid with forum currency.
// Returns false on a business refusal.
func (e *Engine) RequestChestPurchase(ctx context.Context, qty int64) (bool, error) {
	auth, err := e.eligibleAuth("purchaseRequest")
	if err != nil {
		return false, err
	}

	if qty < 1 {
		e.Notify(model.NoticeError, "Quantity must be at least 1")
		return false, WrapError("purchaseRequest", "qty", ErrInvalidQty)
	}

	currency := e.Viewer().Currency
	if total := float64(qty) * e.cfg.ChestPrice; total > currency {
		e.Notify(model.NoticeInfo, fmt.Sprintf("Not enough currency: %.2f needed, %.2f available", total, currency))
		return false, nil
	}

	opStart := time.Now()
	res, err := e.api.PurchaseRequest(ctx, model.PurchaseRequestRequest{
		Auth:         auth,
		Qty:          qty,
		Price:        e.cfg.ChestPrice,
		UserCurrency: currency,
	})
	e.monitor.Observe("purchase_request", time.Since(opStart), err)
	if err != nil {
		e.logger.Debug("purchase request failed", zap.Error(err))
		e.Notify(model.NoticeError, "Purchase request failed, please try again")
		return false, WrapError("purchaseRequest", "request", err)
	}

	if !res.Success {
		e.Notify(model.NoticeInfo, messageOr(res.Message, "Purchase request refused"))
		return false, nil
	}
	e.Notify(model.NoticeSuccess, messageOr(res.Message, "Purchase request sent"))

	return true, nil
}

// eligibleAuth gates user actions on eligibility.
func (e *Engine) eligibleAuth(operation string) (model.Auth, error) {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return model.Auth{}, err
	}
	eligible, auth := e.session.Auth.Eligible, e.auth()
	e.mu.Unlock()

	if !eligible {
		e.Notify(model.NoticeError, "You are not allowed to use the economy")
		return model.Auth{}, WrapError(operation, "forbidden", ErrNotEligible)
	}

	return auth, nil
}

// applyOrRefresh stores the response snapshots, fetching them when the server omitted them.
func (e *Engine) applyOrRefresh(ctx context.Context, auth model.Auth, inventory *model.Inventory, bank *model.BankState) {
	if inventory != nil || bank != nil {
		e.ReplaceSnapshots(inventory, bank)
		return
	}

	if err := e.refreshEconomy(ctx, auth); err != nil {
		e.logger.Debug("economy refresh failed", zap.Error(err))
	}
}

func messageOr(message, fallback string) string {
	if message != "" {
		return message
	}

	return fallback
}
