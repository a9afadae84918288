package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/itiky/drop-engine/events"
	"github.com/itiky/drop-engine/model"
)

var ErrInvalidQty = errors.New("invalid quantity")

type (
	// Actions are the engine operations the view delegates to. The view never mutates snapshots itself.
	Actions interface {
		Bus() *events.Bus
		Inventory() *model.Inventory
		Bank() *model.BankState
		Online() *model.OnlineStats
		Notify(level model.NoticeLevel, message string)
		RefreshEconomy(ctx context.Context) error
		Deposit(ctx context.Context, itemId model.ItemId, qty int64) (bool, error)
		OpenChest(ctx context.Context) (*model.ChestReward, error)
		RequestChestPurchase(ctx context.Context, qty int64) (bool, error)
	}

	// ViewState is an immutable copy of what the inventory / bank panel renders.
	ViewState struct {
		Inventory *model.Inventory
		Bank      *model.BankState
		Online    *model.OnlineStats
		// Chests held by the viewer
		Chests int64
	}

	// ChangeFn receives every new ViewState.
	ChangeFn func(state ViewState)
)

// View keeps the inventory / bank panel state in sync with the engine notifications.
type View struct {
	sync.Mutex
	actions     Actions
	chestItemId model.ItemId
	onChange    ChangeFn
	state       ViewState
	unsubs      []func()
}

// Attach subscribes to the snapshot topics and performs the initial bulk fetch.
func (v *View) Attach(ctx context.Context) error {
	v.Lock()
	if v.unsubs != nil {
		v.Unlock()
		return nil
	}

	bus := v.actions.Bus()
	v.unsubs = []func(){
		bus.Subscribe(events.TopicInventory, v.handle),
		bus.Subscribe(events.TopicBank, v.handle),
		bus.Subscribe(events.TopicOnline, v.handle),
	}
	v.state = ViewState{
		Inventory: v.actions.Inventory(),
		Bank:      v.actions.Bank(),
		Online:    v.actions.Online(),
	}
	v.state.Chests = v.state.Inventory.Held(v.chestItemId)
	v.Unlock()

	if err := v.actions.RefreshEconomy(ctx); err != nil {
		return fmt.Errorf("initial fetch: %w", err)
	}

	return nil
}

// Close unsubscribes from the engine notifications.
func (v *View) Close() {
	v.Lock()
	unsubs := v.unsubs
	v.unsubs = nil
	v.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// State returns the current ViewState copy.
func (v *View) State() ViewState {
	v.Lock()
	defer v.Unlock()

	return v.state.clone()
}

// DepositToBank moves qty of itemId to the bank; 1 <= qty <= held.
func (v *View) DepositToBank(ctx context.Context, itemId model.ItemId, qty int64) (bool, error) {
	held := v.State().Inventory.Held(itemId)
	if qty < 1 || qty > held {
		v.actions.Notify(model.NoticeError, fmt.Sprintf("Quantity must be between 1 and %d", held))
		return false, fmt.Errorf("%s: %d not in [1, %d]: %w", "qty", qty, held, ErrInvalidQty)
	}

	return v.actions.Deposit(ctx, itemId, qty)
}

// OpenChest opens one of the held chests.
func (v *View) OpenChest(ctx context.Context) (*model.ChestReward, error) {
	return v.actions.OpenChest(ctx)
}

// RequestChestPurchase asks an admin for qty chests.
func (v *View) RequestChestPurchase(ctx context.Context, qty int64) (bool, error) {
	return v.actions.RequestChestPurchase(ctx, qty)
}

// handle applies a snapshot notification.
func (v *View) handle(event events.Event) {
	v.Lock()
	switch data := event.Data.(type) {
	case *model.Inventory:
		v.state.Inventory = data.Clone()
		v.state.Chests = data.Held(v.chestItemId)
	case *model.BankState:
		v.state.Bank = data.Clone()
	case *model.OnlineStats:
		v.state.Online = data.Clone()
	default:
		v.Unlock()
		return
	}
	state := v.state.clone()
	v.Unlock()

	if v.onChange != nil {
		v.onChange(state)
	}
}

func (s ViewState) clone() ViewState {
	return ViewState{
		Inventory: s.Inventory.Clone(),
		Bank:      s.Bank.Clone(),
		Online:    s.Online.Clone(),
		Chests:    s.Chests,
	}
}

// NewView creates a new detached View object.
func NewView(actions Actions, chestItemId model.ItemId, onChange ChangeFn) (*View, error) {
	if actions == nil {
		return nil, fmt.Errorf("%s: nil", "actions")
	}
	if chestItemId <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "chestItemId")
	}

	return &View{
		actions:     actions,
		chestItemId: chestItemId,
		onChange:    onChange,
	}, nil
}
