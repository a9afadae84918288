package model

import (
	"fmt"
)

type (
	InventoryItem struct {
		ItemId   ItemId `json:"item_id"`
		Title    string `json:"title"`
		ImageUrl string `json:"image_url"`
		Qty      int64  `json:"qty"`
	}

	// Inventory is one user's item holdings.
	Inventory struct {
		UserId   UserId          `json:"user_id"`
		Items    []InventoryItem `json:"items"`
		TotalQty int64           `json:"total_qty"`
	}

	// BankState is the shared pool visible to every eligible user.
	BankState struct {
		Items    []InventoryItem `json:"items"`
		TotalQty int64           `json:"total_qty"`
	}

	OnlineStats struct {
		Count          int64 `json:"count"`
		WhitelistCount int64 `json:"whitelist_count"`
	}

	// ChestReward is what an opened chest yielded.
	ChestReward struct {
		ItemId   ItemId `json:"item_id"`
		Title    string `json:"title"`
		ImageUrl string `json:"image_url"`
		Qty      int64  `json:"qty"`
	}
)

// PurchaseStatus is the lifecycle state of a PurchaseRequest (pending -> processed).
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusProcessed PurchaseStatus = "processed"
)

// PurchaseRequest is a user's request to buy chests for forum currency.
type PurchaseRequest struct {
	Id            PurchaseId     `json:"id"`
	UserId        UserId         `json:"user_id"`
	UserLogin     string         `json:"user_login"`
	Qty           int64          `json:"qty"`
	PricePerChest float64        `json:"price_per_chest"`
	TotalPrice    float64        `json:"total_price"`
	UserCurrency  float64        `json:"user_currency"`
	Status        PurchaseStatus `json:"status"`
}

// EndpointType is a TransferOp source or destination kind.
type EndpointType string

const (
	// Virtual origin creating supply from nothing (source only)
	EndpointMint EndpointType = "mint"
	EndpointBank EndpointType = "bank"
	EndpointUser EndpointType = "user"
)

// TransferOp is an admin command moving (or minting) items.
type TransferOp struct {
	FromType   EndpointType `json:"from_type"`
	ToType     EndpointType `json:"to_type"`
	FromUserId UserId       `json:"from_user_id,omitempty"`
	ToUserId   UserId       `json:"to_user_id,omitempty"`
	ItemId     ItemId       `json:"item_id"`
	Qty        int64        `json:"qty"`
	Note       string       `json:"note,omitempty"`
}

// AdminState is the admin panel bulk payload.
type AdminState struct {
	ItemPool         []InventoryItem   `json:"item_pool"`
	TargetInventory  *Inventory        `json:"target_inventory,omitempty"`
	PurchaseRequests []PurchaseRequest `json:"purchase_requests"`
	Bank             BankState         `json:"bank"`
}

// TransferResult is the outcome of an executed TransferOp.
type TransferResult struct {
	Success          bool       `json:"success"`
	Message          string     `json:"message,omitempty"`
	TouchedInventory *Inventory `json:"touched_inventory,omitempty"`
	TouchedUserId    *UserId    `json:"touched_user_id,omitempty"`
	Bank             *BankState `json:"bank,omitempty"`
}

// Validate checks the operation shape. Quantities and ownership are checked server side.
func (op TransferOp) Validate() error {
	switch op.FromType {
	case EndpointMint, EndpointBank:
	case EndpointUser:
		if op.FromUserId <= 0 {
			return fmt.Errorf("%s: must be GT 0 for %s source", "fromUserId", op.FromType)
		}
	default:
		return fmt.Errorf("%s: unsupported: %q", "fromType", op.FromType)
	}

	switch op.ToType {
	case EndpointBank:
		if op.FromType == EndpointBank {
			return fmt.Errorf("%s: bank to bank transfer", "toType")
		}
	case EndpointUser:
		if op.ToUserId <= 0 {
			return fmt.Errorf("%s: must be GT 0 for %s destination", "toUserId", op.ToType)
		}
		if op.FromType == EndpointUser && op.FromUserId == op.ToUserId {
			return fmt.Errorf("%s: same user on both ends", "toUserId")
		}
	default:
		return fmt.Errorf("%s: unsupported: %q", "toType", op.ToType)
	}

	if op.ItemId <= 0 {
		return fmt.Errorf("%s: must be GT 0", "itemId")
	}
	if op.Qty < 1 {
		return fmt.Errorf("%s: must be GTE 1", "qty")
	}

	return nil
}

// Held returns the quantity of itemId in the inventory.
func (i *Inventory) Held(itemId ItemId) int64 {
	if i == nil {
		return 0
	}
	for _, item := range i.Items {
		if item.ItemId == itemId {
			return item.Qty
		}
	}

	return 0
}

// Clone returns a deep copy (nil-safe).
func (i *Inventory) Clone() *Inventory {
	if i == nil {
		return nil
	}
	c := *i
	c.Items = cloneItems(i.Items)

	return &c
}

// Held returns the quantity of itemId in the bank.
func (b *BankState) Held(itemId ItemId) int64 {
	if b == nil {
		return 0
	}
	for _, item := range b.Items {
		if item.ItemId == itemId {
			return item.Qty
		}
	}

	return 0
}

// Clone returns a deep copy (nil-safe).
func (b *BankState) Clone() *BankState {
	if b == nil {
		return nil
	}
	c := *b
	c.Items = cloneItems(b.Items)

	return &c
}

// Clone returns a copy (nil-safe).
func (o *OnlineStats) Clone() *OnlineStats {
	if o == nil {
		return nil
	}
	c := *o

	return &c
}

func cloneItems(items []InventoryItem) []InventoryItem {
	if items == nil {
		return nil
	}
	c := make([]InventoryItem, len(items))
	copy(c, items)

	return c
}
