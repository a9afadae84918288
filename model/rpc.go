package model

import "encoding/json"

// Envelope wraps every endpoint payload: {ok, data} or {ok: false, error}.
type (
	Envelope struct {
		Ok    bool            `json:"ok"`
		Data  json.RawMessage `json:"data,omitempty"`
		Error json.RawMessage `json:"error,omitempty"`
	}

	// ErrorBody is the structured form of Envelope.Error (a bare string is accepted too).
	ErrorBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// Caller identity sent with every request (trust boundary is the server).
type Auth struct {
	UserId  UserId  `json:"user_id"`
	GroupId GroupId `json:"group_id"`
}

// Poll the drop state.
type (
	StateRequest struct {
		Auth
		ForumId ForumId
		PageUrl string
	}

	StateResponse struct {
		// Server clock used for ClockSync
		ServerTimeMs int64        `json:"server_time_ms"`
		Drops        []Drop       `json:"drops"`
		Inventory    *Inventory   `json:"inventory,omitempty"`
		Bank         *BankState   `json:"bank,omitempty"`
		Online       *OnlineStats `json:"online,omitempty"`
	}
)

// Poll presence.
type OnlineResponse struct {
	Online OnlineStats `json:"online"`
}

// Claim a drop.
type (
	ClaimRequest struct {
		DropId DropId `json:"drop_id"`
		Auth
	}

	ClaimResponse struct {
		Claimed bool           `json:"claimed"`
		Code    string         `json:"code,omitempty"`
		Item    *InventoryItem `json:"item,omitempty"`
		Qty     int64          `json:"qty,omitempty"`
		// Authoritative snapshots after the claim
		Inventory *Inventory `json:"inventory,omitempty"`
		Bank      *BankState `json:"bank,omitempty"`
	}
)

// Fetch economy snapshots.
type (
	InventoryResponse struct {
		Inventory Inventory `json:"inventory"`
	}

	BankStateResponse struct {
		Bank BankState `json:"bank"`
	}
)

// Deposit an inventory item to the bank.
type (
	BankDepositRequest struct {
		Auth
		ItemId ItemId `json:"item_id"`
		Qty    int64  `json:"qty"`
	}

	BankDepositResponse struct {
		Success   bool       `json:"success"`
		Message   string     `json:"message,omitempty"`
		Inventory *Inventory `json:"inventory,omitempty"`
		Bank      *BankState `json:"bank,omitempty"`
	}
)

// Open a chest.
type (
	ChestOpenRequest struct {
		Auth
	}

	ChestOpenResponse struct {
		Opened    bool         `json:"opened"`
		Message   string       `json:"message,omitempty"`
		Reward    *ChestReward `json:"reward,omitempty"`
		Inventory *Inventory   `json:"inventory,omitempty"`
	}
)

// Ask an admin for chests in exchange for forum currency.
type (
	PurchaseRequestRequest struct {
		Auth
		Qty          int64   `json:"qty"`
		Price        float64 `json:"price"`
		UserCurrency float64 `json:"user_currency"`
	}

	// ActionResponse is the generic {success, message} payload.
	ActionResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}
)

// Admin operations.
type (
	AdminStateRequest struct {
		Auth
		TargetUserId UserId
	}

	AdminTransferRequest struct {
		TransferOp
		Auth
	}

	AdminPurchaseRequest struct {
		Id PurchaseId `json:"id"`
		Auth
	}
)
