package model

type (
	UserId int64

	GroupId int64

	ForumId int64

	ItemId int64

	DropId string

	PurchaseId int64
)

// OperationType is the kind of change a registry mutation produced.
type OperationType string

const (
	InsertOperationType OperationType = "insert"
	UpdateOperationType OperationType = "update"
	DeleteOperationType OperationType = "delete"
)

// RemovalReason explains why a drop left the registry.
type RemovalReason string

const (
	// Absent from the latest server snapshot
	RemovalGone RemovalReason = "gone"
	// Countdown reached zero locally
	RemovalExpired RemovalReason = "expired"
	// Claimed by the viewer
	RemovalClaimed RemovalReason = "claimed"
	// Claimed by someone else (or expired server side) before the viewer
	RemovalTaken RemovalReason = "taken"
)

// Action is the value of the endpoint "action" query parameter.
type Action string

const (
	ActionState                Action = "state"
	ActionOnline               Action = "online"
	ActionClaim                Action = "claim"
	ActionInventory            Action = "inventory"
	ActionBankState            Action = "bank_state"
	ActionBankDeposit          Action = "bank_deposit"
	ActionChestOpen            Action = "chest_open"
	ActionPurchaseRequest      Action = "purchase_request"
	ActionAdminState           Action = "admin_state"
	ActionAdminTransfer        Action = "admin_transfer"
	ActionAdminPurchaseProcess Action = "admin_purchase_process"
	ActionAdminPurchaseDelete  Action = "admin_purchase_delete"
)

// Claim refusal codes sent by the server with claimed=false.
const (
	ClaimCodeAlreadyTaken = "ALREADY_TAKEN"
	ClaimCodeTaken        = "TAKEN"
	ClaimCodeClaimed      = "CLAIMED"
	ClaimCodeExpired      = "EXPIRED"
	ClaimCodeNotFound     = "NOT_FOUND"
	ClaimCodeGone         = "GONE"
	ClaimCodeForbidden    = "FORBIDDEN"
)
