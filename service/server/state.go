package server

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itiky/drop-engine/model"
)

var (
	ErrUnknownItem     = errors.New("unknown item")
	ErrUnknownPurchase = errors.New("unknown purchase request")
	ErrNotProcessed    = errors.New("purchase request not processed")
	ErrInvalidTransfer = errors.New("invalid transfer")
)

// presenceWindow is how long a state poll counts a user as online.
const presenceWindow = time.Minute

type (
	// serverDrop is a spawned drop with its hidden reward.
	serverDrop struct {
		model.Drop
		ItemId model.ItemId
		Qty    int64
	}

	// State is the in-memory sandbox economy. Every mutation is atomic under one lock.
	State struct {
		sync.Mutex
		catalog   Catalog
		rnd       *rand.Rand
		drops     map[model.DropId]*serverDrop
		claimed   map[model.DropId]int64 // drop id -> expiresAt, kept until the drop would have expired
		inventory map[model.UserId]map[model.ItemId]int64
		bank      map[model.ItemId]int64
		purchases map[model.PurchaseId]*model.PurchaseRequest
		lastSeen  map[model.UserId]presence
		nextPurId model.PurchaseId
	}

	presence struct {
		at       time.Time
		eligible bool
	}
)

// SpawnDrop creates a random drop living for ttl.
func (s *State) SpawnDrop(now time.Time, ttl time.Duration) (model.Drop, bool) {
	s.Lock()
	defer s.Unlock()

	item, ok := s.catalog.Pick(s.rnd, true)
	if !ok {
		return model.Drop{}, false
	}

	drop := &serverDrop{
		Drop: model.Drop{
			Id:        model.DropId(uuid.NewString()),
			Title:     item.Title,
			ImageUrl:  item.ImageUrl,
			CreatedAt: now.UnixMilli(),
			ExpiresAt: now.Add(ttl).UnixMilli(),
		},
		ItemId: item.ItemId,
		Qty:    s.rnd.Int63n(item.MaxQty) + 1,
	}
	s.drops[drop.Id] = drop

	return drop.Drop, true
}

// PutDrop inserts a drop rewarding qty of itemId.
func (s *State) PutDrop(drop model.Drop, itemId model.ItemId, qty int64) error {
	s.Lock()
	defer s.Unlock()

	if _, found := s.catalog.Item(itemId); !found {
		return fmt.Errorf("%d: %w", itemId, ErrUnknownItem)
	}
	if qty < 1 {
		return fmt.Errorf("%s: must be GTE 1", "qty")
	}
	s.drops[drop.Id] = &serverDrop{Drop: drop, ItemId: itemId, Qty: qty}

	return nil
}

// RemoveDrop silently removes a drop (it disappears from the next state).
func (s *State) RemoveDrop(id model.DropId) {
	s.Lock()
	defer s.Unlock()

	delete(s.drops, id)
}

// ExpireDrops removes drops past their expiry and forgets old claims.
func (s *State) ExpireDrops(now time.Time) int {
	s.Lock()
	defer s.Unlock()

	nowMs := now.UnixMilli()
	expired := 0
	for id, drop := range s.drops {
		if drop.ExpiresAt <= nowMs {
			delete(s.drops, id)
			expired++
		}
	}
	for id, expiresAt := range s.claimed {
		if expiresAt <= nowMs {
			delete(s.claimed, id)
		}
	}

	return expired
}

// Drops returns live drops ordered by creation.
func (s *State) Drops(now time.Time) []model.Drop {
	s.Lock()
	defer s.Unlock()

	nowMs := now.UnixMilli()
	drops := make([]model.Drop, 0, len(s.drops))
	for _, drop := range s.drops {
		if drop.ExpiresAt > nowMs {
			drops = append(drops, drop.Drop)
		}
	}
	sort.Slice(drops, func(i, j int) bool {
		if drops[i].CreatedAt != drops[j].CreatedAt {
			return drops[i].CreatedAt < drops[j].CreatedAt
		}
		return drops[i].Id < drops[j].Id
	})

	return drops
}

// Claim arbitrates a claim: the first claimant wins.
func (s *State) Claim(id model.DropId, userId model.UserId, now time.Time) model.ClaimResponse {
	s.Lock()
	defer s.Unlock()

	if _, found := s.claimed[id]; found {
		return model.ClaimResponse{Code: model.ClaimCodeAlreadyTaken}
	}
	drop, found := s.drops[id]
	if !found {
		return model.ClaimResponse{Code: model.ClaimCodeNotFound}
	}
	if drop.ExpiresAt <= now.UnixMilli() {
		delete(s.drops, id)
		return model.ClaimResponse{Code: model.ClaimCodeExpired}
	}

	delete(s.drops, id)
	s.claimed[id] = drop.ExpiresAt
	s.addLocked(userId, drop.ItemId, drop.Qty)

	item := s.itemLocked(drop.ItemId, drop.Qty)
	inventory := s.inventoryLocked(userId)
	bank := s.bankLocked()

	return model.ClaimResponse{
		Claimed:   true,
		Item:      &item,
		Qty:       drop.Qty,
		Inventory: &inventory,
		Bank:      &bank,
	}
}

// Inventory returns a user inventory.
func (s *State) Inventory(userId model.UserId) model.Inventory {
	s.Lock()
	defer s.Unlock()

	return s.inventoryLocked(userId)
}

// Bank returns the shared pool.
func (s *State) Bank() model.BankState {
	s.Lock()
	defer s.Unlock()

	return s.bankLocked()
}

// Touch marks the user as seen for presence.
func (s *State) Touch(userId model.UserId, eligible bool, now time.Time) {
	if userId <= 1 {
		return
	}

	s.Lock()
	defer s.Unlock()

	s.lastSeen[userId] = presence{at: now, eligible: eligible}
}

// Online counts users seen within the presence window.
func (s *State) Online(now time.Time) model.OnlineStats {
	s.Lock()
	defer s.Unlock()

	stats := model.OnlineStats{}
	for userId, p := range s.lastSeen {
		if now.Sub(p.at) > presenceWindow {
			delete(s.lastSeen, userId)
			continue
		}
		stats.Count++
		if p.eligible {
			stats.WhitelistCount++
		}
	}

	return stats
}

// Deposit moves user items to the bank.
func (s *State) Deposit(userId model.UserId, itemId model.ItemId, qty int64) model.BankDepositResponse {
	s.Lock()
	defer s.Unlock()

	if qty < 1 {
		return model.BankDepositResponse{Message: "Quantity must be at least 1"}
	}
	if s.inventory[userId][itemId] < qty {
		return model.BankDepositResponse{Message: "Not enough items"}
	}

	s.addLocked(userId, itemId, -qty)
	s.bank[itemId] += qty

	inventory := s.inventoryLocked(userId)
	bank := s.bankLocked()

	return model.BankDepositResponse{Success: true, Inventory: &inventory, Bank: &bank}
}

// OpenChest consumes one chest and grants a random reward.
func (s *State) OpenChest(userId model.UserId) model.ChestOpenResponse {
	s.Lock()
	defer s.Unlock()

	chestId := s.catalog.ChestItemId
	if chestId <= 0 || s.inventory[userId][chestId] < 1 {
		return model.ChestOpenResponse{Message: "No chests available"}
	}
	item, ok := s.catalog.Pick(s.rnd, false)
	if !ok {
		return model.ChestOpenResponse{Message: "The chest is empty"}
	}

	qty := s.rnd.Int63n(item.MaxQty) + 1
	s.addLocked(userId, chestId, -1)
	s.addLocked(userId, item.ItemId, qty)

	inventory := s.inventoryLocked(userId)

	return model.ChestOpenResponse{
		Opened: true,
		Reward: &model.ChestReward{
			ItemId:   item.ItemId,
			Title:    item.Title,
			ImageUrl: item.ImageUrl,
			Qty:      qty,
		},
		Inventory: &inventory,
	}
}

// AddPurchaseRequest files a pending chest purchase.
func (s *State) AddPurchaseRequest(userId model.UserId, qty int64, price, currency float64) model.ActionResponse {
	s.Lock()
	defer s.Unlock()

	if qty < 1 {
		return model.ActionResponse{Message: "Quantity must be at least 1"}
	}
	if price <= 0 {
		return model.ActionResponse{Message: "Invalid price"}
	}
	total := float64(qty) * price
	if total > currency {
		return model.ActionResponse{Message: "Not enough currency"}
	}

	s.nextPurId++
	s.purchases[s.nextPurId] = &model.PurchaseRequest{
		Id:            s.nextPurId,
		UserId:        userId,
		UserLogin:     fmt.Sprintf("user%d", userId),
		Qty:           qty,
		PricePerChest: price,
		TotalPrice:    total,
		UserCurrency:  currency,
		Status:        model.PurchaseStatusPending,
	}

	return model.ActionResponse{Success: true, Message: fmt.Sprintf("Request #%d sent", s.nextPurId)}
}

// AdminState builds the admin panel payload.
func (s *State) AdminState(targetUserId model.UserId) model.AdminState {
	s.Lock()
	defer s.Unlock()

	state := model.AdminState{
		ItemPool:         make([]model.InventoryItem, 0, len(s.catalog.Items)),
		PurchaseRequests: make([]model.PurchaseRequest, 0, len(s.purchases)),
		Bank:             s.bankLocked(),
	}
	for _, item := range s.catalog.Items {
		state.ItemPool = append(state.ItemPool, s.itemLocked(item.ItemId, 0))
	}
	for _, req := range s.purchases {
		state.PurchaseRequests = append(state.PurchaseRequests, *req)
	}
	sort.Slice(state.PurchaseRequests, func(i, j int) bool {
		return state.PurchaseRequests[i].Id < state.PurchaseRequests[j].Id
	})
	if targetUserId > 0 {
		inventory := s.inventoryLocked(targetUserId)
		state.TargetInventory = &inventory
	}

	return state
}

// Transfer executes a TransferOp atomically. Only mint increases the total quantity.
func (s *State) Transfer(op model.TransferOp) (model.TransferResult, error) {
	if err := op.Validate(); err != nil {
		return model.TransferResult{}, fmt.Errorf("%w: %v", ErrInvalidTransfer, err)
	}

	s.Lock()
	defer s.Unlock()

	if _, found := s.catalog.Item(op.ItemId); !found {
		return model.TransferResult{}, fmt.Errorf("%d: %w", op.ItemId, ErrUnknownItem)
	}

	// Debit
	switch op.FromType {
	case model.EndpointBank:
		if s.bank[op.ItemId] < op.Qty {
			return model.TransferResult{Message: "Not enough items in the bank"}, nil
		}
		s.bank[op.ItemId] -= op.Qty
	case model.EndpointUser:
		if s.inventory[op.FromUserId][op.ItemId] < op.Qty {
			return model.TransferResult{Message: "Not enough items in the user inventory"}, nil
		}
		s.addLocked(op.FromUserId, op.ItemId, -op.Qty)
	}

	// Credit
	result := model.TransferResult{Success: true, Message: op.Note}
	switch op.ToType {
	case model.EndpointBank:
		s.bank[op.ItemId] += op.Qty
	case model.EndpointUser:
		s.addLocked(op.ToUserId, op.ItemId, op.Qty)
	}

	// Touched snapshots
	touchedUserId := model.UserId(0)
	switch {
	case op.ToType == model.EndpointUser:
		touchedUserId = op.ToUserId
	case op.FromType == model.EndpointUser:
		touchedUserId = op.FromUserId
	}
	if touchedUserId > 0 {
		inventory := s.inventoryLocked(touchedUserId)
		result.TouchedInventory = &inventory
		result.TouchedUserId = &touchedUserId
	}
	if op.FromType == model.EndpointBank || op.ToType == model.EndpointBank {
		bank := s.bankLocked()
		result.Bank = &bank
	}

	return result, nil
}

// ProcessPurchase grants the chests and marks the request processed.
func (s *State) ProcessPurchase(id model.PurchaseId) (model.ActionResponse, error) {
	s.Lock()
	defer s.Unlock()

	req, found := s.purchases[id]
	if !found {
		return model.ActionResponse{}, fmt.Errorf("%d: %w", id, ErrUnknownPurchase)
	}
	if req.Status == model.PurchaseStatusProcessed {
		return model.ActionResponse{Message: "Already processed"}, nil
	}

	if s.catalog.ChestItemId > 0 {
		s.addLocked(req.UserId, s.catalog.ChestItemId, req.Qty)
	}
	req.Status = model.PurchaseStatusProcessed

	return model.ActionResponse{Success: true, Message: fmt.Sprintf("Request #%d processed", id)}, nil
}

// DeletePurchase removes a processed request.
func (s *State) DeletePurchase(id model.PurchaseId) (model.ActionResponse, error) {
	s.Lock()
	defer s.Unlock()

	req, found := s.purchases[id]
	if !found {
		return model.ActionResponse{}, fmt.Errorf("%d: %w", id, ErrUnknownPurchase)
	}
	if req.Status != model.PurchaseStatusProcessed {
		return model.ActionResponse{}, fmt.Errorf("%d: %w", id, ErrNotProcessed)
	}
	delete(s.purchases, id)

	return model.ActionResponse{Success: true, Message: fmt.Sprintf("Request #%d deleted", id)}, nil
}

// Grant adds items to a user inventory (fixtures).
func (s *State) Grant(userId model.UserId, itemId model.ItemId, qty int64) {
	s.Lock()
	defer s.Unlock()

	s.addLocked(userId, itemId, qty)
}

func (s *State) addLocked(userId model.UserId, itemId model.ItemId, qty int64) {
	items, found := s.inventory[userId]
	if !found {
		items = make(map[model.ItemId]int64)
		s.inventory[userId] = items
	}

	items[itemId] += qty
	if items[itemId] <= 0 {
		delete(items, itemId)
	}
}

func (s *State) itemLocked(itemId model.ItemId, qty int64) model.InventoryItem {
	item, _ := s.catalog.Item(itemId)

	return model.InventoryItem{
		ItemId:   itemId,
		Title:    item.Title,
		ImageUrl: item.ImageUrl,
		Qty:      qty,
	}
}

func (s *State) itemsLocked(held map[model.ItemId]int64) ([]model.InventoryItem, int64) {
	items := make([]model.InventoryItem, 0, len(held))
	total := int64(0)
	for itemId, qty := range held {
		if qty <= 0 {
			continue
		}
		items = append(items, s.itemLocked(itemId, qty))
		total += qty
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ItemId < items[j].ItemId
	})

	return items, total
}

func (s *State) inventoryLocked(userId model.UserId) model.Inventory {
	items, total := s.itemsLocked(s.inventory[userId])

	return model.Inventory{UserId: userId, Items: items, TotalQty: total}
}

func (s *State) bankLocked() model.BankState {
	items, total := s.itemsLocked(s.bank)

	return model.BankState{Items: items, TotalQty: total}
}

// NewState creates a new empty State object.
func NewState(catalog Catalog, rnd *rand.Rand) (*State, error) {
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &State{
		catalog:   catalog,
		rnd:       rnd,
		drops:     make(map[model.DropId]*serverDrop),
		claimed:   make(map[model.DropId]int64),
		inventory: make(map[model.UserId]map[model.ItemId]int64),
		bank:      make(map[model.ItemId]int64),
		purchases: make(map[model.PurchaseId]*model.PurchaseRequest),
		lastSeen:  make(map[model.UserId]presence),
	}, nil
}
