package admin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itiky/drop-engine/events"
	"github.com/itiky/drop-engine/model"
)

type (
	// API is the admin part of the action endpoint.
	API interface {
		AdminState(ctx context.Context, req model.AdminStateRequest) (*model.AdminState, error)
		AdminTransfer(ctx context.Context, req model.AdminTransferRequest) (*model.TransferResult, error)
		AdminPurchaseProcess(ctx context.Context, req model.AdminPurchaseRequest) (*model.ActionResponse, error)
		AdminPurchaseDelete(ctx context.Context, req model.AdminPurchaseRequest) (*model.ActionResponse, error)
	}

	// Engine is the viewer context the operations publish through.
	Engine interface {
		Session() model.EngineSession
		Bus() *events.Bus
		ReplaceSnapshots(inventory *model.Inventory, bank *model.BankState)
		Notify(level model.NoticeLevel, message string)
	}
)

// Ops implements the admin panel operations.
type Ops struct {
	sync.Mutex
	api    API
	engine Engine
	logger *zap.Logger
	// Purchase requests of the last fetched admin state
	requests map[model.PurchaseId]model.PurchaseRequest
}

// FetchAdminState loads the admin panel payload; targetUserId 0 skips the target inventory.
func (o *Ops) FetchAdminState(ctx context.Context, targetUserId model.UserId) (*model.AdminState, error) {
	auth, err := o.adminAuth("fetchState")
	if err != nil {
		return nil, err
	}

	state, err := o.api.AdminState(ctx, model.AdminStateRequest{Auth: auth, TargetUserId: targetUserId})
	if err != nil {
		o.logger.Debug("admin state failed", zap.Error(err))
		o.engine.Notify(model.NoticeError, "Could not load the admin panel, please try again")
		return nil, fmt.Errorf("fetchState: %w", err)
	}

	o.Lock()
	o.requests = make(map[model.PurchaseId]model.PurchaseRequest, len(state.PurchaseRequests))
	for _, req := range state.PurchaseRequests {
		o.requests[req.Id] = req
	}
	o.Unlock()

	bank := state.Bank
	o.engine.ReplaceSnapshots(nil, &bank)
	if state.TargetInventory != nil {
		o.publishInventory(auth.UserId, targetUserId, state.TargetInventory)
	}
	o.publishRequests()

	return state, nil
}

// Transfer executes a mint / bank / user transfer. A refused transfer returns a non successful result and no error.
func (o *Ops) Transfer(ctx context.Context, op model.TransferOp) (*model.TransferResult, error) {
	auth, err := o.adminAuth("transfer")
	if err != nil {
		return nil, err
	}

	if err := op.Validate(); err != nil {
		o.engine.Notify(model.NoticeError, fmt.Sprintf("Invalid transfer: %v", err))
		return nil, fmt.Errorf("transfer: %w: %v", ErrInvalidTransfer, err)
	}

	opStart := time.Now()
	res, err := o.api.AdminTransfer(ctx, model.AdminTransferRequest{TransferOp: op, Auth: auth})
	if err != nil {
		o.logger.Debug("transfer failed", zap.Duration("dur", time.Since(opStart)), zap.Error(err))
		o.engine.Notify(model.NoticeError, "Transfer failed, please try again")
		return nil, fmt.Errorf("transfer: %w", err)
	}

	if !res.Success {
		o.engine.Notify(model.NoticeInfo, messageOr(res.Message, "Transfer refused"))
		return res, nil
	}

	o.logger.Info("transfer",
		zap.String("from", string(op.FromType)),
		zap.String("to", string(op.ToType)),
		zap.Int64("itemId", int64(op.ItemId)),
		zap.Int64("qty", op.Qty),
		zap.Duration("dur", time.Since(opStart)),
	)

	if res.Bank != nil {
		o.engine.ReplaceSnapshots(nil, res.Bank)
	}
	if res.TouchedInventory != nil {
		touchedUserId := res.TouchedInventory.UserId
		if res.TouchedUserId != nil {
			touchedUserId = *res.TouchedUserId
		}
		o.publishInventory(auth.UserId, touchedUserId, res.TouchedInventory)
	}
	o.engine.Notify(model.NoticeSuccess, messageOr(res.Message, fmt.Sprintf("Transferred x%d", op.Qty)))

	return res, nil
}

// ProcessPurchaseRequest grants the requested chests and marks the request processed.
func (o *Ops) ProcessPurchaseRequest(ctx context.Context, id model.PurchaseId) (bool, error) {
	auth, err := o.adminAuth("processPurchase")
	if err != nil {
		return false, err
	}

	res, err := o.api.AdminPurchaseProcess(ctx, model.AdminPurchaseRequest{Id: id, Auth: auth})
	if err != nil {
		o.logger.Debug("purchase process failed", zap.Int64("id", int64(id)), zap.Error(err))
		o.engine.Notify(model.NoticeError, "Could not process the request, please try again")
		return false, fmt.Errorf("processPurchase: %w", err)
	}
	if !res.Success {
		o.engine.Notify(model.NoticeInfo, messageOr(res.Message, "Request not processed"))
		return false, nil
	}

	o.Lock()
	if req, found := o.requests[id]; found {
		req.Status = model.PurchaseStatusProcessed
		o.requests[id] = req
	}
	o.Unlock()

	o.publishRequests()
	o.engine.Notify(model.NoticeSuccess, messageOr(res.Message, fmt.Sprintf("Request #%d processed", id)))

	return true, nil
}

// DeletePurchaseRequest removes a request already marked processed.
func (o *Ops) DeletePurchaseRequest(ctx context.Context, id model.PurchaseId) (bool, error) {
	auth, err := o.adminAuth("deletePurchase")
	if err != nil {
		return false, err
	}

	o.Lock()
	req, found := o.requests[id]
	o.Unlock()
	if !found {
		o.engine.Notify(model.NoticeError, fmt.Sprintf("Request #%d not found", id))
		return false, fmt.Errorf("deletePurchase: %d: %w", id, ErrUnknownPurchase)
	}
	if req.Status != model.PurchaseStatusProcessed {
		o.engine.Notify(model.NoticeError, fmt.Sprintf("Request #%d must be processed first", id))
		return false, fmt.Errorf("deletePurchase: %d: %w", id, ErrNotProcessed)
	}

	res, err := o.api.AdminPurchaseDelete(ctx, model.AdminPurchaseRequest{Id: id, Auth: auth})
	if err != nil {
		o.logger.Debug("purchase delete failed", zap.Int64("id", int64(id)), zap.Error(err))
		o.engine.Notify(model.NoticeError, "Could not delete the request, please try again")
		return false, fmt.Errorf("deletePurchase: %w", err)
	}
	if !res.Success {
		o.engine.Notify(model.NoticeInfo, messageOr(res.Message, "Request not deleted"))
		return false, nil
	}

	o.Lock()
	delete(o.requests, id)
	o.Unlock()

	o.publishRequests()
	o.engine.Notify(model.NoticeSuccess, messageOr(res.Message, fmt.Sprintf("Request #%d deleted", id)))

	return true, nil
}

// PurchaseRequests returns the cached requests ordered by id.
func (o *Ops) PurchaseRequests() []model.PurchaseRequest {
	o.Lock()
	defer o.Unlock()

	requests := make([]model.PurchaseRequest, 0, len(o.requests))
	for _, req := range o.requests {
		requests = append(requests, req)
	}
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].Id < requests[j].Id
	})

	return requests
}

// adminAuth gates every operation on the admin check.
func (o *Ops) adminAuth(operation string) (model.Auth, error) {
	session := o.engine.Session()
	if !session.Auth.Admin {
		o.engine.Notify(model.NoticeError, "Admin access required")
		return model.Auth{}, fmt.Errorf("%s: %w", operation, ErrNotAdmin)
	}

	return model.Auth{UserId: session.Auth.UserId, GroupId: session.Auth.GroupId}, nil
}

// publishInventory routes the viewer's own inventory through the engine, others to the admin topic.
func (o *Ops) publishInventory(viewerId, userId model.UserId, inventory *model.Inventory) {
	if userId == viewerId {
		o.engine.ReplaceSnapshots(inventory, nil)
		return
	}

	o.engine.Bus().Publish(events.TopicAdminInventory, events.AdminInventory{
		UserId:    userId,
		Inventory: inventory.Clone(),
	})
}

func (o *Ops) publishRequests() {
	o.engine.Bus().Publish(events.TopicPurchaseRequests, o.PurchaseRequests())
}

func messageOr(message, fallback string) string {
	if message != "" {
		return message
	}

	return fallback
}

// NewOps creates a new Ops object.
func NewOps(api API, engine Engine, logger *zap.Logger) (*Ops, error) {
	if api == nil {
		return nil, fmt.Errorf("%s: nil", "api")
	}
	if engine == nil {
		return nil, fmt.Errorf("%s: nil", "engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ops{
		api:      api,
		engine:   engine,
		logger:   logger.Named("admin"),
		requests: make(map[model.PurchaseId]model.PurchaseRequest),
	}, nil
}
