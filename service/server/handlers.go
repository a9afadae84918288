package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/model"
)

// Error codes of the {ok: false} envelope.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeUnknownAction = "UNKNOWN_ACTION"
	CodeInternal      = "INTERNAL"
)

type (
	// actionFn handles one action and returns the envelope data.
	actionFn func(r *http.Request) (interface{}, error)

	action struct {
		method string
		fn     actionFn
	}

	// apiError is rendered as an {ok: false} envelope.
	apiError struct {
		status  int
		code    string
		message string
	}
)

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func badRequest(format string, args ...interface{}) *apiError {
	return &apiError{status: http.StatusBadRequest, code: CodeBadRequest, message: fmt.Sprintf(format, args...)}
}

func forbidden() *apiError {
	return &apiError{status: http.StatusForbidden, code: CodeForbidden, message: "access denied"}
}

// actions builds the action dispatch table.
func (s *DropService) actions() map[model.Action]action {
	return map[model.Action]action{
		model.ActionState:                {method: http.MethodGet, fn: s.handleState},
		model.ActionOnline:               {method: http.MethodGet, fn: s.handleOnline},
		model.ActionClaim:                {method: http.MethodPost, fn: s.handleClaim},
		model.ActionInventory:            {method: http.MethodGet, fn: s.handleInventory},
		model.ActionBankState:            {method: http.MethodGet, fn: s.handleBankState},
		model.ActionBankDeposit:          {method: http.MethodPost, fn: s.handleBankDeposit},
		model.ActionChestOpen:            {method: http.MethodPost, fn: s.handleChestOpen},
		model.ActionPurchaseRequest:      {method: http.MethodPost, fn: s.handlePurchaseRequest},
		model.ActionAdminState:           {method: http.MethodGet, fn: s.handleAdminState},
		model.ActionAdminTransfer:        {method: http.MethodPost, fn: s.handleAdminTransfer},
		model.ActionAdminPurchaseProcess: {method: http.MethodPost, fn: s.handleAdminPurchaseProcess},
		model.ActionAdminPurchaseDelete:  {method: http.MethodPost, fn: s.handleAdminPurchaseDelete},
	}
}

// serveAction dispatches the request by the "action" query parameter.
func (s *DropService) serveAction(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := model.Action(r.URL.Query().Get("action"))

	a, found := s.handlers[name]
	if !found {
		writeError(w, &apiError{status: http.StatusBadRequest, code: CodeUnknownAction, message: fmt.Sprintf("unknown action: %q", name)})
		return
	}
	if r.Method != a.method {
		writeError(w, &apiError{status: http.StatusMethodNotAllowed, code: CodeBadRequest, message: fmt.Sprintf("%s expects %s", name, a.method)})
		return
	}

	data, err := a.fn(r)
	s.monitor.ActionServed(string(name), time.Since(start))
	if err != nil {
		apiErr := &apiError{}
		if !errors.As(err, &apiErr) {
			apiErr = toAPIError(err)
		}
		s.logger.Debug("action failed", zap.String("action", string(name)), zap.Error(err))
		writeError(w, apiErr)
		return
	}

	writeData(w, data)
}

func (s *DropService) handleState(r *http.Request) (interface{}, error) {
	auth, err := queryAuth(r)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	identity := access.Identity{UserId: auth.UserId, GroupId: auth.GroupId}
	s.state.Touch(auth.UserId, s.policy.IsEligible(identity), now)

	bank := s.state.Bank()
	online := s.state.Online(now)
	res := model.StateResponse{
		ServerTimeMs: now.UnixMilli(),
		Drops:        s.state.Drops(now),
		Bank:         &bank,
		Online:       &online,
	}
	if !s.policy.IsGuest(identity) {
		inventory := s.state.Inventory(auth.UserId)
		res.Inventory = &inventory
	}

	return res, nil
}

func (s *DropService) handleOnline(r *http.Request) (interface{}, error) {
	return model.OnlineResponse{Online: s.state.Online(s.nowFn())}, nil
}

func (s *DropService) handleClaim(r *http.Request) (interface{}, error) {
	req := model.ClaimRequest{}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if req.DropId == "" {
		return nil, badRequest("%s: empty", "drop_id")
	}

	if !s.eligible(req.Auth) {
		return model.ClaimResponse{Code: model.ClaimCodeForbidden}, nil
	}

	res := s.state.Claim(req.DropId, req.UserId, s.nowFn())
	if res.Claimed {
		s.monitor.ClaimWon()
		s.logger.Debug("drop claimed", zap.String("dropId", string(req.DropId)), zap.Int64("userId", int64(req.UserId)))
	}

	return res, nil
}

func (s *DropService) handleInventory(r *http.Request) (interface{}, error) {
	auth, err := queryAuth(r)
	if err != nil {
		return nil, err
	}
	if !s.eligible(auth) {
		return nil, forbidden()
	}

	return model.InventoryResponse{Inventory: s.state.Inventory(auth.UserId)}, nil
}

func (s *DropService) handleBankState(r *http.Request) (interface{}, error) {
	return model.BankStateResponse{Bank: s.state.Bank()}, nil
}

func (s *DropService) handleBankDeposit(r *http.Request) (interface{}, error) {
	req := model.BankDepositRequest{}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if !s.eligible(req.Auth) {
		return nil, forbidden()
	}

	return s.state.Deposit(req.UserId, req.ItemId, req.Qty), nil
}

func (s *DropService) handleChestOpen(r *http.Request) (interface{}, error) {
	req := model.ChestOpenRequest{}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if !s.eligible(req.Auth) {
		return nil, forbidden()
	}

	return s.state.OpenChest(req.UserId), nil
}

func (s *DropService) handlePurchaseRequest(r *http.Request) (interface{}, error) {
	req := model.PurchaseRequestRequest{}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if !s.eligible(req.Auth) {
		return nil, forbidden()
	}

	return s.state.AddPurchaseRequest(req.UserId, req.Qty, req.Price, req.UserCurrency), nil
}

func (s *DropService) handleAdminState(r *http.Request) (interface{}, error) {
	auth, err := queryAuth(r)
	if err != nil {
		return nil, err
	}
	if !s.admin(auth) {
		return nil, forbidden()
	}

	targetUserId, err := queryInt(r, "target_user_id")
	if err != nil {
		return nil, err
	}

	return s.state.AdminState(model.UserId(targetUserId)), nil
}

func (s *DropService) handleAdminTransfer(r *http.Request) (interface{}, error) {
	req := model.AdminTransferRequest{}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if !s.admin(req.Auth) {
		return nil, forbidden()
	}

	res, err := s.state.Transfer(req.TransferOp)
	if err != nil {
		return nil, err
	}
	if res.Success {
		s.logger.Info("transfer",
			zap.String("from", string(req.FromType)),
			zap.String("to", string(req.ToType)),
			zap.Int64("itemId", int64(req.ItemId)),
			zap.Int64("qty", req.Qty),
			zap.Int64("adminId", int64(req.UserId)),
		)
	}

	return res, nil
}

func (s *DropService) handleAdminPurchaseProcess(r *http.Request) (interface{}, error) {
	req := model.AdminPurchaseRequest{}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if !s.admin(req.Auth) {
		return nil, forbidden()
	}

	return s.state.ProcessPurchase(req.Id)
}

func (s *DropService) handleAdminPurchaseDelete(r *http.Request) (interface{}, error) {
	req := model.AdminPurchaseRequest{}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if !s.admin(req.Auth) {
		return nil, forbidden()
	}

	return s.state.DeletePurchase(req.Id)
}

func (s *DropService) eligible(auth model.Auth) bool {
	return s.policy.IsEligible(access.Identity{UserId: auth.UserId, GroupId: auth.GroupId})
}

func (s *DropService) admin(auth model.Auth) bool {
	return s.policy.IsAdmin(access.Identity{UserId: auth.UserId, GroupId: auth.GroupId})
}

// toAPIError maps the state errors to envelope errors.
func toAPIError(err error) *apiError {
	switch {
	case errors.Is(err, ErrInvalidTransfer), errors.Is(err, ErrUnknownItem):
		return &apiError{status: http.StatusBadRequest, code: CodeBadRequest, message: err.Error()}
	case errors.Is(err, ErrUnknownPurchase):
		return &apiError{status: http.StatusNotFound, code: CodeNotFound, message: err.Error()}
	case errors.Is(err, ErrNotProcessed):
		return &apiError{status: http.StatusConflict, code: CodeConflict, message: err.Error()}
	default:
		return &apiError{status: http.StatusInternalServerError, code: CodeInternal, message: "internal server error"}
	}
}

func queryAuth(r *http.Request) (model.Auth, error) {
	userId, err := queryInt(r, "user_id")
	if err != nil {
		return model.Auth{}, err
	}
	groupId, err := queryInt(r, "group_id")
	if err != nil {
		return model.Auth{}, err
	}

	return model.Auth{UserId: model.UserId(userId), GroupId: model.GroupId(groupId)}, nil
}

func queryInt(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest("%s: invalid: %q", key, raw)
	}

	return v, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return badRequest("empty body")
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("JSON decode: %v", err)
	}

	return nil
}

func writeData(w http.ResponseWriter, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, &apiError{status: http.StatusInternalServerError, code: CodeInternal, message: "JSON marshal"})
		return
	}

	writeEnvelope(w, http.StatusOK, model.Envelope{Ok: true, Data: raw})
}

func writeError(w http.ResponseWriter, apiErr *apiError) {
	raw, _ := json.Marshal(model.ErrorBody{Code: apiErr.code, Message: apiErr.message})

	writeEnvelope(w, apiErr.status, model.Envelope{Ok: false, Error: raw})
}

func writeEnvelope(w http.ResponseWriter, status int, envelope model.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope)
}
