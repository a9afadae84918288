package server

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/model"
	"github.com/itiky/drop-engine/transport"
)

var (
	testNow = time.UnixMilli(1_700_000_000_000)

	testCatalog = Catalog{
		ChestItemId: 1,
		Items: []CatalogItem{
			{ItemId: 1, Title: "Chest", Weight: 1, MaxQty: 1},
			{ItemId: 2, Title: "Coin", Weight: 1, MaxQty: 1},
		},
	}

	testPolicy = access.Policy{
		AdminGroups: []model.GroupId{1},
		GuestGroup:  3,
	}

	testUser  = model.Auth{UserId: 42, GroupId: 5}
	testUser2 = model.Auth{UserId: 43, GroupId: 5}
	testAdmin = model.Auth{UserId: 2, GroupId: 1}
	testGuest = model.Auth{UserId: 1, GroupId: 3}
)

func newTestService(t *testing.T, spawnPeriod time.Duration, nowFn func() time.Time) (*DropService, *transport.Client) {
	svc, err := NewDropService(Config{
		Path:          "/api/drops",
		SpawnPeriod:   spawnPeriod,
		DropTTL:       time.Minute,
		Policy:        testPolicy,
		MonitorPeriod: time.Minute,
	}, testCatalog, WithClock(nowFn), WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)

	c, err := transport.NewClient(srv.URL+"/api/drops", time.Second)
	require.NoError(t, err)

	return svc, c
}

func fixedNow() time.Time {
	return testNow
}

func putTestDrop(t *testing.T, svc *DropService, id string, ttl time.Duration, qty int64) {
	drop := model.Drop{
		Id:        model.DropId(id),
		Title:     "Coin",
		CreatedAt: testNow.Add(-time.Second).UnixMilli(),
		ExpiresAt: testNow.Add(ttl).UnixMilli(),
	}
	require.NoError(t, svc.State().PutDrop(drop, 2, qty))
}

func requireAPICode(t *testing.T, err error, code string) {
	apiErr := &transport.APIError{}
	require.True(t, errors.As(err, &apiErr), "APIError expected: %v", err)
	require.Equal(t, code, apiErr.Code)
}

func Test_Catalog_GenerateAndLoad(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "data", "catalog.json")

	require.NoError(t, GenAndSaveCatalog(filePath, 20, rand.New(rand.NewSource(1))))

	catalog, err := LoadCatalog(filePath)
	require.NoError(t, err)
	require.Len(t, catalog.Items, 20)
	require.Equal(t, model.ItemId(1), catalog.ChestItemId)

	chest, found := catalog.Item(1)
	require.True(t, found)
	require.Equal(t, "Chest", chest.Title)

	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		item, ok := catalog.Pick(rnd, false)
		require.True(t, ok)
		require.NotEqual(t, catalog.ChestItemId, item.ItemId)
	}

	_, err = GenerateCatalog(1, rnd)
	require.Error(t, err)
}

func Test_Catalog_Validate(t *testing.T) {
	require.NoError(t, testCatalog.Validate())

	require.Error(t, Catalog{}.Validate())
	require.Error(t, Catalog{Items: []CatalogItem{{ItemId: 0, MaxQty: 1}}}.Validate())
	require.Error(t, Catalog{Items: []CatalogItem{{ItemId: 1, MaxQty: 1}, {ItemId: 1, MaxQty: 1}}}.Validate())
	require.Error(t, Catalog{Items: []CatalogItem{{ItemId: 1, MaxQty: 0}}}.Validate())
	require.Error(t, Catalog{ChestItemId: 5, Items: []CatalogItem{{ItemId: 1, MaxQty: 1}}}.Validate())
}

func Test_DropService_Validation(t *testing.T) {
	_, err := NewDropService(Config{SpawnPeriod: time.Second, DropTTL: time.Second}, testCatalog)
	require.Error(t, err)

	_, err = NewDropService(Config{Path: "/", DropTTL: time.Second}, testCatalog)
	require.Error(t, err)

	_, err = NewDropService(Config{Path: "/", SpawnPeriod: time.Second}, testCatalog)
	require.Error(t, err)

	_, err = NewDropService(Config{Path: "/", SpawnPeriod: time.Second, DropTTL: time.Second}, Catalog{})
	require.Error(t, err)
}

func Test_DropService_State(t *testing.T) {
	svc, c := newTestService(t, time.Hour, fixedNow)
	ctx := context.Background()

	putTestDrop(t, svc, "d1", 5*time.Second, 1)
	putTestDrop(t, svc, "d0", -time.Second, 1)

	res, err := c.State(ctx, model.StateRequest{Auth: testUser})
	require.NoError(t, err)
	require.Equal(t, testNow.UnixMilli(), res.ServerTimeMs)
	require.Len(t, res.Drops, 1)
	require.Equal(t, model.DropId("d1"), res.Drops[0].Id)
	require.NotNil(t, res.Inventory)
	require.NotNil(t, res.Bank)
	require.NotNil(t, res.Online)
	require.EqualValues(t, 1, res.Online.Count)
	require.EqualValues(t, 1, res.Online.WhitelistCount)

	// guests get no inventory and are not counted
	res, err = c.State(ctx, model.StateRequest{Auth: testGuest})
	require.NoError(t, err)
	require.Nil(t, res.Inventory)

	online, err := c.Online(ctx, testGuest)
	require.NoError(t, err)
	require.EqualValues(t, 1, online.Count)
}

func Test_DropService_Claim(t *testing.T) {
	svc, c := newTestService(t, time.Hour, fixedNow)
	ctx := context.Background()

	putTestDrop(t, svc, "d1", 5*time.Second, 2)
	putTestDrop(t, svc, "d2", -time.Second, 1)

	// guest
	res, err := c.Claim(ctx, model.ClaimRequest{DropId: "d1", Auth: testGuest})
	require.NoError(t, err)
	require.False(t, res.Claimed)
	require.Equal(t, model.ClaimCodeForbidden, res.Code)

	// winner
	res, err = c.Claim(ctx, model.ClaimRequest{DropId: "d1", Auth: testUser})
	require.NoError(t, err)
	require.True(t, res.Claimed)
	require.NotNil(t, res.Item)
	require.Equal(t, model.ItemId(2), res.Item.ItemId)
	require.EqualValues(t, 2, res.Qty)
	require.EqualValues(t, 2, res.Inventory.Held(2))
	require.Equal(t, 2, svc.Monitor().Served(string(model.ActionClaim)))

	// loser
	res, err = c.Claim(ctx, model.ClaimRequest{DropId: "d1", Auth: testUser2})
	require.NoError(t, err)
	require.False(t, res.Claimed)
	require.Equal(t, model.ClaimCodeAlreadyTaken, res.Code)

	// expired
	res, err = c.Claim(ctx, model.ClaimRequest{DropId: "d2", Auth: testUser})
	require.NoError(t, err)
	require.Equal(t, model.ClaimCodeExpired, res.Code)

	// unknown
	res, err = c.Claim(ctx, model.ClaimRequest{DropId: "d3", Auth: testUser})
	require.NoError(t, err)
	require.Equal(t, model.ClaimCodeNotFound, res.Code)

	// malformed
	_, err = c.Claim(ctx, model.ClaimRequest{Auth: testUser})
	requireAPICode(t, err, CodeBadRequest)
}

func Test_State_ClaimRace(t *testing.T) {
	state, err := NewState(testCatalog, nil)
	require.NoError(t, err)
	require.NoError(t, state.PutDrop(model.Drop{Id: "d1", ExpiresAt: testNow.Add(time.Minute).UnixMilli()}, 2, 1))

	const claimants = 20

	var wg sync.WaitGroup
	results := make([]model.ClaimResponse, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = state.Claim("d1", model.UserId(100+i), testNow)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, res := range results {
		if res.Claimed {
			wins++
			continue
		}
		require.Equal(t, model.ClaimCodeAlreadyTaken, res.Code)
	}
	require.Equal(t, 1, wins)
}

func Test_DropService_DepositAndChest(t *testing.T) {
	svc, c := newTestService(t, time.Hour, fixedNow)
	ctx := context.Background()

	svc.State().Grant(testUser.UserId, 2, 3)

	// insufficient
	depRes, err := c.BankDeposit(ctx, model.BankDepositRequest{Auth: testUser, ItemId: 2, Qty: 4})
	require.NoError(t, err)
	require.False(t, depRes.Success)
	require.NotEmpty(t, depRes.Message)

	depRes, err = c.BankDeposit(ctx, model.BankDepositRequest{Auth: testUser, ItemId: 2, Qty: 2})
	require.NoError(t, err)
	require.True(t, depRes.Success)
	require.EqualValues(t, 1, depRes.Inventory.Held(2))
	require.EqualValues(t, 2, depRes.Bank.Held(2))

	bank, err := c.BankState(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, bank.TotalQty)

	// no chests
	chestRes, err := c.ChestOpen(ctx, model.ChestOpenRequest{Auth: testUser})
	require.NoError(t, err)
	require.False(t, chestRes.Opened)

	svc.State().Grant(testUser.UserId, 1, 1)
	chestRes, err = c.ChestOpen(ctx, model.ChestOpenRequest{Auth: testUser})
	require.NoError(t, err)
	require.True(t, chestRes.Opened)
	require.NotNil(t, chestRes.Reward)
	require.Equal(t, model.ItemId(2), chestRes.Reward.ItemId)
	require.EqualValues(t, 0, chestRes.Inventory.Held(1))
	require.EqualValues(t, 2, chestRes.Inventory.Held(2))

	// guests are refused
	_, err = c.Inventory(ctx, testGuest)
	requireAPICode(t, err, CodeForbidden)
}

func Test_DropService_Transfer(t *testing.T) {
	svc, c := newTestService(t, time.Hour, fixedNow)
	ctx := context.Background()

	transfer := func(op model.TransferOp) (*model.TransferResult, error) {
		return c.AdminTransfer(ctx, model.AdminTransferRequest{TransferOp: op, Auth: testAdmin})
	}

	// mint -> bank
	res, err := transfer(model.TransferOp{FromType: model.EndpointMint, ToType: model.EndpointBank, ItemId: 2, Qty: 3})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Nil(t, res.TouchedInventory)
	require.NotNil(t, res.Bank)
	require.EqualValues(t, 3, res.Bank.TotalQty)

	// bank -> user
	res, err = transfer(model.TransferOp{FromType: model.EndpointBank, ToType: model.EndpointUser, ToUserId: testUser.UserId, ItemId: 2, Qty: 2})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, testUser.UserId, *res.TouchedUserId)
	require.EqualValues(t, 2, res.TouchedInventory.Held(2))
	require.EqualValues(t, 1, res.Bank.TotalQty)

	// user -> user conserves
	res, err = transfer(model.TransferOp{FromType: model.EndpointUser, FromUserId: testUser.UserId, ToType: model.EndpointUser, ToUserId: testUser2.UserId, ItemId: 2, Qty: 1})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Nil(t, res.Bank)
	{
		inv := svc.State().Inventory(testUser.UserId)
		require.EqualValues(t, 1, inv.Held(2))
	}
	{
		inv := svc.State().Inventory(testUser2.UserId)
		require.EqualValues(t, 1, inv.Held(2))
	}

	// insufficient
	res, err = transfer(model.TransferOp{FromType: model.EndpointBank, ToType: model.EndpointUser, ToUserId: testUser.UserId, ItemId: 2, Qty: 5})
	require.NoError(t, err)
	require.False(t, res.Success)

	// malformed
	_, err = transfer(model.TransferOp{FromType: model.EndpointBank, ToType: model.EndpointBank, ItemId: 2, Qty: 1})
	requireAPICode(t, err, CodeBadRequest)
	_, err = transfer(model.TransferOp{FromType: model.EndpointMint, ToType: model.EndpointBank, ItemId: 99, Qty: 1})
	requireAPICode(t, err, CodeBadRequest)

	// non admin
	_, err = c.AdminTransfer(ctx, model.AdminTransferRequest{
		TransferOp: model.TransferOp{FromType: model.EndpointMint, ToType: model.EndpointBank, ItemId: 2, Qty: 1},
		Auth:       testUser,
	})
	requireAPICode(t, err, CodeForbidden)

	state, err := c.AdminState(ctx, model.AdminStateRequest{Auth: testAdmin, TargetUserId: testUser2.UserId})
	require.NoError(t, err)
	require.Len(t, state.ItemPool, 2)
	require.NotNil(t, state.TargetInventory)
	require.EqualValues(t, 1, state.TargetInventory.Held(2))
	require.EqualValues(t, 1, state.Bank.TotalQty)
}

func Test_DropService_PurchaseRequests(t *testing.T) {
	svc, c := newTestService(t, time.Hour, fixedNow)
	ctx := context.Background()

	res, err := c.PurchaseRequest(ctx, model.PurchaseRequestRequest{Auth: testUser, Qty: 2, Price: 100, UserCurrency: 150})
	require.NoError(t, err)
	require.False(t, res.Success)

	res, err = c.PurchaseRequest(ctx, model.PurchaseRequestRequest{Auth: testUser, Qty: 2, Price: 100, UserCurrency: 250})
	require.NoError(t, err)
	require.True(t, res.Success)

	state, err := c.AdminState(ctx, model.AdminStateRequest{Auth: testAdmin})
	require.NoError(t, err)
	require.Len(t, state.PurchaseRequests, 1)
	req := state.PurchaseRequests[0]
	require.Equal(t, model.PurchaseStatusPending, req.Status)
	require.EqualValues(t, 200, req.TotalPrice)

	// pending requests can not be deleted
	_, err = c.AdminPurchaseDelete(ctx, model.AdminPurchaseRequest{Id: req.Id, Auth: testAdmin})
	requireAPICode(t, err, CodeConflict)

	res, err = c.AdminPurchaseProcess(ctx, model.AdminPurchaseRequest{Id: req.Id, Auth: testAdmin})
	require.NoError(t, err)
	require.True(t, res.Success)
	{
		inv := svc.State().Inventory(testUser.UserId)
		require.EqualValues(t, 2, inv.Held(1))
	}

	res, err = c.AdminPurchaseProcess(ctx, model.AdminPurchaseRequest{Id: req.Id, Auth: testAdmin})
	require.NoError(t, err)
	require.False(t, res.Success)

	res, err = c.AdminPurchaseDelete(ctx, model.AdminPurchaseRequest{Id: req.Id, Auth: testAdmin})
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = c.AdminPurchaseDelete(ctx, model.AdminPurchaseRequest{Id: req.Id, Auth: testAdmin})
	requireAPICode(t, err, CodeNotFound)
}

func Test_DropService_Envelope(t *testing.T) {
	svc, _ := newTestService(t, time.Hour, fixedNow)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/drops?action=nope")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.JSONEq(t, `{"ok":false,"error":{"code":"UNKNOWN_ACTION","message":"unknown action: \"nope\""}}`, string(body))

	resp, err = http.Get(srv.URL + "/api/drops?action=claim")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/drops?action=state&user_id=abc")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func Test_DropService_Worker(t *testing.T) {
	svc, _ := newTestService(t, 10*time.Millisecond, time.Now)

	svc.Start()
	svc.Start()
	require.Eventually(t, func() bool {
		return len(svc.State().Drops(time.Now())) >= 2
	}, time.Second, 5*time.Millisecond)
	svc.Stop()
	svc.Stop()

	cnt := len(svc.State().Drops(time.Now()))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, cnt, len(svc.State().Drops(time.Now())))
}
