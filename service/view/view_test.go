package view

import (
	"context"
	"math/rand"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/model"
	"github.com/itiky/drop-engine/service/client"
	"github.com/itiky/drop-engine/service/server"
	"github.com/itiky/drop-engine/toggle"
	"github.com/itiky/drop-engine/transport"
)

var testPolicy = access.Policy{
	AdminGroups: []model.GroupId{1},
	GuestGroup:  3,
}

func newTestView(t *testing.T, onChange ChangeFn) (*View, *client.Engine, *server.DropService) {
	catalog := server.Catalog{
		ChestItemId: 1,
		Items: []server.CatalogItem{
			{ItemId: 1, Title: "Chest", Weight: 1, MaxQty: 1},
			{ItemId: 2, Title: "Coin", Weight: 1, MaxQty: 1},
		},
	}

	svc, err := server.NewDropService(server.Config{
		Path:        "/api/drops",
		SpawnPeriod: time.Hour,
		DropTTL:     time.Minute,
		Policy:      testPolicy,
	}, catalog, server.WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(srv.Close)

	c, err := transport.NewClient(srv.URL+"/api/drops", time.Second)
	require.NoError(t, err)

	engine, err := client.New(client.Config{
		StatePeriod:  time.Hour,
		OnlinePeriod: time.Hour,
		RenderPeriod: time.Hour,
		ChestItemId:  1,
		ChestPrice:   100,
	}, client.Deps{
		API:      c,
		Toggle:   toggle.NewMemoryOrigin().Context(""),
		Identity: access.StaticIdentity{UserId: 42, GroupId: 5, Currency: 150},
		Policy:   testPolicy,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Dispose)
	require.NoError(t, engine.Init(context.Background()))

	v, err := NewView(engine, 1, onChange)
	require.NoError(t, err)
	t.Cleanup(v.Close)

	return v, engine, svc
}

func Test_View_Validation(t *testing.T) {
	_, err := NewView(nil, 1, nil)
	require.Error(t, err)
}

func Test_View_Flow(t *testing.T) {
	var (
		mu     sync.Mutex
		states []ViewState
	)
	onChange := func(state ViewState) {
		mu.Lock()
		defer mu.Unlock()

		states = append(states, state)
	}

	v, _, svc := newTestView(t, onChange)
	ctx := context.Background()

	svc.State().Grant(42, 2, 3)
	svc.State().Grant(42, 1, 1)

	require.NoError(t, v.Attach(ctx))
	require.NoError(t, v.Attach(ctx))
	state := v.State()
	require.EqualValues(t, 3, state.Inventory.Held(2))
	require.EqualValues(t, 1, state.Chests)
	require.NotNil(t, state.Bank)

	// bounds are checked against the held quantity
	_, err := v.DepositToBank(ctx, 2, 4)
	require.ErrorIs(t, err, ErrInvalidQty)
	_, err = v.DepositToBank(ctx, 2, 0)
	require.ErrorIs(t, err, ErrInvalidQty)

	ok, err := v.DepositToBank(ctx, 2, 3)
	require.NoError(t, err)
	require.True(t, ok)
	state = v.State()
	require.Zero(t, state.Inventory.Held(2))
	require.EqualValues(t, 3, state.Bank.Held(2))

	reward, err := v.OpenChest(ctx)
	require.NoError(t, err)
	require.NotNil(t, reward)
	require.Zero(t, v.State().Chests)

	// 2 x 100 > 150
	ok, err = v.RequestChestPurchase(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = v.RequestChestPurchase(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	mu.Lock()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	mu.Unlock()
	require.Equal(t, v.State(), last)

	// copies handed out are not shared
	state = v.State()
	state.Inventory.Items = nil
	require.NotEmpty(t, v.State().Inventory.Items)

	// detached views stop following the engine
	v.Close()
	held := v.State().Inventory.Held(2)
	svc.State().Grant(42, 2, 1)
	require.NoError(t, v.actions.RefreshEconomy(ctx))
	require.Equal(t, held, v.State().Inventory.Held(2))
}
