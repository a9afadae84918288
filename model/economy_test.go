package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_TransferOp_Validate(t *testing.T) {
	type testCase struct {
		name  string
		op    TransferOp
		valid bool
	}

	testCases := []testCase{
		{name: "mint to bank", op: TransferOp{FromType: EndpointMint, ToType: EndpointBank, ItemId: 2, Qty: 3}, valid: true},
		{name: "mint to user", op: TransferOp{FromType: EndpointMint, ToType: EndpointUser, ToUserId: 42, ItemId: 2, Qty: 1}, valid: true},
		{name: "bank to user", op: TransferOp{FromType: EndpointBank, ToType: EndpointUser, ToUserId: 42, ItemId: 2, Qty: 1}, valid: true},
		{name: "user to bank", op: TransferOp{FromType: EndpointUser, FromUserId: 42, ToType: EndpointBank, ItemId: 2, Qty: 1}, valid: true},
		{name: "user to user", op: TransferOp{FromType: EndpointUser, FromUserId: 42, ToType: EndpointUser, ToUserId: 43, ItemId: 2, Qty: 1}, valid: true},
		{name: "bank to bank", op: TransferOp{FromType: EndpointBank, ToType: EndpointBank, ItemId: 2, Qty: 1}},
		{name: "to mint", op: TransferOp{FromType: EndpointBank, ToType: EndpointMint, ItemId: 2, Qty: 1}},
		{name: "self transfer", op: TransferOp{FromType: EndpointUser, FromUserId: 42, ToType: EndpointUser, ToUserId: 42, ItemId: 2, Qty: 1}},
		{name: "no source user", op: TransferOp{FromType: EndpointUser, ToType: EndpointBank, ItemId: 2, Qty: 1}},
		{name: "no destination user", op: TransferOp{FromType: EndpointMint, ToType: EndpointUser, ItemId: 2, Qty: 1}},
		{name: "unknown source", op: TransferOp{FromType: "vault", ToType: EndpointBank, ItemId: 2, Qty: 1}},
		{name: "no item", op: TransferOp{FromType: EndpointMint, ToType: EndpointBank, Qty: 1}},
		{name: "zero qty", op: TransferOp{FromType: EndpointMint, ToType: EndpointBank, ItemId: 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op.Validate()
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func Test_EngineSession_Recompute(t *testing.T) {
	session := EngineSession{DesiredEnabled: true, PageInScope: true, Auth: SessionAuth{Eligible: true}}
	session.Recompute()
	require.True(t, session.Running)

	// visibility does not stop the engine, only pauses it
	session.PausedByVisibility = true
	session.Recompute()
	require.True(t, session.Running)

	session.Auth.Eligible = false
	session.Recompute()
	require.False(t, session.Running)
}

func Test_Inventory_Snapshots(t *testing.T) {
	var nilInventory *Inventory
	require.Zero(t, nilInventory.Held(1))
	require.Nil(t, nilInventory.Clone())

	inventory := &Inventory{UserId: 42, Items: []InventoryItem{{ItemId: 1, Qty: 2}}, TotalQty: 2}
	clone := inventory.Clone()
	clone.Items[0].Qty = 5
	require.EqualValues(t, 2, inventory.Held(1))
	require.EqualValues(t, 5, clone.Held(1))

	now := time.UnixMilli(10_000)
	require.EqualValues(t, 5000, RemainingMs(15_000, now))
	require.Zero(t, RemainingMs(9_000, now))
}
