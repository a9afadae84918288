package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/events"
	"github.com/itiky/drop-engine/model"
	"github.com/itiky/drop-engine/service/admin"
	"github.com/itiky/drop-engine/service/client"
	"github.com/itiky/drop-engine/toggle"
)

const (
	FlagTargetUserId = "target-user-id"
	FlagFromType     = "from-type"
	FlagToType       = "to-type"
	FlagFromUserId   = "from-user-id"
	FlagToUserId     = "to-user-id"
	FlagItemId       = "item-id"
	FlagQty          = "qty"
	FlagNote         = "note"
)

// GetAdminCmd returns the economy admin commands.
func GetAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Economy admin operations",
	}
	addIdentityFlags(cmd, true)
	cmd.PersistentFlags().String(FlagBaseURL, "", "(optional) action endpoint URL (DROPS_BASE_URL)")

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print the item pool, the bank and the purchase requests",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			targetUserId, err := cmd.Flags().GetInt64(FlagTargetUserId)
			if err != nil {
				logger.Fatal("flag", zap.String("flag", FlagTargetUserId), zap.Error(err))
			}

			runAdmin(cmd, func(ctx context.Context, ops *admin.Ops) (interface{}, error) {
				return ops.FetchAdminState(ctx, model.UserId(targetUserId))
			})
		},
	}
	stateCmd.Flags().Int64(FlagTargetUserId, 0, "(optional) user whose inventory to include")

	transferCmd := &cobra.Command{
		Use:   "transfer",
		Short: "Mint or move items between mint, bank and user inventories",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			op, err := parseTransferOp(cmd)
			if err != nil {
				logger.Fatal("transfer flags", zap.Error(err))
			}

			runAdmin(cmd, func(ctx context.Context, ops *admin.Ops) (interface{}, error) {
				return ops.Transfer(ctx, op)
			})
		},
	}
	transferCmd.Flags().String(FlagFromType, string(model.EndpointMint), "source: mint, bank or user")
	transferCmd.Flags().String(FlagToType, string(model.EndpointBank), "destination: bank or user")
	transferCmd.Flags().Int64(FlagFromUserId, 0, "source user id (user source)")
	transferCmd.Flags().Int64(FlagToUserId, 0, "destination user id (user destination)")
	transferCmd.Flags().Int64(FlagItemId, 0, "item id")
	transferCmd.Flags().Int64(FlagQty, 1, "quantity")
	transferCmd.Flags().String(FlagNote, "", "(optional) note")

	processCmd := &cobra.Command{
		Use:   "purchase-process [id]",
		Short: "Grant the chests of a purchase request",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := mustPurchaseId(args[0])

			runAdmin(cmd, func(ctx context.Context, ops *admin.Ops) (interface{}, error) {
				ok, err := ops.ProcessPurchaseRequest(ctx, id)
				return model.ActionResponse{Success: ok}, err
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "purchase-delete [id]",
		Short: "Delete a processed purchase request",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := mustPurchaseId(args[0])

			runAdmin(cmd, func(ctx context.Context, ops *admin.Ops) (interface{}, error) {
				// The processed status check works on the fetched requests
				if _, err := ops.FetchAdminState(ctx, 0); err != nil {
					return nil, err
				}
				ok, err := ops.DeletePurchaseRequest(ctx, id)
				return model.ActionResponse{Success: ok}, err
			})
		},
	}

	cmd.AddCommand(stateCmd, transferCmd, processCmd, deleteCmd)

	return cmd
}

// runAdmin builds an idle engine for the admin identity and runs one operation.
func runAdmin(cmd *cobra.Command, fn func(ctx context.Context, ops *admin.Ops) (interface{}, error)) {
	identity, err := parseIdentity(cmd)
	if err != nil {
		logger.Fatal("identity flags", zap.Error(err))
	}
	if err := applyEngineFlags(cmd); err != nil {
		logger.Fatal("engine flags", zap.Error(err))
	}

	api, err := newAPIClient(appConfig)
	if err != nil {
		logger.Fatal("API client init", zap.Error(err))
	}

	// One-shot commands never start polling, so the enabled flag stays in memory
	engine, err := client.New(client.Config{
		StatePeriod:   appConfig.Engine.StatePeriod,
		OnlinePeriod:  appConfig.Engine.OnlinePeriod,
		RenderPeriod:  appConfig.Engine.RenderPeriod,
		MonitorPeriod: appConfig.Engine.MonitorPeriod,
		ChestItemId:   appConfig.Engine.ChestItemId,
		ChestPrice:    appConfig.Engine.ChestPrice,
	}, client.Deps{
		API:      api,
		Toggle:   toggle.NewMemoryOrigin().Context(appConfig.Toggle.Key),
		Identity: identity,
		Policy:   appConfig.Access.Policy(),
	}, client.WithLogger(logger))
	if err != nil {
		logger.Fatal("engine init", zap.Error(err))
	}
	defer engine.Dispose()

	engine.Bus().Subscribe(events.TopicNotice, func(event events.Event) {
		notice := event.Data.(model.Notice)
		logger.Info("notice", zap.String("level", string(notice.Level)), zap.String("message", notice.Message))
	})

	ctx, cancel := context.WithTimeout(context.Background(), appConfig.Engine.HTTPTimeout+5*time.Second)
	defer cancel()

	if err := engine.Init(ctx); err != nil {
		logger.Fatal("engine init", zap.Error(err))
	}

	ops, err := admin.NewOps(api, engine, logger)
	if err != nil {
		logger.Fatal("admin ops init", zap.Error(err))
	}

	res, err := fn(ctx, ops)
	if err != nil {
		logger.Error("admin operation failed", zap.Error(err))
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error("JSON encode", zap.Error(err))
	}
}

func parseTransferOp(cmd *cobra.Command) (model.TransferOp, error) {
	op := model.TransferOp{}

	fromType, err := cmd.Flags().GetString(FlagFromType)
	if err != nil {
		return op, err
	}
	toType, err := cmd.Flags().GetString(FlagToType)
	if err != nil {
		return op, err
	}
	fromUserId, err := cmd.Flags().GetInt64(FlagFromUserId)
	if err != nil {
		return op, err
	}
	toUserId, err := cmd.Flags().GetInt64(FlagToUserId)
	if err != nil {
		return op, err
	}
	itemId, err := cmd.Flags().GetInt64(FlagItemId)
	if err != nil {
		return op, err
	}
	qty, err := cmd.Flags().GetInt64(FlagQty)
	if err != nil {
		return op, err
	}
	note, err := cmd.Flags().GetString(FlagNote)
	if err != nil {
		return op, err
	}

	op = model.TransferOp{
		FromType:   model.EndpointType(fromType),
		ToType:     model.EndpointType(toType),
		FromUserId: model.UserId(fromUserId),
		ToUserId:   model.UserId(toUserId),
		ItemId:     model.ItemId(itemId),
		Qty:        qty,
		Note:       note,
	}
	if err := op.Validate(); err != nil {
		return op, fmt.Errorf("validation: %w", err)
	}

	return op, nil
}

func mustPurchaseId(raw string) model.PurchaseId {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		logger.Fatal("purchase request id", zap.String("id", raw))
	}

	return model.PurchaseId(id)
}

func init() {
	rootCmd.AddCommand(GetAdminCmd())
}
