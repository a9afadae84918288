package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itiky/drop-engine/access"
	"github.com/itiky/drop-engine/events"
	"github.com/itiky/drop-engine/model"
	"github.com/itiky/drop-engine/service/client"
	"github.com/itiky/drop-engine/service/view"
)

const (
	FlagBaseURL     = "base-url"
	FlagUserId      = "user-id"
	FlagGroupId     = "group-id"
	FlagLogin       = "login"
	FlagCurrency    = "currency"
	FlagForumId     = "forum-id"
	FlagPageURL     = "page-url"
	FlagAutoClaim   = "auto-claim"
	FlagStatePeriod = "state-period"
)

// engineSignal is what a received OS signal asks the headless engine to do.
type engineSignal int

const (
	signalShutdown engineSignal = iota
	signalToggleVisible
	signalToggleEnabled
)

// GetEngineCmd returns the headless engine start command.
func GetEngineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Start a headless drop engine (SIGUSR1: toggle visibility, SIGUSR2: toggle enabled)",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			identity, err := parseIdentity(cmd)
			if err != nil {
				logger.Fatal("identity flags", zap.Error(err))
			}
			forumId, err := cmd.Flags().GetInt64(FlagForumId)
			if err != nil {
				logger.Fatal("flag", zap.String("flag", FlagForumId), zap.Error(err))
			}
			pageURL, err := cmd.Flags().GetString(FlagPageURL)
			if err != nil {
				logger.Fatal("flag", zap.String("flag", FlagPageURL), zap.Error(err))
			}
			autoClaim, err := cmd.Flags().GetBool(FlagAutoClaim)
			if err != nil {
				logger.Fatal("flag", zap.String("flag", FlagAutoClaim), zap.Error(err))
			}
			if err := applyEngineFlags(cmd); err != nil {
				logger.Fatal("engine flags", zap.Error(err))
			}

			// Init service
			store, err := newToggleStore(appConfig)
			if err != nil {
				logger.Fatal("toggle store init", zap.Error(err))
			}
			defer store.Close()

			api, err := newAPIClient(appConfig)
			if err != nil {
				logger.Fatal("API client init", zap.Error(err))
			}

			engineCfg := appConfig.Engine
			engine, err := client.New(client.Config{
				StatePeriod:    engineCfg.StatePeriod,
				OnlinePeriod:   engineCfg.OnlinePeriod,
				RenderPeriod:   engineCfg.RenderPeriod,
				MonitorPeriod:  engineCfg.MonitorPeriod,
				DefaultEnabled: engineCfg.DefaultEnabled,
				ChestItemId:    engineCfg.ChestItemId,
				ChestPrice:     engineCfg.ChestPrice,
			}, client.Deps{
				API:      api,
				Toggle:   store,
				Identity: identity,
				Policy:   appConfig.Access.Policy(),
			}, client.WithLogger(logger))
			if err != nil {
				logger.Fatal("engine init", zap.Error(err))
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			subscribeEngineLog(ctx, engine, autoClaim)

			inventoryView, err := view.NewView(engine, engineCfg.ChestItemId, func(state view.ViewState) {
				fields := []zap.Field{zap.Int64("chests", state.Chests)}
				if state.Inventory != nil {
					fields = append(fields, zap.Int64("inventoryQty", state.Inventory.TotalQty))
				}
				if state.Bank != nil {
					fields = append(fields, zap.Int64("bankQty", state.Bank.TotalQty))
				}
				if state.Online != nil {
					fields = append(fields, zap.Int64("online", state.Online.Count))
				}
				logger.Info("economy", fields...)
			})
			if err != nil {
				logger.Fatal("view init", zap.Error(err))
			}

			// Start
			if err := engine.Init(ctx); err != nil {
				logger.Fatal("engine init", zap.Error(err))
			}
			if err := engine.Start(model.Page{ForumId: model.ForumId(forumId), Url: pageURL}); err != nil {
				logger.Fatal("engine start", zap.Error(err))
			}
			if engine.Session().Auth.Eligible {
				if err := inventoryView.Attach(ctx); err != nil {
					logger.Warn("economy fetch failed", zap.Error(err))
				}
			}

			// Wait for signals
			visible := true
			signalCh := make(chan os.Signal, 1)
			notifyEngineSignals(signalCh)
		loop:
			for sig := range signalCh {
				switch engineSignalOf(sig) {
				case signalToggleVisible:
					visible = !visible
					engine.SetVisible(visible)
					logger.Info("visibility changed", zap.Bool("visible", visible))
				case signalToggleEnabled:
					enabled := !engine.Session().DesiredEnabled
					if err := engine.SetEnabled(ctx, enabled); err != nil {
						logger.Warn("toggle write failed", zap.Error(err))
					}
				default:
					break loop
				}
			}

			inventoryView.Close()
			engine.Dispose()
		},
	}
	addIdentityFlags(cmd, false)
	cmd.Flags().String(FlagBaseURL, "", "(optional) action endpoint URL (DROPS_BASE_URL)")
	cmd.Flags().Duration(FlagStatePeriod, 0, "(optional) state poll period (DROPS_STATE_PERIOD)")
	cmd.Flags().Int64(FlagForumId, 0, "(optional) forum id of the page")
	cmd.Flags().String(FlagPageURL, "/", "(optional) page URL")
	cmd.Flags().Bool(FlagAutoClaim, false, "(optional) claim every new drop")

	return cmd
}

// subscribeEngineLog logs the engine notifications and optionally claims new drops.
func subscribeEngineLog(ctx context.Context, engine *client.Engine, autoClaim bool) {
	bus := engine.Bus()

	bus.Subscribe(events.TopicSession, func(event events.Event) {
		session := event.Data.(model.EngineSession)
		logger.Info("session", zap.Stringer("session", session))
	})
	bus.Subscribe(events.TopicNotice, func(event events.Event) {
		notice := event.Data.(model.Notice)
		logger.Info("notice", zap.String("level", string(notice.Level)), zap.String("message", notice.Message))
	})
	bus.Subscribe(events.TopicDrops, func(event events.Event) {
		for _, change := range event.Data.(events.DropsChanged).Changes {
			logger.Info("drop", zap.Stringer("change", change), zap.Int64("remainingMs", change.Drop.RemainingMs))

			if !autoClaim || change.Type != model.InsertOperationType {
				continue
			}
			go func(id model.DropId) {
				claimCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()

				result, err := engine.Claim(claimCtx, id)
				if err != nil {
					logger.Debug("auto claim skipped", zap.String("dropId", string(id)), zap.Error(err))
					return
				}
				logger.Info("auto claim", zap.String("dropId", string(id)), zap.String("outcome", string(result.Outcome)))
			}(change.Drop.Id)
		}
	})
}

// addIdentityFlags registers the viewer identity flags (inherited by the subcommands when persistent).
func addIdentityFlags(cmd *cobra.Command, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}

	flags.Int64(FlagUserId, 0, "viewer user id (1 or lower is a guest)")
	flags.Int64(FlagGroupId, 0, "viewer group id")
	flags.String(FlagLogin, "", "(optional) viewer login")
	flags.Float64(FlagCurrency, 0, "(optional) viewer forum currency balance")
}

// parseIdentity builds the viewer identity from the identity flags.
func parseIdentity(cmd *cobra.Command) (access.StaticIdentity, error) {
	userId, err := cmd.Flags().GetInt64(FlagUserId)
	if err != nil {
		return access.StaticIdentity{}, err
	}
	groupId, err := cmd.Flags().GetInt64(FlagGroupId)
	if err != nil {
		return access.StaticIdentity{}, err
	}
	login, err := cmd.Flags().GetString(FlagLogin)
	if err != nil {
		return access.StaticIdentity{}, err
	}
	currency, err := cmd.Flags().GetFloat64(FlagCurrency)
	if err != nil {
		return access.StaticIdentity{}, err
	}

	return access.StaticIdentity{
		UserId:   model.UserId(userId),
		GroupId:  model.GroupId(groupId),
		Login:    login,
		Currency: currency,
	}, nil
}

// applyEngineFlags overrides the env configuration with the non empty flags.
func applyEngineFlags(cmd *cobra.Command) error {
	if cmd.Flags().Lookup(FlagBaseURL) != nil {
		baseURL, err := cmd.Flags().GetString(FlagBaseURL)
		if err != nil {
			return err
		}
		if baseURL != "" {
			appConfig.Engine.BaseURL = baseURL
		}
	}

	if cmd.Flags().Lookup(FlagStatePeriod) != nil {
		statePeriod, err := cmd.Flags().GetDuration(FlagStatePeriod)
		if err != nil {
			return err
		}
		if statePeriod > 0 {
			appConfig.Engine.StatePeriod = statePeriod
		}
	}

	return nil
}

func init() {
	rootCmd.AddCommand(GetEngineCmd())
}
