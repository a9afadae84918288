package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/itiky/drop-engine/events"
	"github.com/itiky/drop-engine/model"
	"github.com/itiky/drop-engine/service/scheduler"
)

// pollState fetches the drop state and reconciles the registry.
func (e *Engine) pollState(ctx context.Context) error {
	e.mu.Lock()
	if !e.session.Running {
		e.mu.Unlock()
		return nil
	}
	req := model.StateRequest{
		Auth:    e.auth(),
		ForumId: e.page.ForumId,
		PageUrl: e.page.Url,
	}
	e.mu.Unlock()

	opStart := time.Now()
	res, err := e.api.State(ctx, req)
	e.monitor.Observe(string(scheduler.TaskState), time.Since(opStart), err)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}

	e.applyState(res)

	return nil
}

// applyState handles a successful state response.
func (e *Engine) applyState(res *model.StateResponse) {
	e.mu.Lock()
	// Landed after stop: the next start fetches again
	if !e.session.Running {
		e.mu.Unlock()
		return
	}

	e.clock.Update(res.ServerTimeMs)
	now := e.clock.Now()

	out := pending{}
	if changes := e.registry.Reconcile(res.Drops, now); len(changes) > 0 {
		out.add(events.TopicDrops, events.DropsChanged{Changes: changes})
	}
	e.replaceLocked(&out, res.Inventory, res.Bank)
	if res.Online != nil {
		e.online = res.Online.Clone()
		out.add(events.TopicOnline, res.Online.Clone())
	}
	e.mu.Unlock()

	e.logger.Debug("state applied", zap.Int("drops", len(res.Drops)), zap.Int("changes", len(out)))
	e.publish(out)
}

// pollOnline fetches presence stats.
func (e *Engine) pollOnline(ctx context.Context) error {
	e.mu.Lock()
	if !e.session.Running {
		e.mu.Unlock()
		return nil
	}
	auth := e.auth()
	e.mu.Unlock()

	opStart := time.Now()
	online, err := e.api.Online(ctx, auth)
	e.monitor.Observe(string(scheduler.TaskOnline), time.Since(opStart), err)
	if err != nil {
		return fmt.Errorf("online: %w", err)
	}

	e.mu.Lock()
	if !e.session.Running {
		e.mu.Unlock()
		return nil
	}
	e.online = online.Clone()
	e.mu.Unlock()

	e.bus.Publish(events.TopicOnline, online.Clone())

	return nil
}

// renderTick expires drops locally and publishes the countdown view.
func (e *Engine) renderTick(ctx context.Context) error {
	e.mu.Lock()
	if !e.session.Running {
		e.mu.Unlock()
		return nil
	}

	now := e.clock.Now()
	out := pending{}
	if changes := e.registry.Expire(now); len(changes) > 0 {
		out.add(events.TopicDrops, events.DropsChanged{Changes: changes})
	}
	out.add(events.TopicRender, events.RenderTick{Drops: e.registry.Export(now)})
	e.mu.Unlock()

	e.publish(out)

	return nil
}

// Refresh fires one immediate state + presence fetch (subject to single-flight).
func (e *Engine) Refresh() {
	e.scheduler.Trigger(scheduler.TaskState)
	e.scheduler.Trigger(scheduler.TaskOnline)
}
