// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grouping buffers inbound messages per conversation and decides
// which ones belong together as a single submission. A group is finalized
// when a debounce timer fires, when it reaches its maximum size, or when a
// lone message is self-contained (a PDF attachment that needs no follow-up).
//
// Finalized groups are dispatched for processing without blocking admission:
// groups across conversations, and even successive groups within one
// conversation, may process concurrently. Handler failures never feed back
// into the grouping state; they are reported through the error callback.
package grouping

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dealdesk/intake/internal/models"
)

// Config holds the grouping thresholds.
type Config struct {
	// BaseTimeout caps the debounce wait for multi-message groups.
	BaseTimeout time.Duration
	// QuickTimeout is used for groups that look like standalone
	// submissions (single message, or any attachment present).
	QuickTimeout time.Duration
	// GapThreshold is the silence after which a new message starts a new
	// group regardless of sender.
	GapThreshold time.Duration
	// MaxGroupSize forces finalization when reached.
	MaxGroupSize int
	// Clock overrides the time source for gap decisions. Replay drives
	// it from message timestamps; nil means wall clock.
	Clock func() time.Time
}

// DefaultConfig mirrors the tuned production values.
func DefaultConfig() Config {
	return Config{
		BaseTimeout:  30 * time.Second,
		QuickTimeout: 3 * time.Second,
		GapThreshold: 2 * time.Minute,
		MaxGroupSize: 10,
	}
}

// Handler processes one finalized group. It runs on its own goroutine; any
// per-group side effects (temp files in particular) must be namespaced by
// the group's ID.
type Handler func(ctx context.Context, group *models.MessageGroup) error

// ErrorFunc receives handler failures for individual groups.
type ErrorFunc func(group *models.MessageGroup, err error)

// finalize reasons, used for logging and metrics.
const (
	reasonTimeout    = "timeout"
	reasonMaxSize    = "max_size"
	reasonStandalone = "standalone_pdf"
	reasonSuperseded = "superseded"
	reasonFlush      = "flush"
)

type timerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Grouper owns the per-conversation buffers and debounce timers.
type Grouper struct {
	cfg     Config
	handler Handler
	onError ErrorFunc

	// nowFn drives the gap threshold; Config.Clock overrides it.
	nowFn func() time.Time

	// onFinalize is an optional hook (metrics) called with the reason.
	onFinalize func(group *models.MessageGroup, reason string)

	mu       sync.Mutex
	groups   map[string]*models.MessageGroup
	lastSeen map[string]time.Time
	timers   map[string]*timerHandle

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// New creates a grouper. Start must be called before Add.
func New(cfg Config, handler Handler, onError ErrorFunc) *Grouper {
	if cfg.MaxGroupSize <= 0 {
		cfg.MaxGroupSize = DefaultConfig().MaxGroupSize
	}
	nowFn := cfg.Clock
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Grouper{
		cfg:      cfg,
		handler:  handler,
		onError:  onError,
		nowFn:    nowFn,
		groups:   make(map[string]*models.MessageGroup),
		lastSeen: make(map[string]time.Time),
		timers:   make(map[string]*timerHandle),
	}
}

// SetFinalizeHook installs an observer for group finalizations. It runs
// under the grouper lock, before the handler is dispatched, so it must not
// call back into the grouper.
func (g *Grouper) SetFinalizeHook(fn func(group *models.MessageGroup, reason string)) {
	g.onFinalize = fn
}

// Start binds the grouper's base context. Timers and dispatched handlers
// are cancelled when ctx is cancelled.
func (g *Grouper) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
}

// Add admits one message. Admission decisions within a conversation are
// strictly serialized; the lock is held only for the synchronous decision
// logic, never across timer waits or fetches.
func (g *Grouper) Add(msg models.BufferedMessage) {
	conv := msg.ConversationID
	now := g.nowFn()

	g.mu.Lock()

	current := g.groups[conv]
	last, hasLast := g.lastSeen[conv]

	if g.shouldStartNew(&msg, current, last, hasLast, now) {
		if current != nil && len(current.Messages) > 0 {
			slog.Info("finalizing group, new submission starting",
				"conversation", conv,
				"messages", len(current.Messages),
			)
			g.finalizeLocked(conv, current, reasonSuperseded)
		}
		current = models.NewMessageGroup(conv)
		g.groups[conv] = current
	}

	current.Append(msg)
	g.lastSeen[conv] = now

	slog.Debug("message buffered",
		"conversation", conv,
		"group", current.ID,
		"size", len(current.Messages),
	)

	if g.shouldFinalizeNow(current, &msg) {
		reason := reasonMaxSize
		if len(current.Messages) == 1 {
			reason = reasonStandalone
		}
		g.finalizeLocked(conv, current, reason)
		g.mu.Unlock()
		return
	}

	timeout := g.timeoutFor(current)
	g.mu.Unlock()

	g.resetTimer(conv, timeout)
}

// shouldStartNew decides whether the incoming message opens a new group.
// Caller holds the lock.
func (g *Grouper) shouldStartNew(msg *models.BufferedMessage, current *models.MessageGroup, last time.Time, hasLast bool, now time.Time) bool {
	if current == nil || len(current.Messages) == 0 {
		return true
	}

	// A different sender splits the group unless the message replies to
	// one already buffered. Replies to messages outside the open group
	// deliberately start a new group.
	if msg.Sender != current.PrimarySender && !current.ContainsMessage(msg.ReplyToID) {
		return true
	}

	if hasLast && now.Sub(last) > g.cfg.GapThreshold {
		return true
	}

	if len(current.Messages) >= g.cfg.MaxGroupSize {
		return true
	}

	return false
}

// shouldFinalizeNow checks for immediate finalization: max size reached, or
// a lone freshly-opened message carrying a PDF (self-contained submission).
func (g *Grouper) shouldFinalizeNow(group *models.MessageGroup, latest *models.BufferedMessage) bool {
	if len(group.Messages) >= g.cfg.MaxGroupSize {
		return true
	}
	if latest.IsPDFAttachment() && len(group.Messages) == 1 {
		return true
	}
	return false
}

// timeoutFor picks the debounce duration for the group's current state.
func (g *Grouper) timeoutFor(group *models.MessageGroup) time.Duration {
	if group.HasAttachment() {
		return g.cfg.QuickTimeout
	}
	if len(group.Messages) == 1 {
		return g.cfg.QuickTimeout
	}
	if d := 2 * g.cfg.QuickTimeout; d < g.cfg.BaseTimeout {
		return d
	}
	return g.cfg.BaseTimeout
}

// resetTimer cancels and joins any pending timer for the conversation, then
// arms a replacement. Joining before re-arming guarantees two timers never
// race to finalize the same group. Must be called without the lock held:
// the old timer goroutine may be blocked on the lock and needs it to drain.
func (g *Grouper) resetTimer(conv string, d time.Duration) {
	g.mu.Lock()
	old := g.timers[conv]
	delete(g.timers, conv)
	if old != nil {
		old.cancel()
	}
	g.mu.Unlock()

	if old != nil {
		<-old.done
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// The group may have been finalized, or a later message may have
	// armed its own timer, while we were joining the old one.
	if _, open := g.groups[conv]; !open {
		return
	}
	if g.timers[conv] != nil {
		return
	}

	tctx, cancel := context.WithCancel(g.ctx)
	h := &timerHandle{cancel: cancel, done: make(chan struct{})}
	g.timers[conv] = h
	go g.runTimer(tctx, conv, d, h)
}

// runTimer waits for the debounce duration, then finalizes the group if it
// is still open and this handle has not been superseded.
func (g *Grouper) runTimer(ctx context.Context, conv string, d time.Duration, h *timerHandle) {
	defer close(h.done)

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Cancelled while waiting for the lock: the group was already
	// finalized for another reason.
	if ctx.Err() != nil {
		return
	}
	if g.timers[conv] == h {
		delete(g.timers, conv)
	}

	group := g.groups[conv]
	if group == nil || len(group.Messages) == 0 {
		return
	}

	slog.Info("debounce timer expired, finalizing group",
		"conversation", conv,
		"group", group.ID,
		"messages", len(group.Messages),
	)
	g.finalizeLocked(conv, group, reasonTimeout)
}

// finalizeLocked atomically removes the group from the table, cancels its
// timer, and dispatches processing on its own goroutine. Caller holds the
// lock. Handler errors are reported through onError, never propagated back
// into grouping state.
func (g *Grouper) finalizeLocked(conv string, group *models.MessageGroup, reason string) {
	delete(g.groups, conv)
	delete(g.lastSeen, conv)

	if h := g.timers[conv]; h != nil {
		h.cancel()
		delete(g.timers, conv)
	}

	if g.onFinalize != nil {
		g.onFinalize(group, reason)
	}

	g.tasks.Add(1)
	go func() {
		defer g.tasks.Done()
		if err := g.handler(g.ctx, group); err != nil {
			slog.Error("group processing failed",
				"group", group.ID,
				"conversation", group.ConversationID,
				"error", err,
			)
			if g.onError != nil {
				g.onError(group, err)
			}
		}
	}()
}

// Flush finalizes all open groups immediately.
func (g *Grouper) Flush() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for conv, group := range g.groups {
		if len(group.Messages) > 0 {
			g.finalizeLocked(conv, group, reasonFlush)
		}
	}
}

// Drain flushes open groups and waits for all in-flight processing to
// finish, or for ctx to expire.
func (g *Grouper) Drain(ctx context.Context) error {
	g.Flush()

	done := make(chan struct{})
	go func() {
		g.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels all timers and in-flight processing and waits for them to
// unwind. Buffered groups not yet finalized are abandoned.
func (g *Grouper) Stop() {
	if g.cancel != nil {
		g.cancel()
	}

	g.mu.Lock()
	for conv, h := range g.timers {
		h.cancel()
		delete(g.timers, conv)
	}
	g.mu.Unlock()

	g.tasks.Wait()
	slog.Info("grouper stopped")
}

// OpenGroups reports the number of conversations with a buffered group.
func (g *Grouper) OpenGroups() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups)
}
