package collector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"flexible-voting/internal/config"
	"flexible-voting/internal/engine"
	"flexible-voting/internal/governor"
	"flexible-voting/internal/logger"
	"flexible-voting/internal/metadata"
	"flexible-voting/internal/store"
	"flexible-voting/internal/tui"

	abci "github.com/cometbft/cometbft/abci/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// TUIChannelBufferSize is the buffer of the snapshot channel read by the TUI.
	TUIChannelBufferSize = 16
	// TUICloseDelay gives the TUI time to quit after its channel is closed.
	TUICloseDelay = 200 * time.Millisecond

	subscriber       = "flexvote"
	watchdogInterval = 30 * time.Second
	// backfilled blocks are persisted in batches of this size
	flushBatchSize = 100
	titleTimeout   = 5 * time.Second
)

// blockResults is the part of the RPC client used for backfill.
type blockResults interface {
	BlockResults(ctx context.Context, height *int64) (*rpccoretypes.ResultBlockResults, error)
}

type Collector struct {
	cfg      config.Config
	store    *store.Store
	engine   *engine.Engine
	client   *rpchttp.HTTP
	results  blockResults
	titles   *metadata.Resolver
	updateCh chan<- interface{}
	log      *logger.Logger

	lastBlockTime   time.Time
	lastBlockTimeMu sync.RWMutex

	// procMu serialises block processing and guards the fields below.
	procMu     sync.Mutex
	pending    []store.Block
	titleCache map[uint64]string
	titleJobs  []governor.Proposal
	closed     bool

	titleWG sync.WaitGroup
}

func NewCollector(cfg config.Config, st *store.Store, eng *engine.Engine, updateCh chan<- interface{}, log *logger.Logger) (*Collector, error) {
	// rpchttp.New takes RPC base URL and WS path separately
	c, err := rpchttp.New(cfg.RPCURL, cfg.WSURL())
	if err != nil {
		return nil, err
	}
	return &Collector{
		cfg:        cfg,
		store:      st,
		engine:     eng,
		client:     c,
		results:    c,
		titles:     metadata.NewResolver(cfg.AppAPIURL, log.WithField("module", "metadata")),
		updateCh:   updateCh,
		log:        log,
		titleCache: make(map[uint64]string),
	}, nil
}

// Replay rebuilds the engine from the persisted event log and returns the
// height it reached.
func (c *Collector) Replay(ctx context.Context) (uint64, error) {
	c.procMu.Lock()
	last, err := c.replay(ctx)
	jobs := c.takeTitleJobs()
	c.procMu.Unlock()

	c.resolveTitles(ctx, jobs)
	return last, err
}

func (c *Collector) replay(ctx context.Context) (uint64, error) {
	last, err := c.store.LastHeight(ctx)
	if err != nil {
		return 0, err
	}
	if last == 0 {
		return 0, nil
	}
	count := 0
	err = c.store.Events(ctx, last, func(ev engine.Event) error {
		if ev.Height > c.engine.Height() {
			if err := c.engine.BeginBlock(ev.Height); err != nil {
				return err
			}
		}
		// verdicts are already in the log
		_ = c.engine.Apply(ev)
		count++
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "replay events")
	}
	if last > c.engine.Height() {
		if err := c.engine.BeginBlock(last); err != nil {
			return 0, err
		}
	}
	// projections were persisted with the events
	changes := c.engine.Drain()
	for _, p := range changes.Proposals {
		c.queueTitle(p)
	}
	c.log.WithFields(logrus.Fields{"height": last, "events": count}).Info("event log replayed")
	c.publish()
	return last, nil
}

func (c *Collector) Run(ctx context.Context) error {
	for {
		if err := c.runLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return nil // Context cancelled, normal shutdown
			}
			// Only log actual errors, not planned reconnects
			if !strings.Contains(err.Error(), "reconnect:") {
				c.log.Printf("Run loop error: %v, reconnecting...", err)
			}
			time.Sleep(3 * time.Second) // Brief pause before reconnecting
		}
	}
}

func (c *Collector) runLoop(ctx context.Context) error {
	// Create a cancellable context for this connection cycle
	// This ensures that when we reconnect, all old goroutines are properly stopped
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.cleanupClient(loopCtx)

	if err := c.initClient(); err != nil {
		return err
	}

	blockCh, err := c.client.Subscribe(loopCtx, subscriber, "tm.event = 'NewBlock'")
	if err != nil {
		return fmt.Errorf("subscribe NewBlock: %w", err)
	}
	c.log.Printf("Subscribed to events: NewBlock")

	c.updateLastBlockTime()

	c.startEventHandler(loopCtx, "NewBlock", blockCh, func(ev rpccoretypes.ResultEvent) {
		if ev.Data == nil {
			return
		}
		c.updateLastBlockTime()
		if err := c.handleNewBlock(loopCtx, ev); err != nil {
			c.log.WithError(err).Warn("block handling failed")
		}
	})

	return c.watchdogLoop(loopCtx)
}

// cleanupClient stops and cleans up existing client
func (c *Collector) cleanupClient(ctx context.Context) {
	if c.client == nil {
		return
	}

	unsubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_ = c.client.UnsubscribeAll(unsubCtx, subscriber)
	c.client.Stop()
	c.client = nil

	time.Sleep(500 * time.Millisecond) // Brief pause for cleanup
}

// initClient creates and starts a new RPC client
func (c *Collector) initClient() error {
	client, err := rpchttp.New(c.cfg.RPCURL, c.cfg.WSURL())
	if err != nil {
		return fmt.Errorf("create rpc client: %w", err)
	}

	if err := client.Start(); err != nil {
		return fmt.Errorf("start rpc client: %w", err)
	}

	c.client = client
	c.results = client
	return nil
}

// startEventHandler starts a goroutine to handle events from a channel
func (c *Collector) startEventHandler(ctx context.Context, name string, ch <-chan rpccoretypes.ResultEvent, handler func(rpccoretypes.ResultEvent)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					c.log.Printf("%s event channel closed", name)
					return
				}
				handler(ev)
			}
		}
	}()
}

// updateLastBlockTime updates the last block time (thread-safe)
func (c *Collector) updateLastBlockTime() {
	c.lastBlockTimeMu.Lock()
	c.lastBlockTime = time.Now()
	c.lastBlockTimeMu.Unlock()
}

// watchdogLoop reconnects when the node stops delivering blocks
func (c *Collector) watchdogLoop(ctx context.Context) error {
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watchdog.C:
			if c.shouldReconnect() {
				c.log.Printf("No blocks received for 30+ seconds, reconnecting WebSocket...")
				c.updateLastBlockTime()
				return fmt.Errorf("reconnect: no blocks for 30s")
			}
		}
	}
}

func (c *Collector) shouldReconnect() bool {
	c.lastBlockTimeMu.RLock()
	defer c.lastBlockTimeMu.RUnlock()
	return time.Since(c.lastBlockTime) > watchdogInterval
}

// Close flushes unsaved blocks and stops the RPC client.
func (c *Collector) Close() error {
	c.titleWG.Wait()
	c.procMu.Lock()
	err := c.flush(context.Background())
	c.closed = true
	c.procMu.Unlock()
	if c.client != nil {
		c.client.Stop()
	}
	return err
}

func (c *Collector) handleNewBlock(ctx context.Context, ev rpccoretypes.ResultEvent) error {
	data, ok := ev.Data.(cmttypes.EventDataNewBlock)
	if !ok {
		if d2, ok2 := ev.Data.(*cmttypes.EventDataNewBlock); ok2 && d2 != nil {
			data = *d2
			ok = true
		}
	}
	if !ok {
		return fmt.Errorf("unknown NewBlock event data type: %T", ev.Data)
	}
	if data.Block == nil || data.Block.Header.Height <= 0 {
		return nil
	}
	height := uint64(data.Block.Header.Height)

	c.procMu.Lock()
	err := c.advance(ctx, height, blockEvents(data.ResultFinalizeBlock.TxResults, data.ResultFinalizeBlock.Events))
	jobs := c.takeTitleJobs()
	c.procMu.Unlock()

	c.resolveTitles(ctx, jobs)
	return err
}

// advance brings the engine to height, backfilling any gap first. Caller
// holds procMu.
func (c *Collector) advance(ctx context.Context, height uint64, events []abci.Event) error {
	next := c.nextHeight()
	if height < next {
		return nil
	}
	if height > next {
		if err := c.backfill(ctx, next, height-1); err != nil {
			return errors.Wrapf(err, "backfill %d-%d", next, height-1)
		}
	}
	c.processBlock(height, events)
	if err := c.flush(ctx); err != nil {
		c.log.WithError(err).WithField("pending", len(c.pending)).Warn("persist failed, will retry")
	}
	c.publish()
	return nil
}

// nextHeight is the first height the engine has not seen.
func (c *Collector) nextHeight() uint64 {
	h := c.engine.Height() + 1
	if h < c.cfg.StartHeight {
		return c.cfg.StartHeight
	}
	return h
}

// backfill fetches and processes the blocks from..to, persisting in batches.
func (c *Collector) backfill(ctx context.Context, from, to uint64) error {
	c.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("backfilling blocks")
	for h := from; h <= to; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		height := int64(h)
		res, err := c.results.BlockResults(ctx, &height)
		if err != nil {
			return errors.Wrapf(err, "block results %d", h)
		}
		c.processBlock(h, blockEvents(res.TxsResults, res.FinalizeBlockEvents))
		if len(c.pending) >= flushBatchSize {
			if err := c.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// blockEvents orders a block's events: transaction events in transaction
// order, then block level events. Failed transactions emit nothing.
func blockEvents(txs []*abci.ExecTxResult, finalize []abci.Event) []abci.Event {
	var out []abci.Event
	for _, tx := range txs {
		if tx == nil || tx.Code != abci.CodeTypeOK {
			continue
		}
		out = append(out, tx.Events...)
	}
	return append(out, finalize...)
}

// processBlock applies the prefixed events of one block and queues the
// result for persistence. Caller holds procMu.
func (c *Collector) processBlock(height uint64, raw []abci.Event) {
	if err := c.engine.BeginBlock(height); err != nil {
		c.log.WithError(err).Warn("block skipped")
		return
	}
	b := store.Block{Height: height}
	for _, r := range raw {
		ev, ok := engine.FromABCI(c.cfg.EventPrefix, height, len(b.Events), r)
		if !ok {
			continue
		}
		b.Events = append(b.Events, store.AppliedEvent{Event: ev, Err: c.engine.Apply(ev)})
	}
	b.Changes = c.engine.Drain()
	c.pending = append(c.pending, b)

	for _, p := range b.Changes.Proposals {
		c.queueTitle(p)
	}

	if len(b.Events) > 0 {
		c.log.WithFields(logrus.Fields{
			"height":    height,
			"events":    len(b.Events),
			"casts":     len(b.Changes.Casts),
			"proposals": len(b.Changes.Proposals),
		}).Info("block processed")
	}
}

// queueTitle shows the description's first line until a remote title is
// resolved. Caller holds procMu.
func (c *Collector) queueTitle(p governor.Proposal) {
	c.titleCache[p.ID] = metadata.FallbackTitle(p.Description)
	if c.titles != nil {
		c.titleJobs = append(c.titleJobs, p)
	}
}

// takeTitleJobs hands over the queued lookups. Caller holds procMu.
func (c *Collector) takeTitleJobs() []governor.Proposal {
	jobs := c.titleJobs
	c.titleJobs = nil
	return jobs
}

// resolveTitles looks titles up in the background and applies them as they
// arrive. It must be called without procMu held.
func (c *Collector) resolveTitles(ctx context.Context, jobs []governor.Proposal) {
	if len(jobs) == 0 {
		return
	}
	c.titleWG.Add(1)
	go func() {
		defer c.titleWG.Done()
		for _, p := range jobs {
			if ctx.Err() != nil {
				return
			}
			tctx, cancel := context.WithTimeout(ctx, titleTimeout)
			title := c.titles.Title(tctx, p.ID, p.Description)
			cancel()
			c.applyTitle(ctx, p.ID, title)
		}
	}()
}

func (c *Collector) applyTitle(ctx context.Context, id uint64, title string) {
	c.procMu.Lock()
	defer c.procMu.Unlock()
	if c.titleCache[id] == title {
		return
	}
	c.titleCache[id] = title
	// blocks still pending save the title on flush
	if err := c.store.SetProposalTitle(ctx, id, title); err != nil {
		c.log.WithError(err).WithField("proposal", id).Warn("save title failed")
	}
	c.publish()
}

// flush persists pending blocks. Caller holds procMu.
func (c *Collector) flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	if err := c.store.SaveBlocks(ctx, c.pending); err != nil {
		return err
	}
	for _, b := range c.pending {
		for _, p := range b.Changes.Proposals {
			if title, ok := c.titleCache[p.ID]; ok && title != "" {
				if err := c.store.SetProposalTitle(ctx, p.ID, title); err != nil {
					c.log.WithError(err).WithField("proposal", p.ID).Warn("save title failed")
				}
			}
		}
	}
	c.pending = c.pending[:0]
	return nil
}

// publish sends the current state to the TUI without blocking. Caller holds
// procMu.
func (c *Collector) publish() {
	if c.updateCh == nil || c.closed {
		return
	}
	titles := make(map[uint64]string, len(c.titleCache))
	for id, t := range c.titleCache {
		titles[id] = t
	}
	select {
	case c.updateCh <- tui.Update{Snapshot: c.engine.Snapshot(), Titles: titles}:
	default:
	}
}
