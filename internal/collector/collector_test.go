package collector

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flexible-voting/internal/config"
	"flexible-voting/internal/db"
	"flexible-voting/internal/engine"
	"flexible-voting/internal/flexvote"
	"flexible-voting/internal/governor"
	"flexible-voting/internal/logger"
	"flexible-voting/internal/metadata"
	"flexible-voting/internal/models"
	"flexible-voting/internal/store"
	"flexible-voting/internal/tui"

	abci "github.com/cometbft/cometbft/abci/types"
	rpccoretypes "github.com/cometbft/cometbft/rpc/core/types"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeResults struct {
	blocks map[int64]*rpccoretypes.ResultBlockResults
	calls  []int64
}

func (f *fakeResults) BlockResults(_ context.Context, height *int64) (*rpccoretypes.ResultBlockResults, error) {
	f.calls = append(f.calls, *height)
	if r, ok := f.blocks[*height]; ok {
		return r, nil
	}
	return &rpccoretypes.ResultBlockResults{Height: *height}, nil
}

func abciEvent(typ string, kv ...string) abci.Event {
	ev := abci.Event{Type: "flexvote." + typ}
	for i := 0; i+1 < len(kv); i += 2 {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: kv[i], Value: kv[i+1]})
	}
	return ev
}

func txResult(events ...abci.Event) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: abci.CodeTypeOK, Events: events}
}

func newTestCollector(t *testing.T, st *store.Store, results blockResults, updateCh chan<- interface{}) *Collector {
	t.Helper()
	log := logger.NewWithWriter(false, io.Discard)
	cfg := config.Config{EventPrefix: "flexvote", StartHeight: 1}
	eng, err := engine.New(engine.Settings{
		Pool:     flexvote.Settings{Address: "pool", Mode: flexvote.ModeOneShot, CastVoteWindow: 100},
		Governor: governor.Settings{VotingDelay: 1, VotingPeriod: 10, QuorumNumerator: 4},
	}, log, nil)
	require.NoError(t, err)
	return &Collector{
		cfg:        cfg,
		store:      st,
		engine:     eng,
		results:    results,
		updateCh:   updateCh,
		log:        log,
		titleCache: make(map[uint64]string),
	}
}

func newBlockEvent(height int64, txs []*abci.ExecTxResult, finalize ...abci.Event) rpccoretypes.ResultEvent {
	return rpccoretypes.ResultEvent{
		Data: cmttypes.EventDataNewBlock{
			Block: &cmttypes.Block{Header: cmttypes.Header{Height: height}},
			ResultFinalizeBlock: abci.ResponseFinalizeBlock{
				TxResults: txs,
				Events:    finalize,
			},
		},
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	gdb, err := db.Open(config.Config{DBDialect: config.DatabaseSchemeSQLite, DBDsn: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	return store.New(gdb)
}

func TestBlockEvents_Order(t *testing.T) {
	failed := &abci.ExecTxResult{Code: 5, Events: []abci.Event{abciEvent("mint")}}
	got := blockEvents(
		[]*abci.ExecTxResult{txResult(abciEvent("a")), failed, nil, txResult(abciEvent("b"))},
		[]abci.Event{abciEvent("c")},
	)
	require.Len(t, got, 3)
	require.Equal(t, "flexvote.a", got[0].Type)
	require.Equal(t, "flexvote.b", got[1].Type)
	require.Equal(t, "flexvote.c", got[2].Type)
}

func TestCollector_BackfillAndPersist(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	results := &fakeResults{blocks: map[int64]*rpccoretypes.ResultBlockResults{
		1: {Height: 1, TxsResults: []*abci.ExecTxResult{txResult(
			abciEvent("mint", "account", "alice", "amount", "50"),
			abciEvent("deposit", "account", "alice", "amount", "50"),
		)}},
		2: {Height: 2, FinalizeBlockEvents: []abci.Event{
			abciEvent("propose", "proposal_id", "1", "description", "Title line\nbody"),
		}},
	}}
	updates := make(chan interface{}, 4)
	c := newTestCollector(t, st, results, updates)

	// height 4 arrives first: 1..3 are fetched, then 4 is applied from the event
	ev := newBlockEvent(4, []*abci.ExecTxResult{txResult(
		abciEvent("express", "account", "alice", "proposal_id", "1", "support", "for"),
		abciEvent("cast", "proposal_id", "1"),
		abci.Event{Type: "transfer"},
	)})
	require.NoError(t, c.handleNewBlock(ctx, ev))
	require.Equal(t, []int64{1, 2, 3}, results.calls)
	require.Empty(t, c.pending)

	last, err := st.LastHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), last)

	casts, err := st.Casts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, casts, 1)
	require.Equal(t, "50", casts[0].For)

	upd := (<-updates).(tui.Update)
	require.Equal(t, uint64(4), upd.Snapshot.Height)
	require.Equal(t, "Title line", upd.Titles[1])
	require.Equal(t, flexvote.Cast, upd.Snapshot.Proposals[0].PoolState)

	// stale blocks are ignored
	require.NoError(t, c.handleNewBlock(ctx, newBlockEvent(3, nil)))
	require.Equal(t, uint64(4), c.engine.Height())

	// a fresh collector rebuilds the same state from the log
	restarted := newTestCollector(t, st, &fakeResults{}, nil)
	h, err := restarted.Replay(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), h)
	snap := restarted.engine.Snapshot()
	require.Equal(t, uint64(50), snap.TotalRaw.Uint64())
	require.Equal(t, flexvote.Cast, snap.Proposals[0].PoolState)
	require.Equal(t, "Title line", restarted.titleCache[1])
}

func TestCollector_BackfillError(t *testing.T) {
	c := newTestCollector(t, store.New(nil), failingResults{}, nil)
	err := c.handleNewBlock(context.Background(), newBlockEvent(3, nil))
	require.Error(t, err)
	require.Equal(t, uint64(0), c.engine.Height())
}

func TestCollector_StartHeight(t *testing.T) {
	results := &fakeResults{}
	c := newTestCollector(t, store.New(nil), results, nil)
	c.cfg.StartHeight = 10
	require.NoError(t, c.handleNewBlock(context.Background(), newBlockEvent(12, nil)))
	require.Equal(t, []int64{10, 11}, results.calls)
	require.Equal(t, uint64(12), c.engine.Height())
}

func TestCollector_UnknownData(t *testing.T) {
	c := newTestCollector(t, store.New(nil), &fakeResults{}, nil)
	err := c.handleNewBlock(context.Background(), rpccoretypes.ResultEvent{Data: cmttypes.EventDataTx{}})
	require.Error(t, err)
}

func TestCollector_CloseStopsPublishing(t *testing.T) {
	updates := make(chan interface{}, 1)
	c := newTestCollector(t, store.New(nil), &fakeResults{}, updates)
	require.NoError(t, c.Close())
	require.NoError(t, c.handleNewBlock(context.Background(), newBlockEvent(1, nil)))
	require.Empty(t, updates)
}

type failingResults struct{}

func (failingResults) BlockResults(context.Context, *int64) (*rpccoretypes.ResultBlockResults, error) {
	return nil, errors.New("node unavailable")
}

func TestCollector_TitlesResolveOutsideBlockProcessing(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"proposal":{"title":"Remote title"}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	gdb, err := db.Open(config.Config{DBDialect: config.DatabaseSchemeSQLite, DBDsn: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	updates := make(chan interface{}, 8)
	c := newTestCollector(t, store.New(gdb), &fakeResults{}, updates)
	c.titles = metadata.NewResolver(srv.URL, c.log)

	done := make(chan error, 1)
	go func() {
		done <- c.handleNewBlock(ctx, newBlockEvent(1, nil, abciEvent("propose", "proposal_id", "4", "description", "Local\nbody")))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("block processing waited for the title lookup")
	}

	upd := (<-updates).(tui.Update)
	require.Equal(t, "Local", upd.Titles[4])

	close(release)
	c.titleWG.Wait()

	c.procMu.Lock()
	require.Equal(t, "Remote title", c.titleCache[4])
	c.procMu.Unlock()

	upd = (<-updates).(tui.Update)
	require.Equal(t, "Remote title", upd.Titles[4])

	var p models.Proposal
	require.NoError(t, gdb.Where("proposal_id = ?", 4).First(&p).Error)
	require.Equal(t, "Remote title", p.Title)
}
