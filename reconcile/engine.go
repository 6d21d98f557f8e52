package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradekeeper/broker"
	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/pkg/id"
	"github.com/rustyeddy/tradekeeper/pkg/keylock"
	"github.com/rustyeddy/tradekeeper/state"
)

const (
	DefaultSafetyWindow = 24 * time.Hour
	DefaultFetchTimeout = 30 * time.Second
)

// Recorder is the part of the ledger reconciliation writes to.
type Recorder interface {
	Append(ctx context.Context, t journal.Trade) error
}

// AccountGuard lets one reconciliation cycle run per account at a time.
// Engines of different accounts may share a guard.
type AccountGuard struct {
	locks *keylock.Map
}

func NewAccountGuard() *AccountGuard {
	return &AccountGuard{locks: keylock.New()}
}

// TryAcquire fails fast with ErrCycleInProgress when account is busy.
func (g *AccountGuard) TryAcquire(account string) (func(), error) {
	release, ok := g.locks.TryLock(account)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCycleInProgress, account)
	}
	return release, nil
}

// Acquire waits for account to be free.
func (g *AccountGuard) Acquire(account string) func() {
	return g.locks.Lock(account)
}

type Config struct {
	Account      string
	SafetyWindow time.Duration
	FetchTimeout time.Duration
}

// Engine reconciles one account.
type Engine struct {
	cfg    Config
	source broker.FillSource
	store  *state.Store
	ledger Recorder
	guard  *AccountGuard
	log    *zap.Logger
}

// NewEngine builds the engine of one account. A nil ledger runs the engine
// without recording: closed trades are still reported in Result.Trades but
// are neither written nor queued for retry.
func NewEngine(cfg Config, source broker.FillSource, store *state.Store, ledger Recorder, guard *AccountGuard, log *zap.Logger) *Engine {
	if cfg.SafetyWindow <= 0 {
		cfg.SafetyWindow = DefaultSafetyWindow
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if guard == nil {
		guard = NewAccountGuard()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		source: source,
		store:  store,
		ledger: ledger,
		guard:  guard,
		log:    log.Named("reconcile").With(zap.String("account", cfg.Account)),
	}
}

func (e *Engine) Account() string { return e.cfg.Account }

// Reconcile runs one cycle: fetch, dedup, fold, record closed trades,
// persist. On any failure before persistence nothing is written and the
// previous state stays authoritative.
func (e *Engine) Reconcile(ctx context.Context) (res Result, err error) {
	start := time.Now()
	res = Result{Account: e.cfg.Account, Status: StatusFailed}

	release, err := e.guard.TryAcquire(e.cfg.Account)
	if err != nil {
		e.log.Warn("reconcile skipped", zap.Error(err))
		return res, err
	}
	defer release()

	defer func() {
		res.Duration = time.Since(start)
		e.logResult(res, err)
	}()

	err = e.cycle(ctx, &res)
	if err == nil {
		res.Status = StatusOK
	}
	return res, err
}

func (e *Engine) cycle(ctx context.Context, res *Result) error {
	snap, err := e.loadSnapshot()
	if err != nil {
		return err
	}
	cursor := snap.Cursor
	if cursor.IsZero() {
		// Snapshots written before the cursor moved into them.
		if cursor, err = e.store.LoadCursor(); err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
	}

	since := cursor.Since(e.cfg.SafetyWindow)
	if snap.Horizon.After(since) {
		since = snap.Horizon
	}
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	fills, err := e.source.FetchFills(fetchCtx, since)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	res.Fetched = len(fills)

	fresh, err := e.dedup(snap, fills, since, &cursor, res)
	if err != nil {
		return err
	}

	bySymbol := make(map[string][]broker.Fill)
	for _, f := range fresh {
		bySymbol[f.Symbol] = append(bySymbol[f.Symbol], f)
	}
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var records []journal.Trade
	for _, sym := range symbols {
		out, err := e.refold(snap, sym, bySymbol[sym], res)
		if err != nil {
			return err
		}
		records = append(records, out...)
	}
	res.Applied = len(fresh)
	res.Trades = records

	for _, f := range fresh {
		snap.SeenFillIDs[f.FillID] = f.FilledAt
	}
	if h := cursor.Since(e.cfg.SafetyWindow); h.After(snap.Horizon) {
		snap.Horizon = h
	}
	snap.Cursor = cursor
	e.prune(snap)

	snap.UnrecordedTrades = e.record(ctx, append(snap.UnrecordedTrades, records...), res)
	res.LedgerDegraded = len(snap.UnrecordedTrades) > 0
	snap.normalise()

	if err := e.store.SaveSnapshot(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	// cursor.json mirrors the snapshot's cursor for readers of the state
	// dir; the snapshot is authoritative.
	if err := e.store.SaveCursor(cursor); err != nil {
		e.log.Warn("cursor mirror not written", zap.Error(err))
	}

	res.Positions = snap.Positions
	res.Cursor = cursor
	return nil
}

// refold folds fresh fills of sym into its state. Fills normally extend the
// open lifecycle. A fill that sorts before the close of a kept lifecycle
// re-folds from that lifecycle on; trades whose lifecycle changed are
// replaced by correction records, and trades whose lifecycle no longer
// closes are voided. It returns the ledger records to write.
func (e *Engine) refold(snap *Snapshot, sym string, fresh []broker.Fill, res *Result) ([]journal.Trade, error) {
	earliest := fresh[0]
	for _, f := range fresh[1:] {
		if f.Before(earliest) {
			earliest = f
		}
	}

	kept := snap.Closed[sym]
	k := len(kept)
	for i, lc := range kept {
		if earliest.Before(lc.closing()) {
			k = i
			break
		}
	}
	affected := kept[k:]

	var merged []broker.Fill
	for _, lc := range affected {
		merged = append(merged, lc.Fills...)
	}
	merged = append(merged, snap.OpenFills[sym]...)
	merged = append(merged, fresh...)
	open, closed, err := Fold(sym, merged)
	if err != nil {
		return nil, err
	}

	// Lifecycles with the same fills keep their record.
	oldByKey := make(map[string]int, len(affected))
	for i, lc := range affected {
		oldByKey[fillKey(lc.Fills)] = i
	}
	matched := make([]bool, len(affected))
	next := make([]ClosedLifecycle, len(closed))
	natural := make([]journal.Trade, len(closed))
	var changed []int
	for i, lc := range closed {
		if j, ok := oldByKey[fillKey(lc.Fills)]; ok && !matched[j] {
			matched[j] = true
			next[i] = affected[j]
			continue
		}
		t, err := TradeFromLifecycle(e.cfg.Account, lc, snap.OrderTags)
		if err != nil {
			return nil, fmt.Errorf("build trade for %s: %w", sym, err)
		}
		next[i] = ClosedLifecycle{TradeID: t.TradeID, Fills: lc.Fills}
		natural[i] = t
		changed = append(changed, i)
	}
	var orphans []ClosedLifecycle
	for j, lc := range affected {
		if !matched[j] {
			orphans = append(orphans, lc)
		}
	}

	// Pair each changed lifecycle with the orphan it replaces: the one
	// sharing its natural id first, then in order.
	replaces := make(map[int]string, len(changed))
	used := make([]bool, len(orphans))
	for _, i := range changed {
		for j, o := range orphans {
			if !used[j] && o.TradeID == natural[i].TradeID {
				replaces[i], used[j] = o.TradeID, true
				break
			}
		}
	}
	for _, i := range changed {
		if _, ok := replaces[i]; ok {
			continue
		}
		for j, o := range orphans {
			if !used[j] {
				replaces[i], used[j] = o.TradeID, true
				break
			}
		}
	}

	var out []journal.Trade
	for _, i := range changed {
		t := natural[i]
		if orig, ok := replaces[i]; ok {
			t = correction(t, orig)
			next[i].TradeID = t.TradeID
			res.Corrected++
		} else {
			res.Closed++
		}
		out = append(out, t)
	}
	for j, o := range orphans {
		if used[j] {
			continue
		}
		t, err := voidRecord(e.cfg.Account, sym, o, snap.OrderTags)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		res.Corrected++
		e.log.Warn("trade voided by late fill",
			zap.String("trade_id", o.TradeID),
			zap.String("symbol", sym),
		)
	}

	snap.Closed[sym] = append(append([]ClosedLifecycle{}, kept[:k]...), next...)
	if pos, ok := Position(sym, open); ok {
		snap.OpenFills[sym] = open
		snap.Positions[sym] = pos
	} else {
		delete(snap.OpenFills, sym)
		delete(snap.Positions, sym)
	}
	return out, nil
}

const refoldNote = "lifecycle re-folded after a late fill"

// correction turns the trade of a re-folded lifecycle into a record that
// supersedes originalID.
func correction(t journal.Trade, originalID string) journal.Trade {
	t.TradeID = id.Derive(t.EntryTime, t.Symbol, "correction", originalID, t.TradeID)
	t.CorrectsTradeID = originalID
	t.Note = refoldNote
	return t
}

// voidRecord retracts the trade of a lifecycle that no longer closes.
func voidRecord(account, sym string, lc ClosedLifecycle, tags map[string]OrderTag) (journal.Trade, error) {
	t, err := TradeFromLifecycle(account, Lifecycle{Symbol: sym, Fills: lc.Fills}, tags)
	if err != nil {
		return journal.Trade{}, fmt.Errorf("void trade %s: %w", lc.TradeID, err)
	}
	t.TradeID = id.Derive(t.EntryTime, sym, "void", lc.TradeID)
	t.CorrectsTradeID = lc.TradeID
	t.Note = refoldNote
	t.Void = true
	return t, nil
}

// prune forgets what no later fetch can touch: seen ids and closed
// lifecycles before the horizon, and the tags of orders no kept fill
// references.
func (e *Engine) prune(snap *Snapshot) {
	for fid, at := range snap.SeenFillIDs {
		if at.Before(snap.Horizon) {
			delete(snap.SeenFillIDs, fid)
		}
	}

	var dropped []string
	for sym, lcs := range snap.Closed {
		n := 0
		for n < len(lcs) && lcs[n].closing().FilledAt.Before(snap.Horizon) {
			for _, f := range lcs[n].Fills {
				dropped = append(dropped, f.OrderID)
			}
			n++
		}
		if n == len(lcs) {
			delete(snap.Closed, sym)
		} else if n > 0 {
			snap.Closed[sym] = lcs[n:]
		}
	}
	if len(dropped) == 0 {
		return
	}

	live := make(map[string]bool)
	for _, fs := range snap.OpenFills {
		for _, f := range fs {
			live[f.OrderID] = true
		}
	}
	for _, lcs := range snap.Closed {
		for _, lc := range lcs {
			for _, f := range lc.Fills {
				live[f.OrderID] = true
			}
		}
	}
	for _, oid := range dropped {
		if !live[oid] {
			delete(snap.OrderTags, oid)
		}
	}
}

// dedup validates fills and drops those already incorporated. Fills older
// than the fetch lower bound are outside the dedup window and are dropped
// as stale. The cursor advances over every incorporated fill, including
// duplicates.
func (e *Engine) dedup(snap *Snapshot, fills []broker.Fill, since time.Time, cursor *state.Cursor, res *Result) ([]broker.Fill, error) {
	inOpen := make(map[string]bool)
	for _, fs := range snap.OpenFills {
		for _, f := range fs {
			inOpen[f.FillID] = true
		}
	}
	for _, lcs := range snap.Closed {
		for _, lc := range lcs {
			for _, f := range lc.Fills {
				inOpen[f.FillID] = true
			}
		}
	}

	batch := make(map[string]bool, len(fills))
	fresh := make([]broker.Fill, 0, len(fills))
	for _, f := range fills {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		f = f.UTC()

		_, seen := snap.SeenFillIDs[f.FillID]
		switch {
		case seen || inOpen[f.FillID] || batch[f.FillID]:
			res.Duplicates++
			*cursor = cursor.Advance(f.FillID, f.FilledAt)
		case !since.IsZero() && f.FilledAt.Before(since):
			res.Stale++
			e.log.Warn("fill older than the refetch window ignored",
				zap.String("fill_id", f.FillID),
				zap.String("symbol", f.Symbol),
				zap.Time("filled_at", f.FilledAt),
			)
		default:
			batch[f.FillID] = true
			fresh = append(fresh, f)
			*cursor = cursor.Advance(f.FillID, f.FilledAt)
		}
	}
	return fresh, nil
}

// record appends trades to the ledger and returns those that could not be
// written. A ledger failure never fails the cycle.
func (e *Engine) record(ctx context.Context, trades []journal.Trade, res *Result) []journal.Trade {
	if len(trades) == 0 || e.ledger == nil {
		return nil
	}
	var failed []journal.Trade
	for _, t := range trades {
		if err := e.ledger.Append(ctx, t); err != nil {
			e.log.Error("ledger append failed; trade kept for retry",
				zap.String("trade_id", t.TradeID),
				zap.String("symbol", t.Symbol),
				zap.Error(err),
			)
			failed = append(failed, t)
			continue
		}
		res.Recorded++
	}
	return failed
}

func (e *Engine) logResult(res Result, err error) {
	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.Int("fetched", res.Fetched),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("stale", res.Stale),
		zap.Int("applied", res.Applied),
		zap.Int("closed", res.Closed),
		zap.Int("corrected", res.Corrected),
		zap.Int("recorded", res.Recorded),
		zap.Bool("ledger_degraded", res.LedgerDegraded),
		zap.Int("open_positions", len(res.Positions)),
		zap.Duration("duration", res.Duration),
	}
	if err != nil {
		e.log.Error("reconcile cycle", append(fields, zap.Error(err))...)
		return
	}
	e.log.Info("reconcile cycle", fields...)
}

func (e *Engine) loadSnapshot() (*Snapshot, error) {
	snap := newSnapshot(e.cfg.Account)
	ok, err := e.store.LoadSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if ok && snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}
	snap.normalise()
	if snap.Account == "" {
		snap.Account = e.cfg.Account
	}
	return snap, nil
}

// Snapshot reads the persisted state. The file is replaced atomically, so
// no lock is needed.
func (e *Engine) Snapshot() (*Snapshot, error) {
	return e.loadSnapshot()
}

func (e *Engine) Positions() (PositionSet, error) {
	snap, err := e.loadSnapshot()
	if err != nil {
		return nil, err
	}
	return snap.Positions, nil
}

func (e *Engine) Cursor() (state.Cursor, error) {
	snap, err := e.loadSnapshot()
	if err != nil {
		return state.Cursor{}, err
	}
	if snap.Cursor.IsZero() {
		return e.store.LoadCursor()
	}
	return snap.Cursor, nil
}

// RegisterOrder stores tag so the trade closed by its fills carries the
// strategy metadata. It waits for a running cycle to finish.
func (e *Engine) RegisterOrder(tag OrderTag) error {
	if err := tag.Validate(); err != nil {
		return err
	}
	release := e.guard.Acquire(e.cfg.Account)
	defer release()

	snap, err := e.loadSnapshot()
	if err != nil {
		return err
	}
	snap.OrderTags[tag.OrderID] = tag
	if err := e.store.SaveSnapshot(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	e.log.Info("order tag registered",
		zap.String("order_id", tag.OrderID),
		zap.String("symbol", tag.Symbol),
		zap.String("role", string(tag.Role)),
	)
	return nil
}
