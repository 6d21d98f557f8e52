package account

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/tradekeeper/broker"
	"github.com/rustyeddy/tradekeeper/broker/replay"
	"github.com/rustyeddy/tradekeeper/broker/rest"
	"github.com/rustyeddy/tradekeeper/config"
	"github.com/rustyeddy/tradekeeper/journal"
	"github.com/rustyeddy/tradekeeper/market"
	"github.com/rustyeddy/tradekeeper/reconcile"
	"github.com/rustyeddy/tradekeeper/risk"
	"github.com/rustyeddy/tradekeeper/state"
)

// Shared is what every account of one process has in common.
type Shared struct {
	Registry    *risk.Registry
	Instruments *market.Instruments
	Guard       *reconcile.AccountGuard
	Log         *zap.Logger
}

// NewShared builds the strategy registry and instrument catalogue from cfg.
func NewShared(cfg *config.Config, log *zap.Logger) (*Shared, error) {
	reg, err := risk.NewRegistry(cfg.Risk.DefaultPolicy, cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("strategy registry: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Shared{
		Registry:    reg,
		Instruments: market.NewInstruments(market.InstrumentMeta{}, cfg.Instruments...),
		Guard:       reconcile.NewAccountGuard(),
		Log:         log,
	}, nil
}

// Sources opens the fill source and, for REST brokers, the snapshots.
func Sources(fs config.FillSourceConfig) (broker.FillSource, Snapshots, error) {
	switch fs.Type {
	case "rest":
		c := rest.New(fs.BaseURL, fs.Token(), rest.WithTimeout(fs.Timeout))
		return c, Snapshots{Account: c, Positions: c, Orders: c}, nil
	case "replay":
		return &replay.File{Path: fs.Path}, Snapshots{}, nil
	}
	return nil, Snapshots{}, fmt.Errorf("unknown fill source type %q", fs.Type)
}

// Open wires one configured account: state store, ledger, reconciliation
// engine and admission gate.
func Open(cfg *config.Config, ac config.AccountConfig, shared *Shared) (*Account, error) {
	source, snaps, err := Sources(ac.FillSource)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", ac.ID, err)
	}

	store, err := journal.OpenStore(ac.Journal.Type, ac.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("account %s: open journal: %w", ac.ID, err)
	}
	log := shared.Log.With(zap.String("account", ac.ID))
	ledger := journal.NewLedger(store, log)

	engine := reconcile.NewEngine(reconcile.Config{
		Account:      ac.ID,
		SafetyWindow: ac.Reconcile.SafetyWindow,
		FetchTimeout: ac.Reconcile.FetchTimeout,
	}, source, state.NewStore(ac.StateDir), ledger, shared.Guard, shared.Log)

	return New(Settings{
		Equity: ac.Equity,
		Limits: cfg.Risk.Limits,
		Sizing: cfg.Risk.Sizing,
		// Snapshots come from the same broker client as the fills.
		SnapshotTimeout: ac.FillSource.Timeout,
	}, Deps{
		Reconciler:  engine,
		Ledger:      ledger,
		Registry:    shared.Registry,
		Instruments: shared.Instruments,
		Gate:        risk.NewGate(risk.NewEngine(log), cfg.Risk.ReservationTTL),
		Snapshots:   snaps,
		Log:         shared.Log,
	})
}

// OpenAll opens every configured account. Accounts opened before a failure
// are closed.
func OpenAll(cfg *config.Config, log *zap.Logger) ([]*Account, error) {
	shared, err := NewShared(cfg, log)
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(cfg.Accounts))
	for _, ac := range cfg.Accounts {
		a, err := Open(cfg, ac, shared)
		if err != nil {
			for _, opened := range out {
				_ = opened.Close()
			}
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
