package portfolio

import (
	"context"
	"fmt"
	"time"

	"tradelab/internal/domain"
)

// Journal stores an account's ledger outside the process.
type Journal interface {
	// RecordTrade appends one executed trade for account and replaces its
	// cash and open positions atomically: either both land or neither does.
	RecordTrade(ctx context.Context, account string, t domain.Trade, cash float64, positions map[string]domain.Position) error

	// SaveHoldings replaces the stored cash and open positions of account.
	SaveHoldings(ctx context.Context, account string, cash float64, positions map[string]domain.Position) error

	// LoadLedger returns the stored state of account. A missing account
	// yields ok=false.
	LoadLedger(ctx context.Context, account string) (state domain.PortfolioState, ok bool, err error)
}

// Compile-time interface check.
var _ Ledger = (*Persistent)(nil)

// Persistent is a Ledger that writes every executed trade and the resulting
// holdings through to a Journal. Accounting is delegated to an in-memory
// Portfolio.
type Persistent struct {
	mem     *Portfolio
	journal Journal
	account string
	timeout time.Duration
}

// NewPersistent wraps mem so that its mutations are journaled under account.
// Each journal write is bounded by timeout.
func NewPersistent(mem *Portfolio, journal Journal, account string, timeout time.Duration) *Persistent {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Persistent{
		mem:     mem,
		journal: journal,
		account: account,
		timeout: timeout,
	}
}

// Account returns the journal key.
func (p *Persistent) Account() string { return p.account }

// Reload replaces the in-memory state with the journaled one. An account
// that was never journaled keeps its current state and is written out.
func (p *Persistent) Reload(ctx context.Context) error {
	state, ok, err := p.journal.LoadLedger(ctx, p.account)
	if err != nil {
		return fmt.Errorf("loading ledger %s: %w", p.account, err)
	}
	if !ok {
		return p.journal.SaveHoldings(ctx, p.account, p.mem.Cash(), p.mem.holdings())
	}
	p.mem.Restore(state)
	return nil
}

// Buy executes on the in-memory ledger and journals the trade.
func (p *Persistent) Buy(symbol string, sig domain.Signal) (domain.Trade, bool, error) {
	t, ok, err := p.mem.Buy(symbol, sig)
	if err != nil || !ok {
		return t, ok, err
	}
	return t, true, p.record(t)
}

// Sell executes on the in-memory ledger and journals the trade.
func (p *Persistent) Sell(symbol string, sig domain.Signal) (domain.Trade, bool, error) {
	t, ok, err := p.mem.Sell(symbol, sig)
	if err != nil || !ok {
		return t, ok, err
	}
	return t, true, p.record(t)
}

// UpdateStop changes the stop in memory and rewrites holdings. A failed
// write is returned; the in-memory stop has already moved.
func (p *Persistent) UpdateStop(symbol string, stop float64) error {
	if _, ok := p.mem.Position(symbol); !ok {
		return nil
	}
	if err := p.mem.UpdateStop(symbol, stop); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.journal.SaveHoldings(ctx, p.account, p.mem.Cash(), p.mem.holdings()); err != nil {
		return fmt.Errorf("journaling stop %s: %w", symbol, err)
	}
	return nil
}

func (p *Persistent) Cash() float64 { return p.mem.Cash() }

func (p *Persistent) Position(symbol string) (domain.Position, bool) { return p.mem.Position(symbol) }

func (p *Persistent) Symbols() []string { return p.mem.Symbols() }

func (p *Persistent) Equity(prices map[string]float64) float64 { return p.mem.Equity(prices) }

func (p *Persistent) TradeCount() int { return p.mem.TradeCount() }

func (p *Persistent) TradesSince(n int) []domain.Trade { return p.mem.TradesSince(n) }

func (p *Persistent) State() domain.PortfolioState { return p.mem.State() }

func (p *Persistent) record(t domain.Trade) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.journal.RecordTrade(ctx, p.account, t, p.mem.Cash(), p.mem.holdings()); err != nil {
		return fmt.Errorf("journaling %s %s: %w", t.Action, t.Symbol, err)
	}
	return nil
}
