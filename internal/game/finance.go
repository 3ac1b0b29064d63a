package game

import (
	"errors"
	"log/slog"
	"math"
	"slices"

	"github.com/google/uuid"

	"github.com/talgya/hexcity/internal/economy"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrNotFound      = errors.New("not found")
)

// InvestmentKind labels an investment product.
type InvestmentKind string

const (
	Deposit InvestmentKind = "deposit"
	Stocks  InvestmentKind = "stocks"
	Bonds   InvestmentKind = "bonds"
)

// Investment is principal locked away earning simple interest per hour.
type Investment struct {
	ID          string         `json:"id"`
	Kind        InvestmentKind `json:"kind"`
	Amount      float64        `json:"amount"`
	RatePerHour float64        `json:"ratePerHour"`
	CreatedAt   int64          `json:"createdAt"`
}

// Profit is the whole coins earned by nowMs.
func (inv Investment) Profit(nowMs int64) float64 {
	return math.Floor(inv.Amount * inv.RatePerHour * hoursSince(inv.CreatedAt, nowMs))
}

// Loan is borrowed principal charging simple interest per hour.
type Loan struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	RatePerHour float64 `json:"ratePerHour"`
	Paid        float64 `json:"paid"`
	CreatedAt   int64   `json:"createdAt"`
}

// Owed is principal plus interest to nowMs, minus payments made.
func (l Loan) Owed(nowMs int64) float64 {
	total := l.Amount * (1 + l.RatePerHour*hoursSince(l.CreatedAt, nowMs))
	return max(0, total-l.Paid)
}

func hoursSince(from, to int64) float64 {
	return float64(max(0, to-from)) / economy.MsPerHour
}

func validAmount(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func validRate(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// restoreLedgerLocked loads the finance book when the persister keeps one.
// Entries with a bad amount or rate are dropped.
func (s *Store) restoreLedgerLocked() {
	lp, ok := s.persister.(LedgerPersister)
	if !ok {
		return
	}
	book, err := lp.LoadLedger()
	switch {
	case errors.Is(err, ErrNoSnapshot):
		return
	case err != nil:
		slog.Warn("finance book unreadable, starting without positions", "error", err)
		return
	}
	now := s.nowMs()
	for _, inv := range book.Investments {
		if !validAmount(inv.Amount) || !validRate(inv.RatePerHour) {
			continue
		}
		if inv.ID == "" {
			inv.ID = uuid.NewString()
		}
		inv.CreatedAt = min(inv.CreatedAt, now)
		s.investments = append(s.investments, inv)
	}
	for _, l := range book.Loans {
		if !validAmount(l.Amount) || !validRate(l.RatePerHour) || l.Paid < 0 || math.IsNaN(l.Paid) {
			continue
		}
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		l.CreatedAt = min(l.CreatedAt, now)
		s.loans = append(s.loans, l)
	}
	slog.Info("finance book restored", "investments", len(s.investments), "loans", len(s.loans))
}

// persistLedgerLocked writes the finance book. Failures are logged.
func (s *Store) persistLedgerLocked(op string) {
	lp, ok := s.persister.(LedgerPersister)
	if !ok {
		return
	}
	book := Ledger{Investments: slices.Clone(s.investments), Loans: slices.Clone(s.loans)}
	if err := lp.SaveLedger(book); err != nil {
		slog.Warn("save finance book failed", "op", op, "error", err)
	}
}

// Investments returns the open investments.
func (s *Store) Investments() []Investment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.investments)
}

// Loans returns the outstanding loans.
func (s *Store) Loans() []Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.loans)
}

// Invest moves amount from the balance into a new investment.
func (s *Store) Invest(kind InvestmentKind, amount, ratePerHour float64) (Investment, error) {
	if !validAmount(amount) || !validRate(ratePerHour) {
		return Investment{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.spendLocked(amount) {
		return Investment{}, ErrInsufficientFunds
	}
	inv := Investment{
		ID:          uuid.NewString(),
		Kind:        kind,
		Amount:      amount,
		RatePerHour: ratePerHour,
		CreatedAt:   s.nowMs(),
	}
	s.investments = append(s.investments, inv)
	s.persistLedgerLocked("invest")
	s.persistLocked("invest")
	return inv, nil
}

// CollectInvestment closes an investment, returning principal plus profit
// to the balance. The credited total is returned.
func (s *Store) CollectInvestment(id string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.investments, func(inv Investment) bool { return inv.ID == id })
	if i < 0 {
		return 0, ErrNotFound
	}
	inv := s.investments[i]
	payout := inv.Amount + inv.Profit(s.nowMs())
	s.investments = slices.Delete(s.investments, i, i+1)
	s.coins += payout
	s.persistLedgerLocked("collect_investment")
	s.persistLocked("collect_investment")
	return payout, nil
}

// TakeLoan credits amount and records the debt.
func (s *Store) TakeLoan(amount, ratePerHour float64) (Loan, error) {
	if !validAmount(amount) || !validRate(ratePerHour) {
		return Loan{}, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loan := Loan{
		ID:          uuid.NewString(),
		Amount:      amount,
		RatePerHour: ratePerHour,
		CreatedAt:   s.nowMs(),
	}
	s.loans = append(s.loans, loan)
	s.coins += amount
	s.persistLedgerLocked("take_loan")
	s.persistLocked("take_loan")
	return loan, nil
}

// PayLoan pays up to payment toward a loan and returns what is still owed.
// A fully repaid loan is closed. Payments beyond the debt are not taken.
func (s *Store) PayLoan(id string, payment float64) (float64, error) {
	if !validAmount(payment) {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.loans, func(l Loan) bool { return l.ID == id })
	if i < 0 {
		return 0, ErrNotFound
	}
	now := s.nowMs()
	owed := s.loans[i].Owed(now)
	payment = min(payment, owed)
	if !s.spendLocked(payment) {
		return owed, ErrInsufficientFunds
	}
	s.loans[i].Paid += payment
	remaining := s.loans[i].Owed(now)
	if remaining < 0.01 {
		s.loans = slices.Delete(s.loans, i, i+1)
		remaining = 0
	}
	s.persistLedgerLocked("pay_loan")
	s.persistLocked("pay_loan")
	return remaining, nil
}

// DeclareBankruptcy wipes the city along with every investment and loan.
func (s *Store) DeclareBankruptcy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}
