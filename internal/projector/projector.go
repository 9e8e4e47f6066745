// Package projector turns live repository streams into two observable
// states: the expense list and the monthly statistics.
package projector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/log"
	"expensetracker/internal/stream"
)

const fallbackListError = "Failed to load expenses"

// ErrClosed is returned by Await when the watched channel closes first.
var ErrClosed = errors.New("state subscription closed")

// Source is the part of the repository the projector reads and writes.
type Source interface {
	InsertExpense(ctx context.Context, e core.Expense) (int64, error)
	DeleteExpense(ctx context.Context, e core.Expense) (int64, error)
	AllExpenses(ctx context.Context) <-chan stream.Update[[]core.Expense]
	ExpensesByMonth(ctx context.Context, start, end int64) <-chan stream.Update[[]core.Expense]
	MonthlyTotal(ctx context.Context, start, end int64) <-chan stream.Update[*float64]
	CategoryTotals(ctx context.Context) <-chan stream.Update[map[string]float64]
}

type Projector struct {
	src       Source
	logger    *log.Logger
	formatter core.Formatter
	clock     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	list      *Observable[ListState]
	listSlot  slot
	stats     *Observable[StatisticsState]
	statsSlot slot
}

type Option func(*Projector)

func WithLogger(l *log.Logger) Option {
	return func(p *Projector) {
		if l != nil {
			p.logger = l.WithComponent(log.ComponentProjector)
		}
	}
}

// WithFormatter sets the currency symbol and the zone used for display and
// for month boundaries.
func WithFormatter(f core.Formatter) Option {
	return func(p *Projector) { p.formatter = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) {
		if now != nil {
			p.clock = now
		}
	}
}

// New builds a projector and starts loading all expenses.
func New(src Source, opts ...Option) *Projector {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Projector{
		src:       src,
		logger:    log.Discard(),
		formatter: core.NewFormatter(core.DefaultCurrencySymbol, time.Local),
		clock:     time.Now,
		ctx:       ctx,
		cancel:    cancel,
		list:      NewObservable[ListState](Loading{}),
		stats:     NewObservable(StatisticsState{CategoryTotals: map[string]float64{}}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.LoadExpenses()
	return p
}

func (p *Projector) now() time.Time {
	loc := p.formatter.Location
	if loc == nil {
		loc = time.Local
	}
	return p.clock().In(loc)
}

// LoadExpenses follows every stored expense. MonthlyTotal only counts records
// in the month that is current when each snapshot arrives.
func (p *Projector) LoadExpenses() {
	ctx, gen := p.listSlot.begin(p.ctx, nil)
	updates := p.src.AllExpenses(ctx)
	go p.consumeList(ctx, gen, updates, func(es []core.Expense) float64 {
		now := p.now()
		var total float64
		for _, e := range es {
			if core.InSameMonth(e.Date, now) {
				total += e.Amount
			}
		}
		return total
	})
}

// LoadExpensesByMonth switches the list to the given calendar month.
func (p *Projector) LoadExpensesByMonth(year int, month time.Month) {
	ctx, gen := p.listSlot.begin(p.ctx, func() { p.list.Set(Loading{}) })
	start, end := core.MonthBounds(year, month, p.now().Location())
	p.logger.DebugContext(ctx, "Loading month",
		log.FieldOperation, log.OpLoadMonth,
		log.FieldYear, year,
		log.FieldMonth, month.String())
	updates := p.src.ExpensesByMonth(ctx, start, end)
	go p.consumeList(ctx, gen, updates, core.SumAmounts)
}

func (p *Projector) consumeList(ctx context.Context, gen uint64, updates <-chan stream.Update[[]core.Expense], total func([]core.Expense) float64) {
	for u := range updates {
		if u.Err != nil {
			msg := u.Err.Error()
			if msg == "" {
				msg = fallbackListError
			}
			p.logger.Failure(ctx, "Expense stream failed", u.Err, log.FieldOperation, log.OpLoad)
			p.listSlot.apply(gen, func() { p.list.Set(Error{Message: msg}) })
			return
		}
		state := p.listStateFor(u.Value, total)
		p.listSlot.apply(gen, func() { p.list.Set(state) })
	}
}

func (p *Projector) listStateFor(es []core.Expense, total func([]core.Expense) float64) ListState {
	if len(es) == 0 {
		return Empty{}
	}
	display := make([]core.DisplayExpense, len(es))
	for i, e := range es {
		display[i] = p.formatter.Display(e)
	}
	return Success{Expenses: display, MonthlyTotal: total(es)}
}

// LoadStatistics combines category totals with the current month's total.
func (p *Projector) LoadStatistics() {
	ctx, gen := p.statsSlot.begin(p.ctx, func() {
		p.stats.Update(func(s StatisticsState) StatisticsState {
			s.IsLoading = true
			return s
		})
	})
	// Both streams share ctx so that a failure in one stops the other.
	ctx, cancel := context.WithCancel(ctx)
	start, end := core.CurrentMonthBounds(p.now())
	totals := p.src.CategoryTotals(ctx)
	monthly := p.src.MonthlyTotal(ctx, start, end)
	go p.combineStatistics(ctx, cancel, gen, totals, monthly)
}

func (p *Projector) combineStatistics(ctx context.Context, cancel context.CancelFunc, gen uint64, totals <-chan stream.Update[map[string]float64], monthly <-chan stream.Update[*float64]) {
	defer cancel()

	var (
		latestTotals  map[string]float64
		latestMonthly float64
		haveTotals    bool
		haveMonthly   bool
	)
	for totals != nil || monthly != nil {
		select {
		case u, ok := <-totals:
			if !ok {
				totals = nil
				continue
			}
			if u.Err != nil {
				p.failStatistics(ctx, gen, u.Err)
				return
			}
			latestTotals, haveTotals = u.Value, true
		case u, ok := <-monthly:
			if !ok {
				monthly = nil
				continue
			}
			if u.Err != nil {
				p.failStatistics(ctx, gen, u.Err)
				return
			}
			latestMonthly = 0
			if u.Value != nil {
				latestMonthly = *u.Value
			}
			haveMonthly = true
		}
		if !haveTotals || !haveMonthly {
			continue
		}

		state := StatisticsState{
			CategoryTotals: copyTotals(latestTotals),
			MonthlyTotal:   latestMonthly,
			AverageDaily:   AverageDaily(latestMonthly, p.now().Day()),
			TopCategory:    TopCategory(latestTotals),
		}
		p.statsSlot.apply(gen, func() { p.stats.Set(state) })
	}
}

func (p *Projector) failStatistics(ctx context.Context, gen uint64, err error) {
	p.logger.Failure(ctx, "Statistics stream failed", err, log.FieldOperation, log.OpStatistics)
	p.statsSlot.apply(gen, func() {
		p.stats.Update(func(s StatisticsState) StatisticsState {
			s.IsLoading = false
			s.ErrorMessage = "Failed to load statistics: " + err.Error()
			return s
		})
	})
}

// AddExpense stores a new record. The list is not reloaded: the live stream
// delivers the change. A failure is returned and also shown as the list's
// Error state.
func (p *Projector) AddExpense(ctx context.Context, amount float64, category string, date int64, note string) (int64, error) {
	e := core.Expense{Amount: amount, Category: category, Date: date}
	if n := strings.TrimSpace(note); n != "" {
		e.Note = &n
	}

	id, err := p.src.InsertExpense(ctx, e)
	if err != nil {
		p.logger.Failure(ctx, "Failed to add expense", err,
			log.FieldOperation, log.OpInsert,
			log.FieldCategory, category)
		p.listSlot.run(func() { p.list.Set(Error{Message: "Failed to add expense: " + err.Error()}) })
		return 0, err
	}

	p.logger.InfoContext(ctx, "Expense added",
		log.FieldExpenseID, id,
		log.FieldAmount, amount,
		log.FieldCategory, category)
	return id, nil
}

// DeleteExpense removes e if the stored record still matches it exactly.
func (p *Projector) DeleteExpense(ctx context.Context, e core.Expense) error {
	n, err := p.src.DeleteExpense(ctx, e)
	if err != nil {
		p.logger.Failure(ctx, "Failed to delete expense", err,
			log.FieldOperation, log.OpDelete,
			log.FieldExpenseID, e.ID)
		p.listSlot.run(func() { p.list.Set(Error{Message: "Failed to delete expense: " + err.Error()}) })
		return err
	}

	p.logger.InfoContext(ctx, "Expense deleted", log.FieldExpenseID, e.ID, log.FieldRows, n)
	return nil
}

func (p *Projector) List() ListState {
	return p.list.Get()
}

func (p *Projector) Statistics() StatisticsState {
	s := p.stats.Get()
	s.CategoryTotals = copyTotals(s.CategoryTotals)
	return s
}

func (p *Projector) SubscribeList(ctx context.Context) <-chan ListState {
	return p.list.Subscribe(ctx)
}

func (p *Projector) SubscribeStatistics(ctx context.Context) <-chan StatisticsState {
	return p.stats.Subscribe(ctx)
}

// Close stops every subscription and closes subscriber channels.
func (p *Projector) Close() {
	p.once.Do(func() {
		p.listSlot.stop()
		p.statsSlot.stop()
		p.cancel()
		p.list.Close()
		p.stats.Close()
	})
}
