package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"expensetracker/internal/core"
	"expensetracker/internal/stream"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	store  *Store
	ctx    context.Context
	cancel context.CancelFunc
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) SetupTest() {
	store, err := Open(filepath.Join(s.T().TempDir(), "expenses.db"))
	s.Require().NoError(err)
	s.store = store
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

func (s *StoreTestSuite) TearDownTest() {
	s.cancel()
	s.NoError(s.store.Close())
}

func next[T any](t *testing.T, ch <-chan stream.Update[T]) T {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "stream closed")
		require.NoError(t, u.Err)
		return u.Value
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for stream delivery")
	}
	var zero T
	return zero
}

func assertQuiet[T any](t *testing.T, ch <-chan stream.Update[T]) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected delivery: %+v", u)
	case <-time.After(100 * time.Millisecond):
	}
}

func note(s string) *string { return &s }

func ms(y int, m time.Month, d, h, mi, sec, msec int) int64 {
	return time.Date(y, m, d, h, mi, sec, msec*int(time.Millisecond), time.UTC).UnixMilli()
}

func (s *StoreTestSuite) TestInsertAndFindByIDRoundTrip() {
	in := core.Expense{Amount: 42.75, Category: core.CategoryFood, Date: ms(2025, 5, 3, 12, 0, 0, 0), Note: note("pizza")}

	id, err := s.store.Insert(s.ctx, in)
	s.Require().NoError(err)
	s.Positive(id)

	got, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got)

	in.ID = id
	s.True(in.Equal(*got), "got %+v want %+v", *got, in)

	noNote := core.Expense{Amount: 1, Category: core.CategoryOther, Date: 1}
	id2, err := s.store.Insert(s.ctx, noNote)
	s.Require().NoError(err)
	s.Greater(id2, id, "ids are monotonic")

	got2, err := s.store.FindByID(s.ctx, id2)
	s.Require().NoError(err)
	s.Nil(got2.Note)
}

func (s *StoreTestSuite) TestFindByIDAbsent() {
	got, err := s.store.FindByID(s.ctx, 999)
	s.NoError(err)
	s.Nil(got)
}

func (s *StoreTestSuite) TestInsertWithExistingIDReplaces() {
	id, err := s.store.Insert(s.ctx, core.Expense{Amount: 10, Category: core.CategoryShopping, Date: 5})
	s.Require().NoError(err)

	replacedID, err := s.store.Insert(s.ctx, core.Expense{ID: id, Amount: 20, Category: core.CategoryEducation, Date: 6})
	s.Require().NoError(err)
	s.Equal(id, replacedID)

	got, err := s.store.FindByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(20.0, got.Amount)
	s.Equal(core.CategoryEducation, got.Category)

	all := next(s.T(), s.store.StreamAll(s.ctx))
	s.Len(all, 1)
}

func (s *StoreTestSuite) TestStreamAllOrderingAndRedelivery() {
	ch := s.store.StreamAll(s.ctx)
	s.Empty(next(s.T(), ch))

	older := core.Expense{Amount: 5, Category: core.CategoryFood, Date: ms(2025, 1, 1, 0, 0, 0, 0)}
	newer := core.Expense{Amount: 7, Category: core.CategoryTransport, Date: ms(2025, 2, 1, 0, 0, 0, 0)}

	olderID, err := s.store.Insert(s.ctx, older)
	s.Require().NoError(err)
	older.ID = olderID
	s.Len(next(s.T(), ch), 1)

	newerID, err := s.store.Insert(s.ctx, newer)
	s.Require().NoError(err)
	newer.ID = newerID

	snapshot := next(s.T(), ch)
	s.Require().Len(snapshot, 2)
	s.Equal(newerID, snapshot[0].ID, "descending by date")
	s.Equal(olderID, snapshot[1].ID)

	n, err := s.store.DeleteByIdentity(s.ctx, older)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	after := next(s.T(), ch)
	s.Require().Len(after, 1)
	s.Equal(newerID, after[0].ID)
	// the earlier delivery still holds the deleted record
	s.Len(snapshot, 2)
}

func (s *StoreTestSuite) TestStreamAllTiesAreStable() {
	date := ms(2025, 3, 3, 3, 3, 3, 3)
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := s.store.Insert(s.ctx, core.Expense{Amount: float64(i + 1), Category: core.CategoryOther, Date: date})
		s.Require().NoError(err)
		ids = append(ids, id)
	}

	snapshot := next(s.T(), s.store.StreamAll(s.ctx))
	s.Require().Len(snapshot, 3)
	s.Equal([]int64{ids[2], ids[1], ids[0]}, []int64{snapshot[0].ID, snapshot[1].ID, snapshot[2].ID})
}

func (s *StoreTestSuite) TestDeleteByIdentityRequiresExactMatch() {
	e := core.Expense{Amount: 9.99, Category: core.CategoryHealthcare, Date: 100, Note: note("pharmacy")}
	id, err := s.store.Insert(s.ctx, e)
	s.Require().NoError(err)
	e.ID = id

	ch := s.store.StreamAll(s.ctx)
	s.Len(next(s.T(), ch), 1)

	stale := e
	stale.Note = note("edited elsewhere")
	n, err := s.store.DeleteByIdentity(s.ctx, stale)
	s.NoError(err)
	s.Zero(n)

	withoutNote := e
	withoutNote.Note = nil
	n, err = s.store.DeleteByIdentity(s.ctx, withoutNote)
	s.NoError(err)
	s.Zero(n)
	assertQuiet(s.T(), ch)

	n, err = s.store.DeleteByIdentity(s.ctx, e)
	s.NoError(err)
	s.Equal(int64(1), n)
	s.Empty(next(s.T(), ch))
}

func (s *StoreTestSuite) TestDeleteNullNoteMatches() {
	e := core.Expense{Amount: 3, Category: core.CategoryBills, Date: 7}
	id, err := s.store.Insert(s.ctx, e)
	s.Require().NoError(err)
	e.ID = id

	n, err := s.store.DeleteByIdentity(s.ctx, e)
	s.NoError(err)
	s.Equal(int64(1), n)
}

func (s *StoreTestSuite) TestStreamByDateRangeBoundaries() {
	start, end := core.MonthBounds(2024, time.January, time.UTC)
	inside := []int64{start, ms(2024, 1, 15, 9, 0, 0, 0), end - 1}
	outside := []int64{start - 1, end}

	for _, d := range append(append([]int64{}, inside...), outside...) {
		_, err := s.store.Insert(s.ctx, core.Expense{Amount: 1, Category: core.CategoryOther, Date: d})
		s.Require().NoError(err)
	}

	got := next(s.T(), s.store.StreamByDateRange(s.ctx, start, end))
	s.Require().Len(got, 3)
	for _, e := range got {
		s.GreaterOrEqual(e.Date, start)
		s.Less(e.Date, end)
	}
	s.Equal(end-1, got[0].Date)
	s.Equal(start, got[2].Date)
}

func (s *StoreTestSuite) TestStreamMonthlyTotal() {
	start, end := core.MonthBounds(2025, time.June, time.UTC)
	ch := s.store.StreamMonthlyTotal(s.ctx, start, end)
	s.Nil(next(s.T(), ch), "absent, not zero, when nothing matches")

	_, err := s.store.Insert(s.ctx, core.Expense{Amount: 50, Category: core.CategoryFood, Date: start})
	s.Require().NoError(err)
	total := next(s.T(), ch)
	s.Require().NotNil(total)
	s.Equal(50.0, *total)

	// outside the range still re-delivers the same total
	_, err = s.store.Insert(s.ctx, core.Expense{Amount: 70, Category: core.CategoryFood, Date: end})
	s.Require().NoError(err)
	total = next(s.T(), ch)
	s.Require().NotNil(total)
	s.Equal(50.0, *total)
}

func (s *StoreTestSuite) TestCategoryTotalsMatchArithmeticSum() {
	faker := gofakeit.New(42)
	categories := append([]string{"Custom label"}, core.Categories...)
	var stored []core.Expense

	ch := s.store.StreamCategoryTotals(s.ctx)
	s.Empty(next(s.T(), ch))

	for i := 0; i < 40; i++ {
		if len(stored) > 0 && faker.IntRange(0, 3) == 0 {
			idx := faker.IntRange(0, len(stored)-1)
			_, err := s.store.DeleteByIdentity(s.ctx, stored[idx])
			s.Require().NoError(err)
			stored = append(stored[:idx], stored[idx+1:]...)
		} else {
			e := core.Expense{
				Amount:   math.Round(faker.Float64Range(0.01, 500)*100) / 100,
				Category: faker.RandomString(categories),
				Date:     faker.DateRange(time.Unix(0, 0), time.Now()).UnixMilli(),
			}
			id, err := s.store.Insert(s.ctx, e)
			s.Require().NoError(err)
			e.ID = id
			stored = append(stored, e)
		}
	}

	want := map[string]float64{}
	for _, e := range stored {
		want[e.Category] += e.Amount
	}

	matches := func(got []core.CategoryTotal) bool {
		if len(got) != len(want) {
			return false
		}
		for _, ct := range got {
			if math.Abs(want[ct.Category]-ct.Total) > 1e-6 {
				return false
			}
		}
		return true
	}

	var got []core.CategoryTotal
	deadline := time.After(3 * time.Second)
	for !matches(got) {
		select {
		case u, ok := <-ch:
			s.Require().True(ok)
			s.Require().NoError(u.Err)
			got = u.Value
		case <-deadline:
			s.FailNow("category totals never converged", "got %v want %v", got, want)
		}
	}

	for i := 1; i < len(got); i++ {
		s.Less(got[i-1].Category, got[i].Category)
	}
}

func (s *StoreTestSuite) TestChangesFeed() {
	changes, unsubscribe := s.store.Changes(4)
	defer unsubscribe()

	e := core.Expense{Amount: 12, Category: core.CategoryEntertainment, Date: 1}
	id, err := s.store.Insert(s.ctx, e)
	s.Require().NoError(err)
	e.ID = id

	c := <-changes
	s.Equal(stream.OpInsert, c.Op)
	s.Equal(id, c.Expense.ID)

	_, err = s.store.DeleteByIdentity(s.ctx, e)
	s.Require().NoError(err)
	c = <-changes
	s.Equal(stream.OpDelete, c.Op)
	s.Equal(id, c.Expense.ID)
}

func TestStoreCloseEndsStreams(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "expenses.db"))
	require.NoError(t, err)

	ch := store.StreamAll(context.Background())
	next(t, ch)

	require.NoError(t, store.Close())
	assert.Eventually(t, func() bool {
		_, ok := <-ch
		return !ok
	}, 3*time.Second, 5*time.Millisecond)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "expenses.db")

	first, err := Open(path)
	require.NoError(t, err)
	id, err := first.Insert(context.Background(), core.Expense{Amount: 1, Category: core.CategoryOther, Date: 1})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestMigrateSchemaReportsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.db")
	latest, err := LatestMigration()
	require.NoError(t, err)
	require.NotZero(t, latest)

	version, err := MigrateSchema(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, latest, version)

	again, err := MigrateSchema(context.Background(), path)
	require.NoError(t, err, "re-running migrations is a no-op")
	assert.Equal(t, version, again)
}
