package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/startupx/market-engine/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// runStoreSuite exercises the behaviour every Store implementation shares.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	seed := func(t *testing.T, s Store) {
		t.Helper()
		for _, st := range []model.Startup{
			{ID: "acme", Name: "Acme", Batch: "Winter 2024", Rating: 1500, CreatedAt: now},
			{ID: "beta", Name: "Beta", Batch: "Summer 2023", Rating: 1600, CreatedAt: now},
			{ID: "cora", Name: "Cora", Batch: "Winter 2024", Rating: 1400, CreatedAt: now},
		} {
			require.NoError(t, s.CreateStartup(ctx, &st))
		}
		require.NoError(t, s.CreateUser(ctx, &model.User{ID: "u1", Balance: d("10000"), FreeGifts: 5, CreatedAt: now}))
	}

	t.Run("startups", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		st, err := s.GetStartup(ctx, "beta")
		require.NoError(t, err)
		assert.Equal(t, "Beta", st.Name)
		assert.Equal(t, 1600.0, st.Rating)
		assert.Nil(t, st.Rank)

		_, err = s.GetStartup(ctx, "nope")
		assert.True(t, IsNotFound(err), "got %v", err)

		err = s.CreateStartup(ctx, &model.Startup{ID: "acme", Name: "Again", Rating: 1500, CreatedAt: now})
		assert.ErrorIs(t, err, ErrDuplicateKey)

		all, err := s.ListStartups(ctx, StartupFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"acme", "beta", "cora"}, startupIDs(all))

		w24, err := s.ListStartups(ctx, StartupFilter{Batch: "Winter 2024"})
		require.NoError(t, err)
		assert.Equal(t, []string{"acme", "cora"}, startupIDs(w24))

		some, err := s.ListStartups(ctx, StartupFilter{IDs: []string{"cora", "beta"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"beta", "cora"}, startupIDs(some))

		require.NoError(t, s.UpdateStartupRating(ctx, "acme", 1516.25))
		require.NoError(t, s.UpdateStartupRank(ctx, "acme", 2))
		st, err = s.GetStartup(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 1516.25, st.Rating)
		require.NotNil(t, st.Rank)
		assert.Equal(t, 2, *st.Rank)

		assert.True(t, IsNotFound(s.UpdateStartupRating(ctx, "nope", 1)))
	})

	t.Run("comparisons keep insertion order", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		for i, c := range []model.Comparison{
			{ID: "c1", UserID: "u1", StartupAID: "acme", StartupBID: "beta", ChosenID: "acme"},
			{ID: "c2", UserID: "u2", StartupAID: "beta", StartupBID: "cora", ChosenID: "cora"},
			{ID: "c3", UserID: "u1", StartupAID: "cora", StartupBID: "acme", ChosenID: "acme"},
		} {
			c.CreatedAt = now.Add(time.Duration(i) * time.Second)
			require.NoError(t, s.AppendComparison(ctx, &c))
		}

		all, err := s.ListComparisons(ctx, ComparisonFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c2", "c3"}, comparisonIDs(all))

		mine, err := s.ListComparisons(ctx, ComparisonFilter{UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"c1", "c3"}, comparisonIDs(mine))

		cora, err := s.ListComparisons(ctx, ComparisonFilter{StartupIDs: []string{"cora"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"c2", "c3"}, comparisonIDs(cora))

		dup := model.Comparison{ID: "c1", UserID: "u1", StartupAID: "acme", StartupBID: "beta", ChosenID: "beta", CreatedAt: now}
		assert.ErrorIs(t, s.AppendComparison(ctx, &dup), ErrDuplicateKey)
	})

	t.Run("users and wallets", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(d("10000")))
		assert.Equal(t, 5, u.FreeGifts)

		require.NoError(t, s.UpdateWallet(ctx, "u1", d("9876.54")))
		require.NoError(t, s.UpdateFreeGifts(ctx, "u1", 4))
		u, err = s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(d("9876.54")), "balance = %s", u.Balance)
		assert.Equal(t, 4, u.FreeGifts)

		assert.True(t, IsNotFound(s.UpdateWallet(ctx, "ghost", d("1"))))
		_, err = s.GetUser(ctx, "ghost")
		assert.True(t, IsNotFound(err))
	})

	t.Run("positions round trip side and sign", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		_, err := s.GetPosition(ctx, "u1", "acme")
		assert.True(t, IsNotFound(err))

		long := model.Long("u1", "acme", 20, d("15"))
		long.UpdatedAt = now
		short := model.Short("u1", "beta", 7, d("16.25"))
		short.UpdatedAt = now
		require.NoError(t, s.UpsertPosition(ctx, &long))
		require.NoError(t, s.UpsertPosition(ctx, &short))

		got, err := s.GetPosition(ctx, "u1", "beta")
		require.NoError(t, err)
		assert.Equal(t, model.SideShort, got.Side)
		assert.Equal(t, int64(7), got.Shares)
		assert.Equal(t, int64(-7), got.Quantity())
		assert.True(t, got.AverageCost.Equal(d("16.25")))

		long.Shares = 5
		require.NoError(t, s.UpsertPosition(ctx, &long))
		list, err := s.ListPositions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "acme", list[0].StartupID)
		assert.Equal(t, int64(5), list[0].Shares)
		assert.Equal(t, model.SideLong, list[0].Side)

		require.NoError(t, s.DeletePosition(ctx, "u1", "acme"))
		list, err = s.ListPositions(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "beta", list[0].StartupID)
	})

	t.Run("trades", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		for i, tr := range []model.Trade{
			{ID: "t1", UserID: "u1", StartupID: "acme", Kind: model.KindBuy, Quantity: 10, Price: d("15"), TotalValue: d("150")},
			{ID: "t2", UserID: "u1", StartupID: "acme", Kind: model.KindSell, Quantity: 4, Price: d("15.5"), TotalValue: d("62")},
		} {
			tr.CreatedAt = now.Add(time.Duration(i) * time.Second)
			require.NoError(t, s.AppendTrade(ctx, &tr))
		}

		trades, err := s.ListTrades(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, trades, 2)
		assert.Equal(t, "t1", trades[0].ID)
		assert.Equal(t, model.KindSell, trades[1].Kind)
		assert.True(t, trades[1].TotalValue.Equal(d("62")))

		other, err := s.ListTrades(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("transaction commits every write", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		err := s.WithinTx(ctx, func(tx Store) error {
			require.NoError(t, tx.LockUser(ctx, "u1"))
			require.NoError(t, tx.LockStartups(ctx, "acme", "beta"))
			if err := tx.UpdateWallet(ctx, "u1", d("9850")); err != nil {
				return err
			}
			p := model.Long("u1", "acme", 10, d("15"))
			p.UpdatedAt = now
			if err := tx.UpsertPosition(ctx, &p); err != nil {
				return err
			}
			// Nested calls join the outer transaction.
			return tx.WithinTx(ctx, func(inner Store) error {
				return inner.AppendTrade(ctx, &model.Trade{
					ID: "t1", UserID: "u1", StartupID: "acme", Kind: model.KindBuy,
					Quantity: 10, Price: d("15"), TotalValue: d("150"), CreatedAt: now,
				})
			})
		})
		require.NoError(t, err)

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(d("9850")))
		_, err = s.GetPosition(ctx, "u1", "acme")
		assert.NoError(t, err)
		trades, err := s.ListTrades(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, trades, 1)
	})

	t.Run("locks on missing rows", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)

		err := s.WithinTx(ctx, func(tx Store) error {
			assert.True(t, IsNotFound(tx.LockUser(ctx, "ghost")))
			assert.NoError(t, tx.LockStartups(ctx, "acme", "ghost"))
			return nil
		})
		require.NoError(t, err)

		// Outside a transaction locks are no-ops.
		assert.NoError(t, s.LockUser(ctx, "ghost"))
		assert.NoError(t, s.LockStartups(ctx, "ghost"))
	})

	t.Run("transaction error rolls back every write", func(t *testing.T) {
		s := newStore(t)
		seed(t, s)
		boom := errors.New("boom")

		err := s.WithinTx(ctx, func(tx Store) error {
			if err := tx.UpdateWallet(ctx, "u1", d("1")); err != nil {
				return err
			}
			if err := tx.UpdateStartupRating(ctx, "acme", 1999); err != nil {
				return err
			}
			if err := tx.AppendComparison(ctx, &model.Comparison{
				ID: "c1", UserID: "u1", StartupAID: "acme", StartupBID: "beta", ChosenID: "acme", CreatedAt: now,
			}); err != nil {
				return err
			}
			p := model.Short("u1", "beta", 3, d("16"))
			p.UpdatedAt = now
			if err := tx.UpsertPosition(ctx, &p); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(d("10000")), "balance = %s", u.Balance)
		st, err := s.GetStartup(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, 1500.0, st.Rating)
		log, err := s.ListComparisons(ctx, ComparisonFilter{})
		require.NoError(t, err)
		assert.Empty(t, log)
		_, err = s.GetPosition(ctx, "u1", "beta")
		assert.True(t, IsNotFound(err))
	})
}

func startupIDs(list []model.Startup) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func comparisonIDs(list []model.Comparison) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}
