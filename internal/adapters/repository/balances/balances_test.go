package balances_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lsg-lab/pointward/internal/adapters/repository/balances"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/domain/points"
	. "github.com/smartystreets/goconvey/convey"
)

func addFold(amount points.Amount) func(points.Amount) (points.Amount, error) {
	return func(total points.Amount) (points.Amount, error) {
		return total.Add(amount)
	}
}

func TestAdvance(t *testing.T) {
	Convey("Given an empty balance store", t, func() {
		ctx := context.Background()
		store := balances.New()

		Convey("When folding the first event", func() {
			updated, err := store.Advance(ctx, "42", "wellness", 1, addFold(points.FromInt64(10)))
			So(err, ShouldBeNil)
			So(updated, ShouldBeTrue)

			b, err := store.Get(ctx, "42", "wellness")
			So(err, ShouldBeNil)
			So(b.Total.Equal(points.FromInt64(10)), ShouldBeTrue)
			So(b.LastEventID, ShouldEqual, 1)

			Convey("And replaying the same event should change nothing", func() {
				updated, err := store.Advance(ctx, "42", "wellness", 1, addFold(points.FromInt64(10)))
				So(err, ShouldBeNil)
				So(updated, ShouldBeFalse)

				b, err := store.Get(ctx, "42", "wellness")
				So(err, ShouldBeNil)
				So(b.Total.Equal(points.FromInt64(10)), ShouldBeTrue)
			})

			Convey("And a later event should advance the watermark", func() {
				updated, err := store.Advance(ctx, "42", "wellness", 5, addFold(points.FromInt64(2)))
				So(err, ShouldBeNil)
				So(updated, ShouldBeTrue)

				b, err := store.Get(ctx, "42", "wellness")
				So(err, ShouldBeNil)
				So(b.Total.Equal(points.FromInt64(12)), ShouldBeTrue)
				So(b.LastEventID, ShouldEqual, 5)

				Convey("Then an event behind the watermark should be treated as replay", func() {
					updated, err := store.Advance(ctx, "42", "wellness", 3, addFold(points.FromInt64(100)))
					So(err, ShouldBeNil)
					So(updated, ShouldBeFalse)
				})
			})
		})

		Convey("When the fold fails", func() {
			boom := errors.New("boom")
			_, err := store.Advance(ctx, "42", "wellness", 1, func(points.Amount) (points.Amount, error) {
				return points.Amount{}, boom
			})
			So(errors.Is(err, boom), ShouldBeTrue)

			Convey("Then no row should have been created", func() {
				_, err := store.Get(ctx, "42", "wellness")
				So(errors.Is(err, balances.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When advancing with an invalid event id", func() {
			_, err := store.Advance(ctx, "42", "wellness", 0, addFold(points.FromInt64(1)))
			So(errors.Is(err, balances.ErrInvalidWatermark), ShouldBeTrue)
		})

		Convey("When many goroutines fold distinct events", func() {
			var wg sync.WaitGroup
			for i := int64(1); i <= 50; i++ {
				wg.Add(1)
				go func(id int64) {
					defer wg.Done()
					_, _ = store.Advance(ctx, "42", "wellness", id, addFold(points.FromInt64(1)))
				}(i)
			}
			wg.Wait()

			Convey("Then the watermark should reach the highest id", func() {
				b, err := store.Get(ctx, "42", "wellness")
				So(err, ShouldBeNil)
				So(b.LastEventID, ShouldEqual, 50)
			})
		})
	})
}

func TestReplaceAndQueries(t *testing.T) {
	Convey("Given a store with a few rows", t, func() {
		ctx := context.Background()
		store := balances.New()

		seed := []struct {
			player, attr string
			id           int64
		}{
			{"42", "wellness", 3},
			{"42", "stamina", 2},
			{"7", "wellness", 1},
		}
		for _, s := range seed {
			_, err := store.Advance(ctx, s.player, s.attr, s.id, addFold(points.FromInt64(s.id)))
			So(err, ShouldBeNil)
		}

		Convey("When listing by player", func() {
			rows := store.ListByPlayer(ctx, "42")
			So(len(rows), ShouldEqual, 2)
			So(rows[0].AttributeID, ShouldEqual, "stamina")
			So(rows[1].AttributeID, ShouldEqual, "wellness")
		})

		Convey("When taking a snapshot", func() {
			rows := store.Snapshot(ctx)
			So(len(rows), ShouldEqual, 3)
			So(rows[0].PlayerID, ShouldEqual, "7")
			So(store.Count(ctx), ShouldEqual, 3)
		})

		Convey("When replacing with a recomputed row at the same watermark", func() {
			err := store.Replace(ctx, model.Balance{
				PlayerID:    "42",
				AttributeID: "wellness",
				Total:       points.FromInt64(99),
				LastEventID: 3,
			})
			So(err, ShouldBeNil)

			b, err := store.Get(ctx, "42", "wellness")
			So(err, ShouldBeNil)
			So(b.Total.Equal(points.FromInt64(99)), ShouldBeTrue)
			So(b.LastRecomputedAt.IsZero(), ShouldBeFalse)
		})

		Convey("When replacing with a stale recompute", func() {
			err := store.Replace(ctx, model.Balance{
				PlayerID:    "42",
				AttributeID: "wellness",
				Total:       points.FromInt64(1),
				LastEventID: 2, // stored watermark is 3
			})
			So(errors.Is(err, balances.ErrConflict), ShouldBeTrue)
		})
	})
}
