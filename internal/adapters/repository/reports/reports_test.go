package reports_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lsg-lab/pointward/internal/adapters/repository/reports"
	"github.com/lsg-lab/pointward/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestReportStore(t *testing.T) {
	Convey("Given an empty report store", t, func() {
		ctx := context.Background()
		store := reports.New()

		Convey("When storing a report", func() {
			r := model.Report{
				RunID:       "run-1",
				GeneratedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
				AsOfEventID: 10,
			}
			So(store.Put(ctx, r), ShouldBeNil)

			Convey("Then it should be retrievable by run id", func() {
				got, err := store.Get(ctx, "run-1")
				So(err, ShouldBeNil)
				So(got.AsOfEventID, ShouldEqual, 10)
			})

			Convey("And storing the same run id twice should fail", func() {
				So(errors.Is(store.Put(ctx, r), reports.ErrAlreadyStored), ShouldBeTrue)
			})

			Convey("And listing should order newest first", func() {
				r2 := model.Report{
					RunID:       "run-2",
					GeneratedAt: r.GeneratedAt.Add(time.Hour),
				}
				So(store.Put(ctx, r2), ShouldBeNil)

				all := store.List(ctx)
				So(len(all), ShouldEqual, 2)
				So(all[0].RunID, ShouldEqual, "run-2")
			})
		})

		Convey("When fetching a missing run id", func() {
			_, err := store.Get(ctx, "nope")
			So(errors.Is(err, reports.ErrNotFound), ShouldBeTrue)
		})

		Convey("When storing a report without a run id", func() {
			So(errors.Is(store.Put(ctx, model.Report{}), reports.ErrInvalidReport), ShouldBeTrue)
		})
	})
}
