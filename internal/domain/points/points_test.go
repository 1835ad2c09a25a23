package points_test

import (
	"errors"
	"testing"

	"github.com/lsg-lab/pointward/internal/domain/points"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAmount(t *testing.T) {
	Convey("Given decimal amounts", t, func() {
		Convey("When parsing valid strings", func() {
			a, err := points.Parse("0.01")
			So(err, ShouldBeNil)
			So(a.String(), ShouldEqual, "0.01")

			b, err := points.Parse("-3.5")
			So(err, ShouldBeNil)
			So(b.Sign(), ShouldEqual, -1)
		})

		Convey("When parsing an invalid string", func() {
			_, err := points.Parse("ten")
			So(errors.Is(err, points.ErrInvalidAmount), ShouldBeTrue)
		})

		Convey("When doing arithmetic that floats get wrong", func() {
			// 0.1 + 0.2 must be exactly 0.3.
			a := points.MustParse("0.1")
			b := points.MustParse("0.2")
			sum, err := a.Add(b)
			So(err, ShouldBeNil)
			So(sum.Equal(points.MustParse("0.3")), ShouldBeTrue)

			// 1000 * 0.01 must be exactly 10.
			prod, err := points.FromInt64(1000).Mul(points.MustParse("0.01"))
			So(err, ShouldBeNil)
			So(prod.Equal(points.FromInt64(10)), ShouldBeTrue)
		})

		Convey("When comparing amounts", func() {
			So(points.Zero().IsZero(), ShouldBeTrue)
			So(points.MustParse("2.50").Equal(points.MustParse("2.5")), ShouldBeTrue)
			So(points.FromInt64(3).Cmp(points.FromInt64(4)), ShouldEqual, -1)

			diff, err := points.FromInt64(4).Sub(points.FromInt64(4))
			So(err, ShouldBeNil)
			So(diff.IsZero(), ShouldBeTrue)
		})

		Convey("When round-tripping through JSON", func() {
			a := points.MustParse("12.345")
			raw, err := a.MarshalJSON()
			So(err, ShouldBeNil)
			So(string(raw), ShouldEqual, `"12.345"`)

			var back points.Amount
			So(back.UnmarshalJSON(raw), ShouldBeNil)
			So(back.Equal(a), ShouldBeTrue)
		})
	})
}

func TestAggregators(t *testing.T) {
	Convey("Given the aggregation kinds", t, func() {
		Convey("When folding with sum", func() {
			agg, err := points.ForKind(points.KindSum, "")
			So(err, ShouldBeNil)
			So(agg.Kind(), ShouldEqual, points.KindSum)

			c, err := agg.Contribution(points.FromInt64(7), points.MustParse("0.5"))
			So(err, ShouldBeNil)
			// Sum ignores the mapping weight.
			So(c.Equal(points.FromInt64(7)), ShouldBeTrue)

			total, err := agg.Fold(points.FromInt64(3), c)
			So(err, ShouldBeNil)
			So(total.Equal(points.FromInt64(10)), ShouldBeTrue)
		})

		Convey("When folding with weighted_sum", func() {
			agg, err := points.ForKind(points.KindWeightedSum, "")
			So(err, ShouldBeNil)

			c, err := agg.Contribution(points.FromInt64(1000), points.MustParse("0.01"))
			So(err, ShouldBeNil)
			So(c.Equal(points.FromInt64(10)), ShouldBeTrue)

			total, err := agg.Fold(points.Zero(), c)
			So(err, ShouldBeNil)
			So(total.Equal(points.FromInt64(10)), ShouldBeTrue)
		})

		Convey("When folding with max", func() {
			agg, err := points.ForKind(points.KindMax, "")
			So(err, ShouldBeNil)

			c, err := agg.Contribution(points.FromInt64(8), points.FromInt64(1))
			So(err, ShouldBeNil)

			total, err := agg.Fold(points.FromInt64(5), c)
			So(err, ShouldBeNil)
			So(total.Equal(points.FromInt64(8)), ShouldBeTrue)

			// A lower contribution leaves the total alone.
			lower, err := agg.Contribution(points.FromInt64(2), points.FromInt64(1))
			So(err, ShouldBeNil)
			total, err = agg.Fold(total, lower)
			So(err, ShouldBeNil)
			So(total.Equal(points.FromInt64(8)), ShouldBeTrue)
		})

		Convey("When resolving an unknown kind", func() {
			_, err := points.ForKind(points.Kind("median"), "")
			So(errors.Is(err, points.ErrUnknownAggregation), ShouldBeTrue)
		})
	})
}

func TestFormulaRegistry(t *testing.T) {
	Convey("Given the formula registry", t, func() {
		half := func(raw, _ points.Amount) (points.Amount, error) {
			return raw.Mul(points.MustParse("0.5"))
		}

		Convey("When registering and resolving a custom formula", func() {
			So(points.RegisterFormula("halved", half), ShouldBeNil)

			agg, err := points.ForKind(points.KindCustom, "halved")
			So(err, ShouldBeNil)
			So(agg.Kind(), ShouldEqual, points.KindCustom)

			c, err := agg.Contribution(points.FromInt64(10), points.FromInt64(1))
			So(err, ShouldBeNil)
			So(c.Equal(points.FromInt64(5)), ShouldBeTrue)

			Convey("Then re-registering the same name should fail", func() {
				So(errors.Is(points.RegisterFormula("halved", half), points.ErrDuplicateFormula), ShouldBeTrue)
			})
		})

		Convey("When resolving a custom kind with no registered formula", func() {
			_, err := points.ForKind(points.KindCustom, "missing")
			So(errors.Is(err, points.ErrUnknownFormula), ShouldBeTrue)
		})

		Convey("When registering an invalid formula", func() {
			So(errors.Is(points.RegisterFormula("", half), points.ErrInvalidFormula), ShouldBeTrue)
			So(errors.Is(points.RegisterFormula("nilfn", nil), points.ErrInvalidFormula), ShouldBeTrue)
		})
	})
}
