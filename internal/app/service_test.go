package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	service "github.com/lsg-lab/pointward/internal/app"
	"github.com/lsg-lab/pointward/internal/domain/catalog"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/domain/points"
	"github.com/lsg-lab/pointward/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newService(ctx context.Context, opts ...service.Option) *service.Service {
	s := service.New(opts...)
	if err := s.Start(ctx); err != nil {
		panic(err)
	}
	return s
}

func defineWellness(ctx context.Context, s *service.Service) {
	if _, err := s.DefineAttribute(ctx, catalog.AttributeVersion{
		AttributeID:   "wellness",
		Name:          "Wellness",
		Aggregation:   points.KindWeightedSum,
		EffectiveFrom: t0,
	}); err != nil {
		panic(err)
	}
	if _, err := s.UpdateMapping(ctx, catalog.MappingVersion{
		DimensionID:   "activity",
		MechanicID:    "steps",
		AttributeID:   "wellness",
		Weight:        points.MustParse("0.01"),
		EffectiveFrom: t0,
	}); err != nil {
		panic(err)
	}
}

// registerFormula tolerates re-registration across convey re-runs.
func registerFormula(name string, f points.Formula) {
	if err := points.RegisterFormula(name, f); err != nil && !errors.Is(err, points.ErrDuplicateFormula) {
		panic(err)
	}
}

// defineCustom installs a custom attribute fed by the activity/steps mapping.
func defineCustom(ctx context.Context, s *service.Service, attributeID, formulaRef string) {
	if _, err := s.DefineAttribute(ctx, catalog.AttributeVersion{
		AttributeID:   attributeID,
		Name:          attributeID,
		Aggregation:   points.KindCustom,
		FormulaRef:    formulaRef,
		EffectiveFrom: t0,
	}); err != nil {
		panic(err)
	}
	if _, err := s.UpdateMapping(ctx, catalog.MappingVersion{
		DimensionID:   "activity",
		MechanicID:    "steps",
		AttributeID:   attributeID,
		Weight:        points.FromInt64(1),
		EffectiveFrom: t0,
	}); err != nil {
		panic(err)
	}
}

// waitForBalance polls until the asynchronous derivation catches up.
func waitForBalance(ctx context.Context, s *service.Service, playerID, attributeID string, want points.Amount) model.Balance {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		b, err := s.Balance(ctx, playerID, attributeID)
		if err == nil && b.Total.Equal(want) {
			return b
		}
		time.Sleep(2 * time.Millisecond)
	}
	b, _ := s.Balance(ctx, playerID, attributeID)
	return b
}

func TestIngestDerivation(t *testing.T) {
	Convey("Given a running service with a wellness catalog", t, func() {
		ctx := context.Background()
		s := newService(ctx, service.WithWorkerCount(4), service.WithQueueSize(1024))
		defer s.Stop()
		defineWellness(ctx, s)

		Convey("When a thousand step events of 0.01 weight are ingested", func() {
			for i := 0; i < 1000; i++ {
				res, err := s.Ingest(ctx, service.IngestRequest{
					PlayerID:       "42",
					Source:         model.SourceSensor,
					DimensionID:    "activity",
					MechanicID:     "steps",
					RawValue:       points.FromInt64(1),
					OccurredAt:     t0.Add(time.Duration(i) * time.Second),
					IdempotencyKey: fmt.Sprintf("steps-%d", i),
				})
				So(err, ShouldBeNil)
				So(res.Duplicate, ShouldBeFalse)
				So(res.Event.EventID, ShouldEqual, int64(i+1))
			}

			Convey("Then the balance should settle at exactly 10.00", func() {
				b := waitForBalance(ctx, s, "42", "wellness", points.MustParse("10.00"))
				So(b.Total.String(), ShouldEqual, "10.00")
				So(b.LastEventID, ShouldEqual, 1000)

				Convey("And a consistency check should find no drift", func() {
					report, err := s.RunCheck(ctx, model.Scope{})
					So(err, ShouldBeNil)
					So(report.Mismatches, ShouldBeEmpty)
					So(report.Pairs, ShouldEqual, 1)
				})
			})
		})

		Convey("When the same idempotency key is submitted twice", func() {
			req := service.IngestRequest{
				PlayerID:       "42",
				Source:         model.SourceGameRedemption,
				DimensionID:    "activity",
				MechanicID:     "steps",
				RawValue:       points.FromInt64(500),
				OccurredAt:     t0,
				IdempotencyKey: "redeem-1",
			}
			first, err := s.Ingest(ctx, req)
			So(err, ShouldBeNil)
			So(first.Duplicate, ShouldBeFalse)

			second, err := s.Ingest(ctx, req)
			So(err, ShouldBeNil)

			Convey("Then the second submission should be a duplicate pointing at the stored event", func() {
				So(second.Duplicate, ShouldBeTrue)
				So(second.Event.EventID, ShouldEqual, first.Event.EventID)
			})

			Convey("Then only one contribution should reach the balance", func() {
				b := waitForBalance(ctx, s, "42", "wellness", points.MustParse("5.00"))
				So(b.Total.Equal(points.MustParse("5.00")), ShouldBeTrue)
			})
		})

		Convey("When an event arrives for an unmapped dimension", func() {
			res, err := s.Ingest(ctx, service.IngestRequest{
				PlayerID:       "42",
				Source:         model.SourceSensor,
				DimensionID:    "sleep",
				RawValue:       points.FromInt64(8),
				OccurredAt:     t0,
				IdempotencyKey: "sleep-1",
			})
			So(err, ShouldBeNil)

			Convey("Then it should be quarantined, not applied", func() {
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) && len(s.Unmapped(ctx)) == 0 {
					time.Sleep(2 * time.Millisecond)
				}
				unmapped := s.Unmapped(ctx)
				So(len(unmapped), ShouldEqual, 1)
				So(unmapped[0].Event.EventID, ShouldEqual, res.Event.EventID)
				So(len(s.Balances(ctx, "42")), ShouldEqual, 0)
			})
		})
	})
}

func TestQueries(t *testing.T) {
	Convey("Given a service with a few recorded events", t, func() {
		ctx := context.Background()
		s := newService(ctx, service.WithMaxHistoryLimit(3))
		defer s.Stop()
		defineWellness(ctx, s)

		for i := 0; i < 5; i++ {
			_, err := s.Ingest(ctx, service.IngestRequest{
				PlayerID:       "42",
				Source:         model.SourceSensor,
				DimensionID:    "activity",
				MechanicID:     "steps",
				RawValue:       points.FromInt64(100),
				OccurredAt:     t0.Add(time.Duration(i) * time.Minute),
				IdempotencyKey: fmt.Sprintf("h-%d", i),
			})
			So(err, ShouldBeNil)
		}

		Convey("When history is queried", func() {
			events, err := s.History(ctx, "42", "", 0)
			So(err, ShouldBeNil)

			Convey("Then it should be newest first and capped by the limit", func() {
				So(len(events), ShouldEqual, 3)
				So(events[0].EventID, ShouldEqual, 5)
				So(events[2].EventID, ShouldEqual, 3)
			})
		})

		Convey("When history is filtered by dimension", func() {
			events, err := s.History(ctx, "42", "nothing-here", 10)
			So(err, ShouldBeNil)
			So(events, ShouldBeEmpty)
		})

		Convey("When a single event is fetched", func() {
			e, err := s.Event(ctx, 2)
			So(err, ShouldBeNil)
			So(e.IdempotencyKey, ShouldEqual, "h-1")
		})

		Convey("When the catalog listings are read", func() {
			attrs := s.Attributes(ctx)
			So(len(attrs), ShouldEqual, 1)
			So(attrs[0].AttributeID, ShouldEqual, "wellness")

			mappings := s.Mappings(ctx)
			So(len(mappings), ShouldEqual, 1)
			So(mappings[0].DimensionID, ShouldEqual, "activity")
		})

		Convey("When reports are listed after two check runs", func() {
			waitForBalance(ctx, s, "42", "wellness", points.MustParse("5.00"))
			first, err := s.RunCheck(ctx, model.Scope{})
			So(err, ShouldBeNil)
			second, err := s.RunCheck(ctx, model.Scope{PlayerIDs: []string{"42"}})
			So(err, ShouldBeNil)

			Convey("Then the newest report should come back first", func() {
				list := s.Reports(ctx)
				So(len(list), ShouldEqual, 2)
				So(list[0].RunID, ShouldEqual, second.RunID)

				got, err := s.Report(ctx, first.RunID)
				So(err, ShouldBeNil)
				So(got.RunID, ShouldEqual, first.RunID)
			})
		})

		Convey("When stats are read", func() {
			stats := s.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["totalEvents"], ShouldEqual, 5)
		})
	})
}

func TestIngestBackpressure(t *testing.T) {
	Convey("Given one slow worker behind a single-slot queue", t, func() {
		ctx := context.Background()
		registerFormula("paced-unit", func(raw, _ points.Amount) (points.Amount, error) {
			time.Sleep(15 * time.Millisecond)
			return raw, nil
		})

		s := newService(ctx, service.WithWorkerCount(1), service.WithQueueSize(1))
		defer s.Stop()
		defineCustom(ctx, s, "stamina", "paced-unit")

		Convey("When one player's ingests outrun derivation", func() {
			const n = 6
			for i := 0; i < n; i++ {
				res, err := s.Ingest(ctx, service.IngestRequest{
					PlayerID:       "42",
					Source:         model.SourceSensor,
					DimensionID:    "activity",
					MechanicID:     "steps",
					RawValue:       points.FromInt64(1),
					OccurredAt:     t0.Add(time.Duration(i) * time.Second),
					IdempotencyKey: fmt.Sprintf("burst-%d", i),
				})
				So(err, ShouldBeNil)
				So(res.Event.EventID, ShouldEqual, int64(i+1))
			}

			Convey("Then every contribution should land despite the full shard", func() {
				b := waitForBalance(ctx, s, "42", "stamina", points.FromInt64(n))
				So(b.Total.Equal(points.FromInt64(n)), ShouldBeTrue)
				So(b.LastEventID, ShouldEqual, int64(n))

				Convey("And a consistency check should find no drift", func() {
					report, err := s.RunCheck(ctx, model.Scope{})
					So(err, ShouldBeNil)
					So(report.Mismatches, ShouldBeEmpty)
					So(report.AsOfEventID, ShouldEqual, int64(n))
				})
			})
		})
	})
}

func TestFailedApplyQuarantine(t *testing.T) {
	Convey("Given an attribute whose formula always errors", t, func() {
		ctx := context.Background()
		registerFormula("short-circuit", func(points.Amount, points.Amount) (points.Amount, error) {
			return points.Amount{}, errors.New("sensor calibration drift")
		})

		s := newService(ctx, service.WithWorkerCount(2))
		defer s.Stop()
		defineCustom(ctx, s, "volatile", "short-circuit")

		Convey("When an event for it is ingested", func() {
			res, err := s.Ingest(ctx, service.IngestRequest{
				PlayerID:       "42",
				Source:         model.SourceSensor,
				DimensionID:    "activity",
				MechanicID:     "steps",
				RawValue:       points.FromInt64(3),
				OccurredAt:     t0,
				IdempotencyKey: "volatile-1",
			})
			So(err, ShouldBeNil)

			Convey("Then the event should be quarantined with the failure, balance untouched", func() {
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) && len(s.Unmapped(ctx)) == 0 {
					time.Sleep(2 * time.Millisecond)
				}
				unmapped := s.Unmapped(ctx)
				So(len(unmapped), ShouldEqual, 1)
				So(unmapped[0].Event.EventID, ShouldEqual, res.Event.EventID)
				So(unmapped[0].Reason, ShouldContainSubstring, "sensor calibration drift")
				So(s.Balances(ctx, "42"), ShouldBeEmpty)
			})
		})
	})
}
