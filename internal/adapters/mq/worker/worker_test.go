package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lsg-lab/pointward/internal/adapters/mq/queue"
	"github.com/lsg-lab/pointward/internal/adapters/mq/worker"
	"github.com/lsg-lab/pointward/internal/domain/model"
	"github.com/lsg-lab/pointward/internal/engine/derive"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingApplier struct {
	mu     sync.Mutex
	orders map[string][]int64
	done   chan struct{}
	want   int
	seen   int
}

func newRecordingApplier(want int) *recordingApplier {
	return &recordingApplier{
		orders: make(map[string][]int64),
		done:   make(chan struct{}),
		want:   want,
	}
}

func (a *recordingApplier) Apply(_ context.Context, e model.Event) (derive.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders[e.PlayerID] = append(a.orders[e.PlayerID], e.EventID)
	a.seen++
	if a.seen == a.want {
		close(a.done)
	}
	return derive.OutcomeApplied, nil
}

func (a *recordingApplier) Quarantine(context.Context, model.Event, string) {}

func (a *recordingApplier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events to be applied")
	}
}

// faultyApplier rejects every event so quarantine routing can be observed.
type faultyApplier struct {
	mu          sync.Mutex
	quarantined []model.Event
	reasons     []string
	done        chan struct{}
	want        int
}

func newFaultyApplier(want int) *faultyApplier {
	return &faultyApplier{done: make(chan struct{}), want: want}
}

func (a *faultyApplier) Apply(context.Context, model.Event) (derive.Outcome, error) {
	return "", errors.New("contribution overflow")
}

func (a *faultyApplier) Quarantine(_ context.Context, e model.Event, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quarantined = append(a.quarantined, e)
	a.reasons = append(a.reasons, reason)
	if len(a.quarantined) == a.want {
		close(a.done)
	}
}

func (a *faultyApplier) wait(t *testing.T) {
	t.Helper()
	select {
	case <-a.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events to be quarantined")
	}
}

func TestPool(t *testing.T) {
	Convey("Given a pool consuming a sharded queue", t, func() {
		ctx := context.Background()
		q := queue.NewShardedQueue(queue.WithShardCount(4), queue.WithShardCapacity(64))

		players := []string{"42", "7", "9"}
		perPlayer := 20
		applier := newRecordingApplier(len(players) * perPlayer)

		pool := worker.NewPool(q, applier)
		pool.Start(ctx)

		Convey("When interleaved events for several players are enqueued", func() {
			id := int64(0)
			for i := 0; i < perPlayer; i++ {
				for _, player := range players {
					id++
					So(q.Enqueue(ctx, model.Event{
						EventID:  id,
						PlayerID: player,
						Source:   model.SourceSensor,
					}), ShouldBeTrue)
				}
			}
			applier.wait(t)

			Convey("Then each player's events should be applied in append order", func() {
				applier.mu.Lock()
				defer applier.mu.Unlock()
				for _, player := range players {
					ids := applier.orders[player]
					So(len(ids), ShouldEqual, perPlayer)
					for i := 1; i < len(ids); i++ {
						So(ids[i], ShouldBeGreaterThan, ids[i-1])
					}
				}
			})

			Convey("And stopping after close should return promptly", func() {
				So(q.Close(), ShouldBeNil)
				pool.Stop()
			})
		})

		Convey("When the applier fails for every event", func() {
			fq := queue.NewShardedQueue(queue.WithShardCount(2), queue.WithShardCapacity(8))
			faulty := newFaultyApplier(3)
			fp := worker.NewPool(fq, faulty)
			fp.Start(ctx)

			for i := int64(1); i <= 3; i++ {
				So(fq.Enqueue(ctx, model.Event{
					EventID:  i,
					PlayerID: "42",
					Source:   model.SourceSensor,
				}), ShouldBeTrue)
			}
			faulty.wait(t)

			Convey("Then each event should be quarantined with the failure as reason", func() {
				faulty.mu.Lock()
				defer faulty.mu.Unlock()
				So(len(faulty.quarantined), ShouldEqual, 3)
				for _, reason := range faulty.reasons {
					So(reason, ShouldContainSubstring, "contribution overflow")
				}
			})

			Convey("And stopping should still return promptly", func() {
				So(fq.Close(), ShouldBeNil)
				fp.Stop()
			})
		})

		Convey("When the queue closes with events still buffered", func() {
			// No race with the started consumers here: they are blocked on
			// empty shards until the enqueues below land, and channel close
			// still delivers buffered values.
			for i := int64(1); i <= 5; i++ {
				So(q.Enqueue(ctx, model.Event{
					EventID:  i,
					PlayerID: "42",
					Source:   model.SourceSensor,
				}), ShouldBeTrue)
			}
			So(q.Close(), ShouldBeNil)
			pool.Stop()

			Convey("Then the buffered events should still have been applied", func() {
				applier.mu.Lock()
				defer applier.mu.Unlock()
				So(len(applier.orders["42"]), ShouldEqual, 5)
			})
		})
	})
}
