package behavior_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/behavior"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func event(id, endpoint string, status int, ts time.Time) model.BehaviorEvent {
	return model.BehaviorEvent{IdentityKey: id, Endpoint: endpoint, Method: "POST", StatusCode: status, UserAgent: "Mozilla/5.0", TS: ts}
}

func TestLedgerRules(t *testing.T) {
	Convey("Given an empty ledger", t, func() {
		ctx := context.Background()
		now := t0
		l := behavior.NewLedger(behavior.WithClock(func() time.Time { return now }))

		Convey("When a request is rate limited", func() {
			st := l.Record(ctx, event("u1", "get_issue", 429, t0))

			Convey("Then the score rises by twenty", func() {
				So(st.Score, ShouldEqual, 20)
				So(st.Level, ShouldEqual, model.LevelNormal)
			})

			Convey("And a later success earns a small credit", func() {
				st := l.Record(ctx, event("u1", "get_issue", 200, t0))
				So(st.Score, ShouldEqual, 18)
			})
		})

		Convey("When a bot user agent is rate limited", func() {
			ev := event("bot1", "get_issue", 429, t0)
			ev.UserAgent = "Googlebot/2.1"
			st := l.Record(ctx, ev)

			Convey("Then both penalties apply", func() {
				So(st.Score, ShouldEqual, 50)
				So(st.Level, ShouldEqual, model.LevelElevated)
			})
		})

		Convey("When an identity keeps getting rate limited", func() {
			var st model.SuspicionState
			for i := 0; i < 12; i++ {
				st = l.Record(ctx, event("u2", "get_issue", 429, t0))
				So(st.Score, ShouldBeBetweenOrEqual, 0, 100)
			}

			Convey("Then the score is clamped and the identity is blocked", func() {
				So(st.Score, ShouldEqual, 100)
				So(st.Level, ShouldEqual, model.LevelBlocked)
			})

			Convey("And decay brings it back out of Blocked", func() {
				now = t0.Add(16 * time.Minute)
				st := l.State(ctx, "u2")
				So(st.Score, ShouldAlmostEqual, 84, 1e-9)
				So(st.Level, ShouldEqual, model.LevelRestricted)
			})
		})

		Convey("When a clean identity succeeds repeatedly", func() {
			var st model.SuspicionState
			for i := 0; i < 5; i++ {
				st = l.Record(ctx, event("u3", "get_issue", 200, t0))
			}
			So(st.Score, ShouldEqual, 0)
		})

		Convey("When an old event arrives after a newer one", func() {
			l.Record(ctx, event("u4", "get_issue", 429, t0.Add(10*time.Minute)))
			st := l.Record(ctx, event("u4", "get_issue", 429, t0))

			Convey("Then the clock is not rewound", func() {
				So(st.LastUpdated, ShouldEqual, t0.Add(10*time.Minute))
				So(st.LastEvent, ShouldEqual, t0.Add(10*time.Minute))
				So(st.Score, ShouldEqual, 40)
			})
		})

		Convey("When an event has no identity", func() {
			st := l.Record(ctx, event("", "report_issue", 429, t0))

			Convey("Then it is ignored", func() {
				So(st.IdentityKey, ShouldBeEmpty)
				So(l.Len(), ShouldEqual, 0)
			})
		})

		Convey("When reading an unknown identity", func() {
			st := l.State(ctx, "nobody")
			So(st.Level, ShouldEqual, model.LevelNormal)
			So(l.Len(), ShouldEqual, 0)
		})
	})
}

func TestLedgerBursts(t *testing.T) {
	Convey("Given a ledger and a user posting reports quickly", t, func() {
		ctx := context.Background()
		l := behavior.NewLedger(behavior.WithClock(func() time.Time { return t0 }))

		Convey("When twelve reports arrive within a minute", func() {
			var st model.SuspicionState
			for i := 0; i < 12; i++ {
				st = l.Record(ctx, event("u1", "report_issue", 201, t0.Add(time.Duration(i)*time.Second)))
			}

			Convey("Then each request past ten costs fifteen", func() {
				So(st.Score, ShouldAlmostEqual, 30, 0.1)
				So(st.RecentEvents, ShouldEqual, 12)
			})
		})

		Convey("When the same burst hits an endpoint that is not sensitive", func() {
			var st model.SuspicionState
			for i := 0; i < 12; i++ {
				st = l.Record(ctx, event("u1", "get_issue", 200, t0.Add(time.Duration(i)*time.Second)))
			}
			So(st.Score, ShouldEqual, 0)
		})

		Convey("When the burst threshold is above the kept history", func() {
			p := behavior.DefaultPolicy()
			p.BurstThreshold = 100
			p.MaxRecent = 64
			l := behavior.NewLedger(behavior.WithPolicy(p), behavior.WithClock(func() time.Time { return t0 }))
			So(l.Policy().MaxRecent, ShouldBeGreaterThan, 100)

			var st model.SuspicionState
			for i := 0; i < 150; i++ {
				st = l.Record(ctx, event("u2", "report_issue", 201, t0.Add(time.Duration(i)*100*time.Millisecond)))
			}

			Convey("Then the requests past the threshold are still penalised", func() {
				So(st.Score, ShouldAlmostEqual, model.MaxSuspicion, 0.5)
				So(st.Level, ShouldEqual, model.LevelBlocked)
			})
		})

		Convey("When reports are spread over several minutes", func() {
			var st model.SuspicionState
			for i := 0; i < 30; i++ {
				st = l.Record(ctx, event("u1", "upvote", 200, t0.Add(time.Duration(i)*10*time.Second)))
			}
			So(st.Score, ShouldEqual, 0)
		})
	})
}

func TestLedgerEvict(t *testing.T) {
	Convey("Given identities with different histories", t, func() {
		ctx := context.Background()
		l := behavior.NewLedger(behavior.WithClock(func() time.Time { return t0.Add(25 * time.Hour) }))
		l.Record(ctx, event("idle", "get_issue", 429, t0))
		l.Record(ctx, event("recent", "get_issue", 200, t0.Add(24*time.Hour+30*time.Minute)))
		l.Record(ctx, event("angry", "get_issue", 429, t0))
		for i := 0; i < 20; i++ {
			l.Record(ctx, event("angry", "get_issue", 429, t0.Add(24*time.Hour+59*time.Minute)))
		}
		So(l.Len(), ShouldEqual, 3)

		Convey("When evicting a day and an hour later", func() {
			removed := l.Evict(t0.Add(25 * time.Hour))

			Convey("Then only the idle zero-score identity is forgotten", func() {
				So(removed, ShouldEqual, 1)
				So(l.Len(), ShouldEqual, 2)
				So(l.State(ctx, "angry").Score, ShouldBeGreaterThan, 0)
			})

			Convey("And it starts fresh when it comes back", func() {
				st := l.Record(ctx, event("idle", "get_issue", 429, t0.Add(26*time.Hour)))
				So(st.Score, ShouldEqual, 20)
				So(l.Len(), ShouldEqual, 3)
			})
		})
	})
}

func TestLedgerConcurrency(t *testing.T) {
	Convey("Given many goroutines recording for the same identities", t, func() {
		ctx := context.Background()
		p := behavior.DefaultPolicy()
		p.RateLimitedPenalty = 0.1
		l := behavior.NewLedger(behavior.WithPolicy(p), behavior.WithClock(func() time.Time { return t0 }))

		var wg sync.WaitGroup
		for g := 0; g < 50; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					l.Record(ctx, event("shared", "get_issue", 429, t0))
					l.Record(ctx, event(fmt.Sprintf("own-%d", g), "get_issue", 429, t0))
				}
			}(g)
		}
		wg.Wait()

		Convey("Then no update is lost", func() {
			So(l.State(ctx, "shared").Score, ShouldAlmostEqual, 50, 1e-6)
			So(l.State(ctx, "own-7").Score, ShouldAlmostEqual, 1, 1e-6)
			So(l.Len(), ShouldEqual, 51)
		})
	})
}

func TestIsBot(t *testing.T) {
	Convey("Given the default bot patterns", t, func() {
		p := behavior.DefaultPolicy()
		So(p.IsBot("Mozilla/5.0 (compatible; Bingbot/2.0)"), ShouldBeTrue)
		So(p.IsBot("HeadlessChrome/120"), ShouldBeTrue)
		So(p.IsBot("python-scraper"), ShouldBeTrue)
		So(p.IsBot("Mozilla/5.0 (X11; Linux x86_64)"), ShouldBeFalse)
		So(p.IsBot(""), ShouldBeFalse)
	})
}
