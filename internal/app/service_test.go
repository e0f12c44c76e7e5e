package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/repository"
	service "github.com/AlexBiobelemo/Project-Andrew/internal/app"
	"github.com/AlexBiobelemo/Project-Andrew/internal/config"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/similarity"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type engineRig struct {
	engine *service.Engine
	store  *repository.MemoryStore
	clock  *clock
}

func newEngine(t *testing.T, emb similarity.Embedder) *engineRig {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.DecaySweepIntervalS = 0
	cfg.JanitorIntervalS = 0
	r := &engineRig{store: repository.NewMemoryStore(), clock: &clock{now: t0}}
	e, err := service.New(context.Background(), cfg,
		service.WithStore(r.store),
		service.WithEmbedder(emb),
		service.WithClock(r.clock.Now),
		service.WithLogger(logger.NewNop()),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Stop(context.Background()) })
	r.engine = e
	return r
}

func aggrey() service.NewIssue {
	return service.NewIssue{
		Category:    model.CategoryPothole,
		Description: "Large pothole on Aggrey Road",
		Lat:         4.9248,
		Lng:         6.2647,
	}
}

func TestReportIssue(t *testing.T) {
	Convey("Given an engine without an embedding backend", t, func() {
		r := newEngine(t, nil)
		ctx := context.Background()

		first, err := r.engine.ReportIssue(ctx, aggrey())
		So(err, ShouldBeNil)
		So(first.Issue.ID, ShouldNotBeEmpty)
		So(first.Verdict.IsDuplicate, ShouldBeFalse)
		So(first.Issue.Priority, ShouldBeGreaterThan, 0)

		Convey("When a neighbour reports the same pothole in other words", func() {
			again := service.NewIssue{
				Category:    model.CategoryPothole,
				Description: "huge pothole on aggrey road",
				Lat:         4.9250,
				Lng:         6.2649,
			}
			rep, err := r.engine.ReportIssue(ctx, again)

			Convey("Then it is rejected as a degraded duplicate of the first", func() {
				So(errors.Is(err, service.ErrDuplicate), ShouldBeTrue)
				So(rep.Verdict.IsDuplicate, ShouldBeTrue)
				So(rep.Verdict.Degraded, ShouldBeTrue)
				So(rep.Verdict.MatchedIssueID, ShouldEqual, first.Issue.ID)
				So(rep.Verdict.MatchedTitle, ShouldEqual, "Pothole")
				So(rep.Verdict.CombinedScore, ShouldAlmostEqual, 4.0/6.0, 1e-9)
				total, _, _ := r.store.Count(ctx)
				So(total, ShouldEqual, 1)
			})

			Convey("And forcing it creates a second issue that raises the first one's density", func() {
				again.Force = true
				rep, err := r.engine.ReportIssue(ctx, again)
				So(err, ShouldBeNil)
				So(rep.Verdict.IsDuplicate, ShouldBeTrue)
				So(rep.Issue.ID, ShouldNotEqual, first.Issue.ID)

				stored, _ := r.engine.Issue(ctx, first.Issue.ID)
				So(waitFor(func() bool {
					is, _ := r.engine.Issue(ctx, first.Issue.ID)
					return is.Priority > first.Issue.Priority
				}), ShouldBeTrue)
				So(r.engine.ComputePriority(ctx, &stored), ShouldBeGreaterThan, first.Issue.Priority)
			})
		})

		Convey("When the same report arrives two kilometres away", func() {
			far := aggrey()
			far.Lat += 0.018
			rep, err := r.engine.ReportIssue(ctx, far)

			Convey("Then it is a new issue", func() {
				So(err, ShouldBeNil)
				So(rep.Verdict.IsDuplicate, ShouldBeFalse)
			})
		})

		Convey("When a submission is retried with its idempotency key", func() {
			in := service.NewIssue{Category: model.CategoryFlooding, Description: "market square flooded", Lat: 6.5, Lng: 3.3, IdempotencyKey: "k-1"}
			a, err := r.engine.ReportIssue(ctx, in)
			So(err, ShouldBeNil)
			b, err := r.engine.ReportIssue(ctx, in)

			Convey("Then the first issue comes back instead of a duplicate error", func() {
				So(err, ShouldBeNil)
				So(b.Replayed, ShouldBeTrue)
				So(b.Issue.ID, ShouldEqual, a.Issue.ID)
			})
		})

		Convey("When the input is invalid", func() {
			bad := aggrey()
			bad.Lat = 123
			_, err := r.engine.ReportIssue(ctx, bad)
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)

			bad = aggrey()
			bad.Category = "Alien Landing"
			_, err = r.engine.ReportIssue(ctx, bad)
			So(errors.Is(err, model.ErrUnknownCategory), ShouldBeTrue)

			_, err = r.engine.ReportIssue(ctx, service.NewIssue{Description: "something broken", Lat: 1, Lng: 1})
			So(errors.Is(err, model.ErrMissingCategory), ShouldBeTrue)
			total, _, _ := r.store.Count(ctx)
			So(total, ShouldEqual, 1)
		})

		Convey("When the caller has already gone away", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			in := aggrey()
			in.Lat, in.Lng = -1.29, 36.82
			in.IdempotencyKey = "k-cancel"
			_, err := r.engine.ReportIssue(cctx, in)

			Convey("Then nothing is committed and the key can be reused", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
				total, _, _ := r.store.Count(ctx)
				So(total, ShouldEqual, 1)
				rep, err := r.engine.ReportIssue(ctx, in)
				So(err, ShouldBeNil)
				So(rep.Replayed, ShouldBeFalse)
			})
		})
	})
}

func TestCheckDuplicate(t *testing.T) {
	Convey("Given one reported issue", t, func() {
		r := newEngine(t, nil)
		ctx := context.Background()
		_, err := r.engine.ReportIssue(ctx, aggrey())
		So(err, ShouldBeNil)

		Convey("When checking without a category", func() {
			v, err := r.engine.CheckDuplicate(ctx, model.DuplicateQuery{Description: "large pothole on aggrey road", Lat: 4.9249, Lng: 6.2648})
			So(err, ShouldBeNil)
			So(v.IsDuplicate, ShouldBeTrue)
			So(v.CombinedScore, ShouldAlmostEqual, 1.0, 1e-9)
		})

		Convey("When checking with a blank description", func() {
			_, err := r.engine.CheckDuplicate(ctx, model.DuplicateQuery{Description: "  ", Lat: 1, Lng: 1})
			So(errors.Is(err, model.ErrEmptyDescription), ShouldBeTrue)
		})
	})
}

func TestUpvoteAndStatus(t *testing.T) {
	Convey("Given two open issues", t, func() {
		r := newEngine(t, nil)
		ctx := context.Background()
		a, _ := r.engine.ReportIssue(ctx, aggrey())
		b, _ := r.engine.ReportIssue(ctx, service.NewIssue{Category: model.CategoryGraffiti, Description: "tags on the bridge", Lat: 6.45, Lng: 3.39})

		top, err := r.engine.TopIssues(ctx, 10)
		So(err, ShouldBeNil)
		So(top, ShouldHaveLength, 2)
		So(top[0].IssueID, ShouldEqual, a.Issue.ID)

		Convey("When a citizen upvotes twice", func() {
			up, voted, err := r.engine.Upvote(ctx, b.Issue.ID, "u1")
			So(err, ShouldBeNil)
			So(voted, ShouldBeTrue)
			So(up.Upvotes, ShouldEqual, 1)
			So(up.Priority, ShouldBeGreaterThan, b.Issue.Priority)

			down, voted, err := r.engine.Upvote(ctx, b.Issue.ID, "u1")

			Convey("Then the second call takes the vote back", func() {
				So(err, ShouldBeNil)
				So(voted, ShouldBeFalse)
				So(down.Upvotes, ShouldEqual, 0)
				So(down.Priority, ShouldAlmostEqual, b.Issue.Priority, 1e-9)
			})
		})

		Convey("When many citizens upvote at once", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, _, _ = r.engine.Upvote(ctx, b.Issue.ID, string(rune('a'+i)))
				}(i)
			}
			wg.Wait()
			is, _ := r.engine.Issue(ctx, b.Issue.ID)
			So(is.Upvotes, ShouldEqual, 20)

			top, _ := r.engine.TopIssues(ctx, 1)
			So(top[0].IssueID, ShouldEqual, b.Issue.ID)
			So(top[0].Upvotes, ShouldEqual, 20)
		})

		Convey("When an issue is resolved", func() {
			is, err := r.engine.UpdateStatus(ctx, a.Issue.ID, model.StatusResolved)
			So(err, ShouldBeNil)
			So(is.Status, ShouldEqual, model.StatusResolved)

			Convey("Then it leaves the board and comes back when reopened", func() {
				top, _ := r.engine.TopIssues(ctx, 10)
				So(top, ShouldHaveLength, 1)
				So(top[0].IssueID, ShouldEqual, b.Issue.ID)

				_, err := r.engine.UpdateStatus(ctx, a.Issue.ID, model.StatusInProgress)
				So(err, ShouldBeNil)
				top, _ = r.engine.TopIssues(ctx, 10)
				So(top, ShouldHaveLength, 2)
			})
		})

		Convey("When status flips race on one issue", func() {
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					status := model.StatusResolved
					if i%2 == 0 {
						status = model.StatusInProgress
					}
					_, _ = r.engine.UpdateStatus(ctx, a.Issue.ID, status)
				}(i)
			}
			wg.Wait()

			Convey("Then the open set agrees with the stored status", func() {
				is, err := r.engine.Issue(ctx, a.Issue.ID)
				So(err, ShouldBeNil)
				want := 1
				if is.Open() {
					want = 2
				}
				So(r.engine.GetStats()["open_indexed"], ShouldEqual, want)
			})
		})

		Convey("When upvoting issues that do not exist", func() {
			for i := 0; i < 5; i++ {
				_, _, err := r.engine.Upvote(ctx, fmt.Sprintf("missing-%d", i), "u1")
				So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			}

			Convey("Then no voter state is kept for them", func() {
				So(r.engine.GetStats()["voter_sets"], ShouldEqual, 0)
			})
		})

		Convey("When the input is wrong", func() {
			_, err := r.engine.UpdateStatus(ctx, a.Issue.ID, "Archived")
			So(errors.Is(err, model.ErrUnknownStatus), ShouldBeTrue)
			_, _, err = r.engine.Upvote(ctx, "missing", "u1")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			_, _, err = r.engine.Upvote(ctx, a.Issue.ID, "")
			So(errors.Is(err, model.ErrEmptyIdentity), ShouldBeTrue)
			_, err = r.engine.TopIssues(ctx, 0)
			So(errors.Is(err, service.ErrInvalidLimit), ShouldBeTrue)
		})
	})
}

func TestAdmission(t *testing.T) {
	Convey("Given a client sending fifteen duplicate checks in one minute", t, func() {
		r := newEngine(t, nil)
		ctx := context.Background()
		allowed, denied := 0, 0
		for i := 0; i < 15; i++ {
			adm := r.engine.EvaluateRequest(ctx, "ip-1", "check_duplicates", "Mozilla/5.0")
			status := 200
			if adm.Allowed {
				allowed++
			} else {
				denied++
				status = 429
			}
			r.engine.RecordOutcome(ctx, "ip-1", "check_duplicates", status, "Mozilla/5.0")
			r.clock.Advance(3 * time.Second)
		}

		Convey("Then ten pass, five are refused and the client is no longer normal", func() {
			So(allowed, ShouldEqual, 10)
			So(denied, ShouldEqual, 5)
			st, err := r.engine.Suspicion(ctx, "ip-1")
			So(err, ShouldBeNil)
			So(st.Level, ShouldBeGreaterThanOrEqualTo, model.LevelElevated)
		})

		Convey("And another client is unaffected", func() {
			adm := r.engine.EvaluateRequest(ctx, "ip-2", "check_duplicates", "Mozilla/5.0")
			So(adm.Allowed, ShouldBeTrue)
			So(adm.EffectiveLimit, ShouldEqual, 10)
		})
	})
}

type flakyEmbedder struct {
	mu   sync.Mutex
	down bool
}

func (f *flakyEmbedder) setDown(b bool) {
	f.mu.Lock()
	f.down = b
	f.mu.Unlock()
}

func (f *flakyEmbedder) Embed(_ context.Context, text string) (similarity.Vector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("503 from provider")
	}
	return similarity.Vector{float32(len(text)), 1, 0}, nil
}

func (f *flakyEmbedder) Dims() int { return 3 }

func TestEmbeddingOutage(t *testing.T) {
	Convey("Given an embedding backend that is down", t, func() {
		emb := &flakyEmbedder{down: true}
		r := newEngine(t, emb)
		ctx := context.Background()

		Convey("When twenty reports arrive during the outage", func() {
			var ids []string
			for i := 0; i < 20; i++ {
				in := aggrey()
				in.Description = "streetlight out on lane " + string(rune('A'+i))
				in.Category = model.CategoryBrokenStreetlight
				in.Lat += float64(i) * 0.02
				in.Force = true
				rep, err := r.engine.ReportIssue(ctx, in)
				So(err, ShouldBeNil)
				ids = append(ids, rep.Issue.ID)
			}

			Convey("Then every report is stored without a vector", func() {
				total, _, _ := r.store.Count(ctx)
				So(total, ShouldEqual, 20)
				is, _ := r.engine.Issue(ctx, ids[0])
				So(is.Embedding, ShouldBeEmpty)
			})

			Convey("And vectors are backfilled once the backend recovers", func() {
				emb.setDown(false)
				r.clock.Advance(time.Minute)
				r.engine.RefreshPriorities(ctx)
				So(waitFor(func() bool {
					is, _ := r.engine.Issue(ctx, ids[len(ids)-1])
					return len(is.Embedding) == 3
				}), ShouldBeTrue)
			})
		})
	})
}

func TestSeedAndRestart(t *testing.T) {
	Convey("Given a store with historical issues", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		cfg := config.New()
		cfg.WorkerCount = 1
		cfg.DecaySweepIntervalS = 0
		cfg.JanitorIntervalS = 0

		e, err := service.New(ctx, cfg, service.WithStore(store), service.WithEmbedder(nil), service.WithLogger(logger.NewNop()))
		So(err, ShouldBeNil)
		So(e.Start(ctx), ShouldBeNil)
		So(e.Seed(ctx,
			model.Issue{Category: model.CategoryFallenTree, Description: "tree across the road", Lat: 1, Lng: 1, CreatedAt: t0, Upvotes: 4},
			model.Issue{Category: model.CategoryLeakingPipe, Description: "pipe burst", Lat: 1.001, Lng: 1, CreatedAt: t0, Status: model.StatusResolved},
		), ShouldBeNil)
		So(e.Stop(ctx), ShouldBeNil)

		Convey("When a new engine starts on the same store", func() {
			e2, err := service.New(ctx, cfg, service.WithStore(store), service.WithEmbedder(nil), service.WithLogger(logger.NewNop()))
			So(err, ShouldBeNil)
			So(e2.Start(ctx), ShouldBeNil)
			defer func() { _ = e2.Stop(ctx) }()

			Convey("Then the open issues are ranked and still catch duplicates", func() {
				top, err := e2.TopIssues(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 1)
				So(top[0].Category, ShouldEqual, "Fallen Tree")

				v, err := e2.CheckDuplicate(ctx, model.DuplicateQuery{Description: "tree across the road", Lat: 1.0001, Lng: 1})
				So(err, ShouldBeNil)
				So(v.IsDuplicate, ShouldBeTrue)

				stats := e2.GetStats()
				So(stats["issues_total"], ShouldEqual, 2)
				So(stats["issues_open"], ShouldEqual, 1)
				So(stats["geo_indexed"], ShouldEqual, 2)
			})
		})

		Convey("When seeding an invalid issue", func() {
			err := e.Seed(ctx, model.Issue{Category: model.CategoryOther, Description: "", Lat: 0, Lng: 0})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			err = e.Seed(ctx, model.Issue{Description: "uncategorised", Lat: 0, Lng: 0})
			So(errors.Is(err, model.ErrMissingCategory), ShouldBeTrue)
		})
	})
}

// keywordEmbedder maps text onto a few topic axes so cosine similarity
// follows the words a report uses.
type keywordEmbedder struct{}

var topics = []string{"pothole", "flood", "tree"}

func (keywordEmbedder) Embed(_ context.Context, text string) (similarity.Vector, error) {
	text = strings.ToLower(text)
	vec := make(similarity.Vector, len(topics)+1)
	for i, k := range topics {
		vec[i] = float32(strings.Count(text, k))
	}
	vec[len(topics)] = 0.2
	return vec, nil
}

func (keywordEmbedder) Dims() int { return len(topics) + 1 }

func TestSearch(t *testing.T) {
	Convey("Given issues in Port Harcourt and Lagos with embeddings", t, func() {
		r := newEngine(t, keywordEmbedder{})
		ctx := context.Background()

		pothole, err := r.engine.ReportIssue(ctx, aggrey())
		So(err, ShouldBeNil)
		So(pothole.Issue.Embedding, ShouldNotBeEmpty)
		r.clock.Advance(time.Minute)
		flood, err := r.engine.ReportIssue(ctx, service.NewIssue{
			Category: model.CategoryFlooding, Description: "market square flooded after rain", Lat: 4.9300, Lng: 6.2700,
		})
		So(err, ShouldBeNil)
		r.clock.Advance(time.Minute)
		_, err = r.engine.ReportIssue(ctx, service.NewIssue{
			Category: model.CategoryFallenTree, Description: "tree across the road", Lat: 6.45, Lng: 3.39,
		})
		So(err, ShouldBeNil)

		Convey("When searching by meaning alone", func() {
			res, err := r.engine.Search(ctx, model.SearchQuery{Text: "pothole"})

			Convey("Then only the similar issue comes back, without a distance", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, "embedding")
				So(res.Degraded, ShouldBeFalse)
				So(res.Hits, ShouldHaveLength, 1)
				So(res.Hits[0].Issue.ID, ShouldEqual, pothole.Issue.ID)
				So(res.Hits[0].Similarity, ShouldBeGreaterThan, 0.9)
				So(res.Hits[0].DistanceMeters, ShouldBeNil)
			})
		})

		Convey("When the same search is limited to Lagos", func() {
			res, err := r.engine.Search(ctx, model.SearchQuery{Text: "pothole", Near: &model.Location{Lat: 6.45, Lng: 3.39}})
			So(err, ShouldBeNil)
			So(res.Hits, ShouldBeEmpty)
		})

		Convey("When searching an area without text", func() {
			res, err := r.engine.Search(ctx, model.SearchQuery{Near: &model.Location{Lat: 4.9248, Lng: 6.2647}, RadiusMeters: 2000})

			Convey("Then nearby issues are listed newest first with distances", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, "location")
				So(res.Hits, ShouldHaveLength, 2)
				So(res.Hits[0].Issue.ID, ShouldEqual, flood.Issue.ID)
				So(res.Hits[1].Issue.ID, ShouldEqual, pothole.Issue.ID)
				So(*res.Hits[1].DistanceMeters, ShouldAlmostEqual, 0, 1e-6)
				So(*res.Hits[0].DistanceMeters, ShouldBeBetween, 500, 1500)
			})
		})

		Convey("When the matching issue has been resolved", func() {
			_, err := r.engine.UpdateStatus(ctx, pothole.Issue.ID, model.StatusResolved)
			So(err, ShouldBeNil)
			res, err := r.engine.Search(ctx, model.SearchQuery{Text: "pothole"})
			So(err, ShouldBeNil)
			So(res.Hits, ShouldHaveLength, 1)
			So(res.Hits[0].Issue.Status, ShouldEqual, model.StatusResolved)
		})

		Convey("When the request is malformed", func() {
			_, err := r.engine.Search(ctx, model.SearchQuery{Text: "  "})
			So(errors.Is(err, model.ErrEmptySearch), ShouldBeTrue)
			_, err = r.engine.Search(ctx, model.SearchQuery{Text: "pothole", Limit: -1})
			So(errors.Is(err, service.ErrInvalidLimit), ShouldBeTrue)
			_, err = r.engine.Search(ctx, model.SearchQuery{Text: "pothole", Near: &model.Location{Lat: 1, Lng: 1}, RadiusMeters: -5})
			So(errors.Is(err, model.ErrInvalidRadius), ShouldBeTrue)
			_, err = r.engine.Search(ctx, model.SearchQuery{Near: &model.Location{Lat: 91, Lng: 1}})
			So(errors.Is(err, model.ErrInvalidCoordinates), ShouldBeTrue)
		})
	})

	Convey("Given an engine without an embedding backend", t, func() {
		r := newEngine(t, nil)
		ctx := context.Background()
		pothole, err := r.engine.ReportIssue(ctx, aggrey())
		So(err, ShouldBeNil)

		Convey("When searching by text", func() {
			res, err := r.engine.Search(ctx, model.SearchQuery{Text: "pothole aggrey"})

			Convey("Then word overlap serves the search and the result is degraded", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, "lexical")
				So(res.Degraded, ShouldBeTrue)
				So(res.Hits, ShouldHaveLength, 1)
				So(res.Hits[0].Issue.ID, ShouldEqual, pothole.Issue.ID)
				So(res.Hits[0].Similarity, ShouldAlmostEqual, 0.4, 1e-9)
			})
		})

		Convey("When nothing shares a word with the query", func() {
			res, err := r.engine.Search(ctx, model.SearchQuery{Text: "graffiti"})
			So(err, ShouldBeNil)
			So(res.Hits, ShouldBeEmpty)
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
