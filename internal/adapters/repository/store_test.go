package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AlexBiobelemo/Project-Andrew/internal/adapters/repository"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func sample(id string, created time.Time) model.Issue {
	return model.Issue{
		ID:          id,
		Category:    model.CategoryPothole,
		Description: "Large pothole on Aggrey Road",
		Lat:         4.9248,
		Lng:         6.2647,
		Embedding:   []float32{0.25, -1.5, 3},
		CreatedAt:   created,
		Status:      model.StatusReported,
	}
}

func stores(t *testing.T) map[string]repository.IssueStore {
	sqlite, err := repository.Open(context.Background(), repository.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]repository.IssueStore{
		"memory": repository.NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestIssueStores(t *testing.T) {
	for name, store := range stores(t) {
		Convey(fmt.Sprintf("Given the %s store", name), t, func() {
			ctx := context.Background()
			id := repository.NewID()
			So(store.Create(ctx, sample(id, t0)), ShouldBeNil)

			Convey("When reading the issue back", func() {
				got, err := store.Get(ctx, id)

				Convey("Then every field survives the round trip", func() {
					So(err, ShouldBeNil)
					So(got.Category, ShouldEqual, model.CategoryPothole)
					So(got.Description, ShouldEqual, "Large pothole on Aggrey Road")
					So(got.Lat, ShouldEqual, 4.9248)
					So(got.CreatedAt.Equal(t0), ShouldBeTrue)
					So(got.Embedding, ShouldResemble, []float32{0.25, -1.5, 3})
					So(got.Status, ShouldEqual, model.StatusReported)
				})
			})

			Convey("When creating the same id twice", func() {
				err := store.Create(ctx, sample(id, t0))
				So(errors.Is(err, repository.ErrExists), ShouldBeTrue)
			})

			Convey("When updating", func() {
				got, err := store.Update(ctx, id, func(is *model.Issue) error {
					is.Upvotes = 3
					is.Status = model.StatusResolved
					is.Priority = 4.5
					return nil
				})

				Convey("Then the change is stored and counted", func() {
					So(err, ShouldBeNil)
					So(got.Upvotes, ShouldEqual, 3)
					again, _ := store.Get(ctx, id)
					So(again.Priority, ShouldEqual, 4.5)
					So(again.Status, ShouldEqual, model.StatusResolved)
					total, open, err := store.Count(ctx)
					So(err, ShouldBeNil)
					So(total, ShouldBeGreaterThanOrEqualTo, 1)
					So(open, ShouldBeLessThan, total)
				})
			})

			Convey("When the update function fails", func() {
				boom := errors.New("boom")
				_, err := store.Update(ctx, id, func(is *model.Issue) error {
					is.Upvotes = 99
					return boom
				})

				Convey("Then nothing is written", func() {
					So(errors.Is(err, boom), ShouldBeTrue)
					got, _ := store.Get(ctx, id)
					So(got.Upvotes, ShouldEqual, 0)
				})
			})

			Convey("When the id is unknown", func() {
				_, err := store.Get(ctx, "missing")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				_, err = store.Update(ctx, "missing", func(*model.Issue) error { return nil })
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("When listing", func() {
				older := repository.NewID()
				So(store.Create(ctx, sample(older, t0.Add(-time.Hour))), ShouldBeNil)
				list, err := store.List(ctx)
				So(err, ShouldBeNil)
				pos := map[string]int{}
				for i, is := range list {
					pos[is.ID] = i
				}
				So(pos[older], ShouldBeLessThan, pos[id])
			})

			Convey("When many upvotes race", func() {
				var wg sync.WaitGroup
				for i := 0; i < 20; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, _ = store.Update(ctx, id, func(is *model.Issue) error {
							is.Upvotes++
							return nil
						})
					}()
				}
				wg.Wait()
				got, _ := store.Get(ctx, id)
				So(got.Upvotes, ShouldEqual, 20)
			})
		})
	}
}

func TestOpen(t *testing.T) {
	Convey("Given store drivers", t, func() {
		s, err := repository.Open(context.Background(), "", "")
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		_, err = repository.Open(context.Background(), "oracle", "dsn")
		So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)

		So(repository.NewID(), ShouldNotEqual, repository.NewID())
	})
}
