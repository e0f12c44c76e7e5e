package geo_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/geo"
	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func ids(hits []geo.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestHaversine(t *testing.T) {
	Convey("Given two points on Aggrey Road", t, func() {
		d := geo.Haversine(4.9248, 6.2647, 4.9250, 6.2649)

		Convey("Then they are roughly thirty meters apart", func() {
			So(d, ShouldBeBetween, 25, 35)
		})

		Convey("And one degree of latitude matches the meridian constant", func() {
			So(geo.Haversine(0, 0, 1, 0), ShouldAlmostEqual, geo.MetersPerDegree, 1e-6)
			So(geo.DegreesToMeters(0.0045), ShouldBeBetween, 500, 501)
		})
	})
}

func TestIndexQuery(t *testing.T) {
	Convey("Given an index with 500 m cells", t, func() {
		ctx := context.Background()
		x := geo.NewIndex(geo.WithCellSizeDegrees(0.0045))
		So(x.Insert(ctx, "a", 4.9248, 6.2647), ShouldBeNil)
		So(x.Insert(ctx, "near", 4.9250, 6.2649), ShouldBeNil)
		So(x.Insert(ctx, "edge", 4.9248+0.0040, 6.2647), ShouldBeNil) // ~445 m north
		So(x.Insert(ctx, "far", 4.9400, 6.2647), ShouldBeNil)         // ~1.7 km north

		Convey("When querying 500 m around the first report", func() {
			hits, err := x.Query(ctx, 4.9248, 6.2647, 500)

			Convey("Then only points inside the radius come back, nearest first", func() {
				So(err, ShouldBeNil)
				So(ids(hits), ShouldResemble, []string{"a", "near", "edge"})
				So(hits[0].DistanceMeters, ShouldEqual, 0)
			})
		})

		Convey("When querying a radius larger than a cell", func() {
			hits, err := x.Query(ctx, 4.9248, 6.2647, 2000)

			Convey("Then the wider neighbourhood is visited", func() {
				So(err, ShouldBeNil)
				So(ids(hits), ShouldContain, "far")
				So(len(hits), ShouldEqual, 4)
			})
		})

		Convey("When inserting an id twice", func() {
			So(x.Insert(ctx, "a", 10, 10), ShouldBeNil)

			Convey("Then the first location wins and the size is unchanged", func() {
				So(x.Len(), ShouldEqual, 4)
				hits, _ := x.Query(ctx, 10, 10, 1000)
				So(hits, ShouldBeEmpty)
				So(x.Contains("a"), ShouldBeTrue)
			})
		})

		Convey("When inputs are invalid", func() {
			So(errors.Is(x.Insert(ctx, "", 0, 0), geo.ErrEmptyID), ShouldBeTrue)
			So(errors.Is(x.Insert(ctx, "bad", 95, 0), model.ErrInvalidCoordinates), ShouldBeTrue)
			_, err := x.Query(ctx, 0, 0, -1)
			So(errors.Is(err, geo.ErrInvalidRadius), ShouldBeTrue)
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(x.Insert(cctx, "late", 1, 1), ShouldNotBeNil)
			So(x.Contains("late"), ShouldBeFalse)
			_, err := x.Query(cctx, 1, 1, 10)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestIndexWrapAndPoles(t *testing.T) {
	Convey("Given points on both sides of the antimeridian", t, func() {
		ctx := context.Background()
		x := geo.NewIndex(geo.WithCellSizeDegrees(0.0045))
		So(x.Insert(ctx, "east", 0, 179.9990), ShouldBeNil)
		So(x.Insert(ctx, "west", 0, -179.9990), ShouldBeNil)

		Convey("When querying from the east side", func() {
			hits, err := x.Query(ctx, 0, 179.9995, 500)

			Convey("Then the west point is found across the seam", func() {
				So(err, ShouldBeNil)
				So(ids(hits), ShouldContain, "west")
				So(ids(hits), ShouldContain, "east")
			})
		})

		Convey("When points sit next to the pole", func() {
			So(x.Insert(ctx, "p1", 89.9990, 10), ShouldBeNil)
			So(x.Insert(ctx, "p2", 89.9990, -170), ShouldBeNil)
			hits, err := x.Query(ctx, 90, 0, 500)

			Convey("Then the whole polar band is scanned", func() {
				So(err, ShouldBeNil)
				So(ids(hits), ShouldContain, "p1")
				So(ids(hits), ShouldContain, "p2")
			})
		})
	})
}

func TestIndexConcurrentInserts(t *testing.T) {
	Convey("Given many goroutines inserting into the same few cells", t, func() {
		ctx := context.Background()
		x := geo.NewIndex()
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 250; i++ {
					_ = x.Insert(ctx, fmt.Sprintf("g%d-%d", g, i), 4.92+float64(i%5)*0.0001, 6.26)
				}
			}(g)
		}
		wg.Wait()

		Convey("Then no insert is lost", func() {
			So(x.Len(), ShouldEqual, 2000)
			hits, err := x.Query(ctx, 4.92, 6.26, 200)
			So(err, ShouldBeNil)
			So(len(hits), ShouldEqual, 2000)
		})
	})
}
