package site

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestSite(t *testing.T) {
	convey.Convey("Given a mux with the board page", t, func() {
		mux := http.NewServeMux()
		Register(context.Background(), mux)

		convey.Convey("When requesting the root", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("GET", "/", http.NoBody))

			convey.Convey("Then the board page is served", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Header().Get("Content-Type"), convey.ShouldContainSubstring, "text/html")
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "/issues/top")
			})
		})

		convey.Convey("When requesting a file that does not exist", func() {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest("GET", "/nope.js", http.NoBody))

			convey.Convey("Then it is not found", func() {
				convey.So(w.Code, convey.ShouldEqual, http.StatusNotFound)
			})
		})

		convey.Convey("When the mux is nil", func() {
			convey.So(func() { Register(context.Background(), nil) }, convey.ShouldPanic)
		})
	})
}
