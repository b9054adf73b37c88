package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/startsit/internal/adapters/http/api"
	service "github.com/okian/startsit/internal/app"
	"github.com/okian/startsit/internal/domain/model"
	"github.com/okian/startsit/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

type mockService struct {
	healthErr error
	stats     service.Stats
}

func (m *mockService) Health(context.Context) error { return m.healthErr }

func (m *mockService) GetStats(context.Context) service.Stats { return m.stats }

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOpsServer(t *testing.T) {
	Convey("Given the ops server over a started service", t, func() {
		svc := &mockService{stats: service.Stats{
			Started: true,
			Backend: service.BackendMemory,
			Workers: 6,
			Queues:  map[string]int{"matchups": 3, "analysis": 0},
			Bucket:  model.Bucket{Season: 2025, Week: 3},
		}}
		routes := api.NewServer(svc, svc).Routes()

		Convey("When GET /healthz", func() {
			rec := get(routes, "/healthz")

			Convey("Then it answers ok", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Type"), ShouldStartWith, "application/json")
				So(rec.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			})
		})

		Convey("When the service is unhealthy", func() {
			svc.healthErr = errors.New("redis: connection refused")
			rec := get(routes, "/healthz")

			Convey("Then it answers 503 with the cause", func() {
				So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
				var body map[string]string
				So(json.Unmarshal(rec.Body.Bytes(), &body), ShouldBeNil)
				So(body["code"], ShouldEqual, api.ErrUnhealthy.Error())
				So(body["message"], ShouldContainSubstring, "connection refused")
			})
		})

		Convey("When GET /stats", func() {
			rec := get(routes, "/stats")

			Convey("Then it returns the snapshot", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				var got service.Stats
				So(json.Unmarshal(rec.Body.Bytes(), &got), ShouldBeNil)
				So(got, ShouldResemble, svc.stats)
			})
		})

		Convey("When GET /metrics after some traffic", func() {
			_ = get(routes, "/healthz")
			metrics.RecordTaskSubmitted("matchups", metrics.OutcomeQueued)
			rec := get(routes, "/metrics")

			Convey("Then the custom registry is exposed", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")
				So(rec.Body.String(), ShouldContainSubstring, "tasks_submitted_total")
			})
		})

		Convey("When a business route is requested", func() {
			rec := get(routes, "/analyze")

			Convey("Then it is not served", func() {
				So(rec.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When /stats is posted to", func() {
			rec := httptest.NewRecorder()
			routes.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", strings.NewReader("{}")))

			Convey("Then the method is rejected", func() {
				So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})
}
