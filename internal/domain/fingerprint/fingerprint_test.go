package fingerprint_test

import (
	"testing"

	"github.com/okian/startsit/internal/domain/fingerprint"
	"github.com/okian/startsit/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func normalized(r model.AnalysisRequest) model.AnalysisRequest {
	out, err := r.Normalize()
	if err != nil {
		panic(err)
	}
	return out
}

func TestFingerprint(t *testing.T) {
	Convey("Given equivalent requests", t, func() {
		bucket := model.Bucket{Season: 2026, Week: 6}
		a := normalized(model.AnalysisRequest{PlayerID: "123", OpponentID: "SF", Location: "Santa Clara, CA", Bucket: bucket})
		b := normalized(model.AnalysisRequest{PlayerID: " 123", OpponentID: "sf", Location: "santa  clara, ca", ScoringType: "PPR", Bucket: bucket})

		Convey("Then their fingerprints are identical", func() {
			So(fingerprint.OfRequest(a), ShouldEqual, fingerprint.OfRequest(b))
			So(fingerprint.OfRequest(a), ShouldHaveLength, 64)
		})

		Convey("Then repeated calls are deterministic", func() {
			first := fingerprint.OfRequest(a)
			for i := 0; i < 100; i++ {
				So(fingerprint.OfRequest(a), ShouldEqual, first)
			}
		})

		Convey("Then any differing field changes the fingerprint", func() {
			base := fingerprint.OfRequest(a)
			variants := []model.AnalysisRequest{a, a, a, a, a}
			variants[0].PlayerID = "124"
			variants[1].OpponentID = "DAL"
			variants[2].ScoringType = model.ScoringStandard
			variants[3].Location = ""
			variants[4].Bucket.Week = 7
			for _, v := range variants {
				So(fingerprint.OfRequest(v), ShouldNotEqual, base)
			}
		})

		Convey("Then a matchup and a comparison never collide", func() {
			c := model.ComparisonPayload(model.ComparisonRequest{First: a, Second: a})
			So(fingerprint.Of(c), ShouldNotEqual, fingerprint.OfRequest(a))
		})
	})

	Convey("Comparison fingerprints ignore side order", t, func() {
		x := normalized(model.AnalysisRequest{PlayerID: "1", OpponentID: "SF"})
		y := normalized(model.AnalysisRequest{PlayerID: "2", OpponentID: "DAL"})
		ab := fingerprint.Of(model.ComparisonPayload(model.ComparisonRequest{First: x, Second: y}))
		ba := fingerprint.Of(model.ComparisonPayload(model.ComparisonRequest{First: y, Second: x}))
		So(ab, ShouldEqual, ba)
	})
}
