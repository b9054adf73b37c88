package failure_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/okian/startsit/internal/domain/failure"
	. "github.com/smartystreets/goconvey/convey"
)

func TestKindError(t *testing.T) {
	Convey("Given a wrapped error", t, func() {
		cause := errors.New("dial tcp: refused")
		err := failure.WrapKind("gateway.submit", failure.ErrQueueUnavailable, cause)

		Convey("Then it matches both the kind and the cause", func() {
			So(errors.Is(err, failure.ErrQueueUnavailable), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(errors.Is(err, failure.ErrValidation), ShouldBeFalse)
		})

		Convey("Then the message names the operation", func() {
			So(err.Error(), ShouldEqual, "gateway.submit: queue unavailable: dial tcp: refused")
		})
	})

	Convey("Given a kind without a cause", t, func() {
		err := failure.NewKind("poller.status", failure.ErrNotFound)
		So(errors.Is(err, failure.ErrNotFound), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "poller.status: not found")
	})

	Convey("WrapKind of nil is nil", t, func() {
		So(failure.WrapKind("op", failure.ErrTaskFailure, nil), ShouldBeNil)
	})
}

func TestIsTransient(t *testing.T) {
	Convey("Given various errors", t, func() {
		So(failure.IsTransient(nil), ShouldBeFalse)
		So(failure.IsTransient(errors.New("boom")), ShouldBeFalse)
		So(failure.IsTransient(failure.Transient(errors.New("boom"))), ShouldBeTrue)
		So(failure.IsTransient(fmt.Errorf("wrapped: %w", failure.Transient(errors.New("x")))), ShouldBeTrue)
		So(failure.IsTransient(failure.NewKind("worker", failure.ErrTaskTimeout)), ShouldBeTrue)
		So(failure.IsTransient(failure.WrapKind("store", failure.ErrStoreUnavailable, errors.New("io"))), ShouldBeTrue)
		So(failure.IsTransient(context.DeadlineExceeded), ShouldBeTrue)
		So(failure.IsTransient(failure.Validation("op", "missing %s", "player_id")), ShouldBeFalse)
	})
}
