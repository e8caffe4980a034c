package inflight

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.viam.com/test"
)

func TestBasic(t *testing.T) {
	ctx := context.Background()

	now := time.Unix(100, 0)
	h := NewManager(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	test.That(t, Get(ctx), test.ShouldBeNil)
	test.That(t, len(h.All()), test.ShouldEqual, 0)

	func() {
		ctx2, cleanup := h.Create(ctx, "OpenSocket", []interface{}{"10.0.0.5", 80})
		defer cleanup()

		c := Get(ctx2)
		test.That(t, c, test.ShouldNotBeNil)
		test.That(t, c.ID, test.ShouldNotEqual, uuid.Nil)
		test.That(t, c.Method, test.ShouldEqual, "OpenSocket")
		test.That(t, len(h.All()), test.ShouldEqual, 1)
		test.That(t, h.Find(c.ID), test.ShouldEqual, c)
		test.That(t, h.FindString(c.ID.String()), test.ShouldEqual, c)
		test.That(t, h.FindString("not-a-uuid"), test.ShouldBeNil)

		// Nested calls reuse the outer registration.
		ctx3, cleanup3 := h.Create(ctx2, "EnableRadio", nil)
		test.That(t, Get(ctx3), test.ShouldEqual, c)
		test.That(t, len(h.All()), test.ShouldEqual, 1)
		cleanup3()
		test.That(t, ctx2.Err(), test.ShouldBeNil)
	}()

	test.That(t, len(h.All()), test.ShouldEqual, 0)
}

func TestOrderAndCancel(t *testing.T) {
	h := NewManager(nil)

	ctxA, cleanupA := h.Create(context.Background(), "A", nil)
	defer cleanupA()
	time.Sleep(time.Millisecond)
	_, cleanupB := h.Create(context.Background(), "B", nil)

	all := h.All()
	test.That(t, len(all), test.ShouldEqual, 2)
	test.That(t, all[0].Method, test.ShouldEqual, "A")
	test.That(t, all[1].Method, test.ShouldEqual, "B")

	all[0].Cancel()
	test.That(t, ctxA.Err(), test.ShouldNotBeNil)

	cleanupB()
	test.That(t, len(h.All()), test.ShouldEqual, 1)
}
