package drc

import (
	"testing"
	"time"
)

func TestCorrelatorResolve(t *testing.T) {
	c := NewCorrelator()
	ch := c.Register("t1")

	rep := &ServiceReply{TID: "t1", Method: "return_home"}
	if !c.Resolve(rep) {
		t.Fatal("Resolve() = false, want true")
	}

	select {
	case got := <-ch:
		if got != rep {
			t.Errorf("received %+v, want the resolved reply", got)
		}
	case <-time.After(time.Second):
		t.Fatal("reply never delivered")
	}

	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCorrelatorResolveUnknownTID(t *testing.T) {
	c := NewCorrelator()
	if c.Resolve(&ServiceReply{TID: "ghost"}) {
		t.Error("Resolve() = true for unknown tid, want false")
	}
}

func TestCorrelatorResolveIsAtMostOnce(t *testing.T) {
	c := NewCorrelator()
	c.Register("t1")

	if !c.Resolve(&ServiceReply{TID: "t1"}) {
		t.Fatal("first Resolve() = false, want true")
	}
	// A duplicate reply must find nothing to resolve.
	if c.Resolve(&ServiceReply{TID: "t1"}) {
		t.Error("second Resolve() = true, want false")
	}
}

func TestCorrelatorCancel(t *testing.T) {
	c := NewCorrelator()
	c.Register("t1")
	c.Cancel("t1")

	if c.Resolve(&ServiceReply{TID: "t1"}) {
		t.Error("Resolve() after Cancel = true, want false")
	}

	// Cancel after resolve and double cancel are both no-ops.
	c.Register("t2")
	c.Resolve(&ServiceReply{TID: "t2"})
	c.Cancel("t2")
	c.Cancel("t2")

	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestCorrelatorRegisterReplaces(t *testing.T) {
	c := NewCorrelator()
	old := c.Register("t1")
	fresh := c.Register("t1")

	if !c.Resolve(&ServiceReply{TID: "t1"}) {
		t.Fatal("Resolve() = false, want true")
	}

	select {
	case <-fresh:
	case <-time.After(time.Second):
		t.Fatal("reply never reached the fresh waiter")
	}

	select {
	case rep := <-old:
		t.Errorf("stale waiter received %+v, want nothing", rep)
	default:
	}
}
