// === FILE: loom_test.go ===
package loom

import (
	"errors"
	"fmt"
	"testing"
)

// ---------- local helpers (kept minimal; mirror other suites) ----------

func mustGet(t *testing.T, ec *ExecContext, k *Key) any {
	t.Helper()
	v, err := k.Get(ec)
	if err != nil {
		t.Fatalf("Get(%v) failed: %v", k, err)
	}
	return v
}

func wantNotBound(t *testing.T, ec *ExecContext, k *Key) {
	t.Helper()
	_, err := k.Get(ec)
	var nb *NotBoundError
	if !errors.As(err, &nb) {
		t.Fatalf("Get(%v) expected *NotBoundError, got %#v", k, err)
	}
	if nb.Key != k {
		t.Fatalf("NotBoundError names wrong key: got %v want %v", nb.Key, k)
	}
}

// ---------------- Key creation ----------------

func Test_Key_TwoCacheIndexesAlwaysDiffer(t *testing.T) {
	// The generator rejects hashes whose two cache indexes coincide; a key
	// must occupy two distinct slots or eviction logic breaks.
	for i := 0; i < 4096; i++ {
		k := For[int]()
		if primaryIndex(k) == secondaryIndex(k) {
			t.Fatalf("key %d: primary == secondary == %d (hash %08x)", i, primaryIndex(k), k.hash)
		}
	}
}

func Test_Key_IdentityNotStructure(t *testing.T) {
	a, b := For[string](), For[string]()
	ec := NewExecContext()
	err := Where(a, "bound").Run(ec, func() error {
		if b.IsBound(ec) {
			t.Fatalf("binding key a made distinct key b bound")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

// ---------------- Stack discipline ----------------

func Test_Binding_StackDiscipline(t *testing.T) {
	k1, k2 := For[int](), For[string]()
	ec := NewExecContext()

	err := Where(k1, 1).Run(ec, func() error {
		return Where(k2, "two").Run(ec, func() error {
			if v := mustGet(t, ec, k1); v != 1 {
				t.Fatalf("inner k1 expected 1, got %#v", v)
			}
			if v := mustGet(t, ec, k2); v != "two" {
				t.Fatalf("inner k2 expected \"two\", got %#v", v)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if k1.IsBound(ec) || k2.IsBound(ec) {
		t.Fatalf("bindings leaked past their scope")
	}
}

func Test_Binding_RebindShadowsThenRestores(t *testing.T) {
	k := For[int]()
	ec := NewExecContext()

	err := Where(k, 1).Run(ec, func() error {
		if v := mustGet(t, ec, k); v != 1 {
			t.Fatalf("outer expected 1, got %#v", v)
		}
		if err := Where(k, 2).Run(ec, func() error {
			if v := mustGet(t, ec, k); v != 2 {
				t.Fatalf("inner expected 2, got %#v", v)
			}
			return nil
		}); err != nil {
			return err
		}
		if v := mustGet(t, ec, k); v != 1 {
			t.Fatalf("after inner exit expected 1 again, got %#v", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func Test_Binding_EndToEnd(t *testing.T) {
	// bind A=1; inside, bind A=2,B="x" as one bulk set; check both levels.
	a, b := For[int](), For[string]()
	ec := NewExecContext()

	err := Where(a, 1).Run(ec, func() error {
		err := Where(a, 2).Where(b, "x").Run(ec, func() error {
			if v := mustGet(t, ec, a); v != 2 {
				t.Fatalf("bulk A expected 2, got %#v", v)
			}
			if v := mustGet(t, ec, b); v != "x" {
				t.Fatalf("bulk B expected \"x\", got %#v", v)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if v := mustGet(t, ec, a); v != 1 {
			t.Fatalf("after bulk exit A expected 1, got %#v", v)
		}
		if b.IsBound(ec) {
			t.Fatalf("after bulk exit B still bound")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if a.IsBound(ec) {
		t.Fatalf("after outer exit A still bound")
	}
	wantNotBound(t, ec, a)
}

// ---------------- Unbound access & defaults ----------------

func Test_Get_UnboundSignalsNotBound(t *testing.T) {
	k := For[int]()
	ec := NewExecContext()
	wantNotBound(t, ec, k)
}

func Test_OrElse_And_OrElseErr(t *testing.T) {
	k := For[string]()
	ec := NewExecContext()

	if v := k.OrElse(ec, "fallback"); v != "fallback" {
		t.Fatalf("unbound OrElse expected fallback, got %#v", v)
	}
	sentinel := fmt.Errorf("no config")
	if _, err := k.OrElseErr(ec, sentinel); err != sentinel {
		t.Fatalf("unbound OrElseErr expected sentinel, got %#v", err)
	}

	err := Where(k, "real").Run(ec, func() error {
		if v := k.OrElse(ec, "fallback"); v != "real" {
			t.Fatalf("bound OrElse expected real, got %#v", v)
		}
		v, err := k.OrElseErr(ec, sentinel)
		if err != nil || v != "real" {
			t.Fatalf("bound OrElseErr expected real, got %#v / %v", v, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

// ---------------- Bodies that fail ----------------

func Test_Call_PropagatesBodyError(t *testing.T) {
	k := For[int]()
	ec := NewExecContext()
	boom := fmt.Errorf("boom")

	v, err := Where(k, 7).Call(ec, func() (any, error) {
		return nil, boom
	})
	if err != boom {
		t.Fatalf("Call expected body error unchanged, got %#v", err)
	}
	if v != nil {
		t.Fatalf("Call on error expected nil value, got %#v", v)
	}
	if k.IsBound(ec) {
		t.Fatalf("binding survived a failing body")
	}
}

func Test_Call_ReturnsBodyValue(t *testing.T) {
	k := For[int]()
	ec := NewExecContext()

	v, err := Where(k, 21).Call(ec, func() (any, error) {
		n := mustGet(t, ec, k).(int)
		return n * 2, nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if v != 42 {
		t.Fatalf("Call expected 42, got %#v", v)
	}
}

// ---------------- Mixed inheritable / non-inheritable sets ----------------

func Test_Binding_MixedSetUsesBothChains(t *testing.T) {
	inh := InheritableFor[int]()
	non := For[int]()
	ec := NewExecContext()

	err := Where(inh, 10).Where(non, 20).Run(ec, func() error {
		if v := mustGet(t, ec, inh); v != 10 {
			t.Fatalf("inheritable expected 10, got %#v", v)
		}
		if v := mustGet(t, ec, non); v != 20 {
			t.Fatalf("non-inheritable expected 20, got %#v", v)
		}
		child := ec.Fork()
		if v := mustGet(t, child, inh); v != 10 {
			t.Fatalf("child inheritable expected 10, got %#v", v)
		}
		if non.IsBound(child) {
			t.Fatalf("non-inheritable binding crossed into child")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if inh.IsBound(ec) || non.IsBound(ec) {
		t.Fatalf("mixed set leaked past its scope")
	}
}
