package resource

import (
	"sync"
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

type dropCounter struct {
	drops *int
}

func (d dropCounter) Drop() { *d.drops++ }

func TestTable_Basic(t *testing.T) {
	table := NewTable("test")

	h := table.Insert(1, "test")
	if h == 0 {
		t.Fatal("Expected non-zero handle")
	}

	val, ok := table.Get(h)
	if !ok || val != "test" {
		t.Fatalf("Get = %v, %v", val, ok)
	}

	if _, ok := table.GetTyped(h, 1); !ok {
		t.Fatal("GetTyped with correct type failed")
	}
	if _, ok := table.GetTyped(h, 2); ok {
		t.Fatal("GetTyped with wrong type should fail")
	}

	val, ok = table.Remove(h)
	if !ok || val != "test" {
		t.Fatalf("Remove = %v, %v", val, ok)
	}
	if table.Len() != 0 {
		t.Fatal("Expected Len() == 0 after Remove")
	}
}

func TestTable_StaleHandle(t *testing.T) {
	table := NewTable("test")

	h1 := table.Insert(1, "first")
	if _, ok := table.Remove(h1); !ok {
		t.Fatal("first Remove failed")
	}
	if _, ok := table.Remove(h1); ok {
		t.Fatal("second Remove of the same handle must fail")
	}

	h2 := table.Insert(1, "second")
	if h2.Slot() != h1.Slot() {
		t.Fatalf("expected slot reuse, got %d and %d", h1.Slot(), h2.Slot())
	}
	if h2 == h1 {
		t.Fatal("reused slot must get a new handle")
	}
	if _, ok := table.Get(h1); ok {
		t.Fatal("stale handle resolved to the new value")
	}
	if v, ok := table.Get(h2); !ok || v != "second" {
		t.Fatalf("Get(h2) = %v, %v", v, ok)
	}
}

func TestTable_InvalidHandles(t *testing.T) {
	table := NewTable("test")
	table.Insert(1, "x")

	for _, h := range []Handle{0, makeHandle(5, 0), makeHandle(0, 3)} {
		if _, ok := table.Get(h); ok {
			t.Errorf("Get(%s) should fail", h)
		}
		if _, ok := table.Remove(h); ok {
			t.Errorf("Remove(%s) should fail", h)
		}
	}
}

func TestTable_Observer(t *testing.T) {
	table := NewTable("test")
	obs := &testObserver{}
	table.Subscribe(obs)

	h := table.Insert(7, "v")
	table.Remove(h)

	if len(obs.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(obs.events))
	}
	if obs.events[0].Type != EventCreated || obs.events[0].Handle != h || obs.events[0].TypeID != 7 {
		t.Errorf("unexpected create event %+v", obs.events[0])
	}
	if obs.events[1].Type != EventDropped || obs.events[1].Value != "v" {
		t.Errorf("unexpected drop event %+v", obs.events[1])
	}
}

func TestTable_Dropper(t *testing.T) {
	drops := 0
	table := NewTable("test")

	h := table.Insert(1, dropCounter{&drops})
	table.Insert(1, dropCounter{&drops})
	table.Remove(h)
	if drops != 1 {
		t.Fatalf("Expected 1 drop after Remove, got %d", drops)
	}

	table.Close()
	if drops != 2 {
		t.Fatalf("Expected 2 drops after Close, got %d", drops)
	}
	if h := table.Insert(1, "late"); h != 0 {
		t.Fatal("Insert after Close must return 0")
	}
}

func TestTable_Clear(t *testing.T) {
	table := NewTable("test")
	for i := 0; i < 5; i++ {
		table.Insert(1, i)
	}
	table.Clear()
	if table.Len() != 0 {
		t.Fatalf("Expected empty table, got %d", table.Len())
	}
}

func TestTyped(t *testing.T) {
	table := NewTable("test")
	strs := NewTyped[string](table, 1)
	ints := NewTyped[int](table, 2)

	hs := strs.Insert("a")
	hi := ints.Insert(42)

	if _, ok := ints.Get(hs); ok {
		t.Fatal("typed Get across types should fail")
	}
	if v, ok := ints.Get(hi); !ok || v != 42 {
		t.Fatalf("Get = %v, %v", v, ok)
	}
	if _, ok := strs.Remove(hi); ok {
		t.Fatal("typed Remove across types should fail")
	}

	var seen []string
	strs.Each(func(_ Handle, s string) bool {
		seen = append(seen, s)
		return true
	})
	if len(seen) != 1 || seen[0] != "a" {
		t.Fatalf("Each saw %v", seen)
	}
}

func TestTable_Concurrent(t *testing.T) {
	table := NewTable("test")
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h := table.Insert(1, i)
				if _, ok := table.Remove(h); !ok {
					t.Error("Remove of own handle failed")
					return
				}
			}
		}()
	}
	wg.Wait()
	if table.Len() != 0 {
		t.Fatalf("Expected empty table, got %d", table.Len())
	}
}
