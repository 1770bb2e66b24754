package observer

import (
	"reflect"
	"testing"
)

func TestListEmitsInRegistrationOrder(t *testing.T) {
	var l List[int]
	var got []string
	l.Add(func(v int) { got = append(got, "a") })
	l.Add(func(v int) { got = append(got, "b") })
	l.Add(func(v int) { got = append(got, "c") })
	l.Emit(1)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("order = %v", got)
	}
}

func TestListRemoveTokenIsStable(t *testing.T) {
	var l List[string]
	calls := 0
	same := func(string) { calls++ }
	removeFirst := l.Add(same)
	l.Add(same)

	removeFirst()
	removeFirst()
	l.Emit("x")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}

func TestListRemoveDuringEmit(t *testing.T) {
	var l List[int]
	var removeSecond func()
	secondCalled := false
	l.Add(func(int) { removeSecond() })
	removeSecond = l.Add(func(int) { secondCalled = true })
	l.Emit(0)
	if secondCalled {
		t.Fatal("listener removed during emit was still called")
	}
}

func TestListAddDuringEmitNotCalled(t *testing.T) {
	var l List[int]
	lateCalls := 0
	l.Add(func(int) {
		l.Add(func(int) { lateCalls++ })
	})
	l.Emit(0)
	if lateCalls != 0 {
		t.Fatalf("late listener called %d times during the emit that added it", lateCalls)
	}
}

func TestListNilListener(t *testing.T) {
	var l List[int]
	remove := l.Add(nil)
	remove()
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
}

func TestListSnapshot(t *testing.T) {
	var l List[int]
	var got []int
	l.Add(func(v int) { got = append(got, v) })
	remove := l.Add(func(v int) { got = append(got, v*10) })
	l.Add(func(v int) { got = append(got, v*100) })
	remove()

	fns := l.Snapshot()
	l.Add(func(int) { t.Error("listener added after snapshot was called") })
	for _, fn := range fns {
		fn(2)
	}
	if !reflect.DeepEqual(got, []int{2, 200}) {
		t.Fatalf("got %v", got)
	}
}
