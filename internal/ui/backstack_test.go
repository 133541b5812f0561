package ui

import "testing"

func TestBackStackStartsAtRoot(t *testing.T) {
	b := NewBackStack(Screen{Name: "root"})
	if got := b.Depth(); got != 1 {
		t.Fatalf("Depth() = %d, want 1", got)
	}
	if got := b.Top(); got.Name != "root" {
		t.Fatalf("Top() = %v, want root", got)
	}
}

func TestBackStackPushPop(t *testing.T) {
	b := NewBackStack(Screen{Name: "root"})
	b.Push(Screen{Name: "now_playing"})
	if got := b.Top(); got.Name != "now_playing" {
		t.Fatalf("Top() = %v, want now_playing", got)
	}
	if got := b.Depth(); got != 2 {
		t.Fatalf("Depth() = %d, want 2", got)
	}

	b.Pop()
	if got := b.Top(); got.Name != "root" {
		t.Fatalf("Top() after Pop() = %v, want root", got)
	}
	if got := b.Depth(); got != 1 {
		t.Fatalf("Depth() after Pop() = %d, want 1", got)
	}
}

func TestBackStackPopNeverRemovesRoot(t *testing.T) {
	b := NewBackStack(Screen{Name: "root"})
	b.Pop()
	b.Pop()
	if got := b.Depth(); got != 1 {
		t.Fatalf("Depth() = %d, want 1 (root never popped)", got)
	}
	if got := b.Top(); got.Name != "root" {
		t.Fatalf("Top() = %v, want root", got)
	}
}

func TestBackStackReset(t *testing.T) {
	b := NewBackStack(Screen{Name: "root"})
	b.Push(Screen{Name: "a"})
	b.Push(Screen{Name: "b"})
	b.Push(Screen{Name: "c"})
	if got := b.Depth(); got != 4 {
		t.Fatalf("Depth() before Reset() = %d, want 4", got)
	}

	b.Reset()
	if got := b.Depth(); got != 1 {
		t.Fatalf("Depth() after Reset() = %d, want 1", got)
	}
	if got := b.Top(); got.Name != "root" {
		t.Fatalf("Top() after Reset() = %v, want root", got)
	}
}

func TestBackStackOnChangeFiresOnMutation(t *testing.T) {
	b := NewBackStack(Screen{Name: "root"})
	var fired int
	b.OnChange(func() { fired++ })

	b.Push(Screen{Name: "a"})
	b.Pop()
	b.Reset()

	if fired != 3 {
		t.Fatalf("fired = %d, want 3", fired)
	}
}
