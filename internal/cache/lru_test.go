package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string]("test", 2, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	// a was touched, so b is the least recently used
	c.Set("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	c := NewLRUCache[int]("test", 10, 20*time.Millisecond)
	c.Set("x", 1)
	c.Set("y", 2)
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("x"); ok {
		t.Error("x should have expired")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired() = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestLRUCache_DeletePurge(t *testing.T) {
	c := NewLRUCache[int]("test", 10, time.Minute)
	c.Set("x", 1)
	c.Set("y", 2)
	c.Delete("x")
	if _, ok := c.Get("x"); ok {
		t.Error("x should be deleted")
	}
	c.Purge()
	if c.Size() != 0 {
		t.Errorf("Size() after Purge = %d", c.Size())
	}
}

func TestLRUCache_GetOrLoadCollapsesCalls(t *testing.T) {
	c := NewLRUCache[int]("test", 10, time.Minute)
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad("k", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 42, nil
			})
			if err != nil || v != 42 {
				t.Errorf("GetOrLoad = %d, %v", v, err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
	if v, ok := c.Get("k"); !ok || v != 42 {
		t.Errorf("value not cached: %d %v", v, ok)
	}
}

func TestLRUCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := NewLRUCache[int]("test", 10, time.Minute)
	_, err := c.GetOrLoad("k", func() (int, error) { return 0, errors.New("db down") })
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("errors must not be cached")
	}
}

func TestLRUCache_PurgeDuringLoad(t *testing.T) {
	c := NewLRUCache[int]("test", 10, time.Minute)
	_, err := c.GetOrLoad("k", func() (int, error) {
		c.Purge()
		return 1, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("a load that raced with Purge must not be stored")
	}
}

func TestLRUCache_LoadAfterPurgeDoesNotJoinStaleLoad(t *testing.T) {
	c := NewLRUCache[string]("test", 10, time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})

	staleDone := make(chan string, 1)
	go func() {
		v, _ := c.GetOrLoad("k", func() (string, error) {
			close(started)
			<-release
			return "before-write", nil
		})
		staleDone <- v
	}()
	<-started

	c.Purge()

	v, err := c.GetOrLoad("k", func() (string, error) { return "after-write", nil })
	if err != nil {
		t.Fatal(err)
	}
	if v != "after-write" {
		t.Errorf("GetOrLoad after Purge = %q, want %q", v, "after-write")
	}

	close(release)
	if got := <-staleDone; got != "before-write" {
		t.Errorf("in-flight load = %q", got)
	}
	if cached, ok := c.Get("k"); !ok || cached != "after-write" {
		t.Errorf("cached = %q %v, want after-write", cached, ok)
	}
}

func TestManager_Sweep(t *testing.T) {
	c := NewLRUCache[int]("test", 10, time.Millisecond)
	c.Set("x", 1)
	m := NewManager()
	m.Register(c)
	time.Sleep(5 * time.Millisecond)

	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	m.StartCleanup(context.Background(), 10*time.Millisecond)
	m.StartCleanup(context.Background(), 10*time.Millisecond)
	m.Stop()
	m.Stop()
}
