package keymutex

import (
	"sync"
	"testing"
	"time"
)

func TestSerializesSameKey(t *testing.T) {
	var km KeyMutex
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.With("doc", func() error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 serialized increments, got %d", counter)
	}
	if km.Len() != 0 {
		t.Errorf("expected no retained keys, got %d", km.Len())
	}
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	var km KeyMutex
	km.Lock("a")
	defer km.Unlock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on key b blocked behind key a")
	}
}

func TestUnlockUnknownKeyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	var km KeyMutex
	km.Unlock("missing")
}
