package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDiscover(t *testing.T) {
	n := 5
	expected := make([]string, n)
	for i := range n {
		expected[i] = fmt.Sprintf("127.0.0.1:%d", 7000+i)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	fatal := make(chan error, n)
	for i := range n {
		go func() {
			time.Sleep(time.Duration(i) * 50 * time.Millisecond)
			discover, err := NewWithOptions(expected[i],
				WithPortRange(9100, 9110),
				WithAttempts(10),
				WithInterval(200*time.Millisecond),
			)
			if err != nil {
				fatal <- err
				return
			}
			found, err := discover.Collect(ctx, n)
			if err != nil {
				fatal <- fmt.Errorf("node %d: %w", i, err)
				return
			}
			if diff := cmp.Diff(expected, found); diff != "" {
				fatal <- fmt.Errorf("node %d (-want, +got):\n%s", i, diff)
				return
			}
			// keep serving for the slower nodes
			time.Sleep(3 * time.Second)
			fatal <- discover.Close()
		}()
	}
	for range n {
		if err := <-fatal; err != nil {
			t.Fatal(err)
		}
	}
}

func TestPortRangeExhausted(t *testing.T) {
	first, err := NewWithPortRange("a", 9120, 9120, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	if first.Port() != 9120 {
		t.Fatalf("port %d", first.Port())
	}
	if _, err := NewWithPortRange("b", 9120, 9120, 1); err == nil {
		t.Fatal("expected an error with every port taken")
	}
	if _, err := NewWithPortRange("c", 9130, 9120, 1); err == nil {
		t.Fatal("expected an error for an empty range")
	}
}
