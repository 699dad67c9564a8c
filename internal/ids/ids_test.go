package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	a := NewAt(time.Unix(1000, 0))
	b := NewAt(time.Unix(2000, 0))
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	if !Valid(a) || !Valid(New()) {
		t.Fatalf("expected generated ids to be valid")
	}
}

func TestValidRejectsSlugs(t *testing.T) {
	for _, s := range []string{"", "marketing", "team-alpha-1", "01HZZZZZZZZZZZZZZZZZZZZZZ!"} {
		if Valid(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}
