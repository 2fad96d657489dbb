package events

import (
	"strings"
	"testing"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		pool string
		want string
	}{
		{"p1", "batchfleet.events.p1"},
		{"gpu_pool-2", "batchfleet.events.gpu_pool-2"},
		{"a.b", "batchfleet.events.a_b"},
		{"odd*pool>", "batchfleet.events.odd_pool_"},
		{"", "batchfleet.events._"},
	}
	for _, tt := range tests {
		if got := Subject(tt.pool); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.pool, got, tt.want)
		}
	}
}

func TestSubjectsInStream(t *testing.T) {
	prefix := strings.TrimSuffix(SubjectAll, ">")
	for _, pool := range []string{"p1", "x.y.z"} {
		if !strings.HasPrefix(Subject(pool), prefix) {
			t.Errorf("Subject(%q) is outside stream subjects %s", pool, SubjectAll)
		}
		if n := strings.Count(Subject(pool), "."); n != 2 {
			t.Errorf("Subject(%q) has %d separators, want 2", pool, n)
		}
	}
}
