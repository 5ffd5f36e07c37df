package article

import "testing"

func TestIsComplete(t *testing.T) {
	cases := []struct {
		name string
		a    Article
		want bool
	}{
		{"no commentary", Article{ID: "a1"}, false},
		{"has commentary", Article{ID: "a1", AICommentary: "some take"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.IsComplete(); got != tc.want {
				t.Fatalf("IsComplete() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsTemporary(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"temp-abc123", true},
		{"temp-", true},
		{"abc123", false},
		{"", false},
		{"tem", false},
	}
	for _, tc := range cases {
		if got := IsTemporary(tc.id); got != tc.want {
			t.Fatalf("IsTemporary(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}
