package repo

import (
	"testing"
	"time"
)

func TestUTCDay(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	newYork := time.FixedZone("EST", -5*60*60)

	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{
			name: "utc noon",
			in:   time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
			want: "2025-06-15",
		},
		{
			name: "local evening is next utc day",
			in:   time.Date(2025, 6, 15, 23, 30, 0, 0, newYork),
			want: "2025-06-16",
		},
		{
			name: "local after midnight is previous utc day",
			in:   time.Date(2025, 6, 16, 1, 30, 0, 0, moscow),
			want: "2025-06-15",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := utcDay(tc.in); got != tc.want {
				t.Fatalf("utcDay(%v) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
