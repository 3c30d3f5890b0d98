package lightweight

import "testing"

func TestPercentExceeds(t *testing.T) {
	cases := []struct {
		count, total, threshold int
		want                    bool
	}{
		{count: 5, total: 10, threshold: 20, want: true},
		{count: 2, total: 10, threshold: 20, want: false},
		{count: 0, total: 0, threshold: 20, want: false},
		{count: 10, total: 10, threshold: 99, want: true},
	}

	for _, c := range cases {
		if got := percentExceeds(c.count, c.total, c.threshold); got != c.want {
			t.Errorf("percentExceeds(%d, %d, %d) = %v, want %v", c.count, c.total, c.threshold, got, c.want)
		}
	}
}
