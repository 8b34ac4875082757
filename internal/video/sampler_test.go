package video

import "testing"

func TestSkipInterval(t *testing.T) {
	tests := []struct {
		name     string
		fps      float64
		interval float64
		want     int
	}{
		{"every frame", 30, 0, 1},
		{"two seconds", 30, 2, 60},
		{"unknown fps", 0, 1, 30},
		{"fractional", 29.97, 1, 29},
		{"sub-frame interval", 30, 0.01, 1},
		{"negative interval", 30, -1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SkipInterval(tt.fps, tt.interval); got != tt.want {
				t.Errorf("SkipInterval(%v, %v) = %d, want %d", tt.fps, tt.interval, got, tt.want)
			}
		})
	}
}

func TestShouldSample(t *testing.T) {
	var sampled []int
	for i := 0; i < 10; i++ {
		if ShouldSample(i, 3) {
			sampled = append(sampled, i)
		}
	}
	want := []int{0, 3, 6, 9}
	if len(sampled) != len(want) {
		t.Fatalf("sampled = %v, want %v", sampled, want)
	}
	for i := range want {
		if sampled[i] != want[i] {
			t.Errorf("sampled = %v, want %v", sampled, want)
			break
		}
	}

	for i := 0; i < 5; i++ {
		if !ShouldSample(i, 1) {
			t.Errorf("ShouldSample(%d, 1) = false", i)
		}
	}
}
