package turbopng

import "testing"

func TestSelectProfileWindowAndCap(t *testing.T) {
	tests := []struct {
		quality  int
		min, max int
		cap      int
	}{
		{100, 85, 99, 96},
		{98, 85, 99, 96},
		{97, 80, 96, 48},
		{95, 80, 96, 48},
		{94, 70, 92, 32},
		{85, 70, 92, 32},
		{84, 60, 88, 24},
		{70, 60, 88, 24},
		{69, 45, 82, 20},
		{55, 45, 82, 20},
		{54, 35, 76, 16},
		{40, 35, 76, 16},
		{39, 25, 68, 12},
		{1, 25, 68, 12},
	}
	for _, tc := range tests {
		p := SelectProfile(tc.quality)
		if p.QuantMin != tc.min || p.QuantMax != tc.max || p.PaletteCap != tc.cap {
			t.Errorf("quality %d: got window (%d, %d) cap %d, expected (%d, %d) cap %d",
				tc.quality, p.QuantMin, p.QuantMax, p.PaletteCap, tc.min, tc.max, tc.cap)
		}
	}
}

func TestSelectProfileKnobs(t *testing.T) {
	tests := []struct {
		quality    int
		speed      int
		dither     float32
		iterations int
	}{
		{100, 1, 1.0, 25},
		{95, 1, 1.0, 25},
		{94, 1, 1.0, 20},
		{90, 1, 1.0, 20},
		{89, 3, 0.8, 20},
		{80, 3, 0.8, 20},
		{79, 3, 0.8, 15},
		{75, 3, 0.8, 15},
		{74, 5, 0.6, 15},
		{60, 5, 0.6, 15},
		{59, 5, 0.6, 12},
		{50, 5, 0.6, 12},
		{49, 7, 0.4, 12},
		{40, 7, 0.4, 12},
		{39, 7, 0.4, 10},
		{30, 7, 0.4, 10},
		{29, 9, 0.3, 10},
		{1, 9, 0.3, 10},
	}
	for _, tc := range tests {
		p := SelectProfile(tc.quality)
		if p.Speed != tc.speed || p.Dither != tc.dither || p.CoderIterations != tc.iterations {
			t.Errorf("quality %d: got speed %d dither %v iterations %d, expected %d %v %d",
				tc.quality, p.Speed, p.Dither, p.CoderIterations, tc.speed, tc.dither, tc.iterations)
		}
	}
}

func TestSelectProfilePhotoTier(t *testing.T) {
	for q := MinQuality; q <= MaxQuality; q++ {
		if got := SelectProfile(q).PhotoTier; got != (q >= 98) {
			t.Errorf("quality %d: photo tier %v", q, got)
		}
	}
}

func TestSelectProfileClamps(t *testing.T) {
	if SelectProfile(0) != SelectProfile(1) || SelectProfile(-20) != SelectProfile(1) {
		t.Error("low qualities should clamp to 1")
	}
	if SelectProfile(101) != SelectProfile(100) || SelectProfile(1000) != SelectProfile(100) {
		t.Error("high qualities should clamp to 100")
	}
}

func TestSelectProfileSpeedRange(t *testing.T) {
	speeds := map[int]bool{}
	for q := MinQuality; q <= MaxQuality; q++ {
		speeds[SelectProfile(q).Speed] = true
	}
	for s := range speeds {
		if s < 1 || s > 9 || s%2 == 0 {
			t.Errorf("unexpected speed %d", s)
		}
	}
	if len(speeds) != 5 {
		t.Errorf("got speeds %v", speeds)
	}
	for s := 1; s < 10; s++ {
		if maxIterations(s) <= maxIterations(s+1) || maxIterations(s+1) < 1 {
			t.Errorf("speed %d: %d iterations, speed %d: %d", s, maxIterations(s), s+1, maxIterations(s+1))
		}
	}
}
