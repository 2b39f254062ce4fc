package geo

import (
	"math"
	"testing"
)

func TestHaversineSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{19.0000, 72.8000, 19.0009, 72.8000},
		{51.5074, -0.1278, 48.8566, 2.3522},
		{-33.8688, 151.2093, 35.6762, 139.6503},
		{0, 179.9, 0, -179.9},
	}
	for _, p := range pairs {
		ab := Haversine(p[0], p[1], p[2], p[3])
		ba := Haversine(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("dist(a,b)=%v != dist(b,a)=%v", ab, ba)
		}
	}
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	if d := Haversine(19.0, 72.8, 19.0, 72.8); d != 0 {
		t.Fatalf("dist(a,a) = %v, want 0", d)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// ~100 m due north of (19, 72.8): 0.0009 deg latitude.
	d := Haversine(19.0000, 72.8000, 19.0009, 72.8000)
	if d < 99 || d > 101 {
		t.Fatalf("expected ~100m, got %v", d)
	}
}

func TestBearingRange(t *testing.T) {
	pairs := [][4]float64{
		{19.0, 72.8, 19.0009, 72.8},   // due north
		{19.0, 72.8, 18.9991, 72.8},   // due south
		{19.0, 72.8, 19.0, 72.8009},   // east
		{19.0, 72.8, 19.0, 72.7991},   // west
		{0, 179.9, 0, -179.9},         // across the antimeridian
		{51.5074, -0.1278, 48.8566, 2.3522},
	}
	for _, p := range pairs {
		b := Bearing(p[0], p[1], p[2], p[3])
		if b < 0 || b >= 360 {
			t.Fatalf("bearing %v out of [0,360)", b)
		}
	}
}

func TestBearingCardinal(t *testing.T) {
	if b := Bearing(19.0, 72.8, 19.0009, 72.8); math.Abs(b) > 0.01 && math.Abs(b-360) > 0.01 {
		t.Fatalf("due north: got %v", b)
	}
	if b := Bearing(19.0, 72.8, 18.9991, 72.8); math.Abs(b-180) > 0.01 {
		t.Fatalf("due south: got %v", b)
	}
	if b := Bearing(19.0, 72.8, 19.0, 72.8009); math.Abs(b-90) > 0.01 {
		t.Fatalf("due east: got %v", b)
	}
}

func TestLowpassIdempotent(t *testing.T) {
	for _, alpha := range []float64{0, 0.3, 0.5, 1} {
		for _, x := range []float64{0, 1.5, -3, 120} {
			if got := Lowpass(x, x, alpha); got != x {
				t.Fatalf("filter(%v,%v,%v) = %v", x, x, alpha, got)
			}
		}
	}
}

func TestLowpassBlend(t *testing.T) {
	got := Lowpass(2.0, 1.0, 0.3)
	if math.Abs(got-1.3) > 1e-12 {
		t.Fatalf("0.3*2 + 0.7*1 = %v, want 1.3", got)
	}
}

func TestLowpassBearingWrap(t *testing.T) {
	got := LowpassBearing(1, 359, 0.5)
	if math.Abs(got-0) > 1e-9 && math.Abs(got-360) > 1e-9 {
		t.Fatalf("359 blended with 1 should land at 0, got %v", got)
	}
	// matches plain lowpass when values are close
	if got := LowpassBearing(100, 90, 0.3); math.Abs(got-Lowpass(100, 90, 0.3)) > 1e-9 {
		t.Fatalf("circular blend diverged from linear blend: %v", got)
	}
}

func TestDistance3D(t *testing.T) {
	if d := Distance3D(3, 4); math.Abs(d-5) > 1e-12 {
		t.Fatalf("hypot(3,4) = %v", d)
	}
	if d := Distance3D(100, 0); d != 100 {
		t.Fatalf("no altitude delta should leave surface distance: %v", d)
	}
}
