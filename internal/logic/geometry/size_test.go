package geometry

import (
	"math/rand/v2"
	"testing"
)

var sensor43 = Size{4032, 3024}

func phoneChoices() []Size {
	return []Size{
		{1920, 1440},
		{1920, 1080},
		{1440, 1080},
		{1280, 960},
		{1280, 720},
		{640, 480},
		{320, 240},
		{4032, 3024},
	}
}

func TestChooseOptimalSize_SmallestBigEnough(t *testing.T) {
	got := ChooseOptimalSize(phoneChoices(), Size{1000, 700}, MaxPreview, sensor43)
	want := Size{1280, 960}
	if got != want {
		t.Errorf("ChooseOptimalSize() = %v, want %v", got, want)
	}
}

func TestChooseOptimalSize_ExactViewIsBigEnough(t *testing.T) {
	got := ChooseOptimalSize(phoneChoices(), Size{640, 480}, MaxPreview, sensor43)
	want := Size{640, 480}
	if got != want {
		t.Errorf("ChooseOptimalSize() = %v, want %v", got, want)
	}
}

func TestChooseOptimalSize_LargestWhenNoneBigEnough(t *testing.T) {
	got := ChooseOptimalSize(phoneChoices(), Size{1600, 1200}, MaxPreview, sensor43)
	want := Size{1440, 1080} // 1920x1440 exceeds the max height
	if got != want {
		t.Errorf("ChooseOptimalSize() = %v, want %v", got, want)
	}
}

func TestChooseOptimalSize_RespectsMaxBound(t *testing.T) {
	got := ChooseOptimalSize(phoneChoices(), Size{100, 100}, Size{700, 500}, sensor43)
	want := Size{320, 240}
	if got != want {
		t.Errorf("ChooseOptimalSize() = %v, want %v", got, want)
	}

	got = ChooseOptimalSize(phoneChoices(), Size{1000, 1000}, Size{700, 500}, sensor43)
	want = Size{640, 480}
	if got != want {
		t.Errorf("ChooseOptimalSize() = %v, want %v", got, want)
	}
}

func TestChooseOptimalSize_FallbackToFirst(t *testing.T) {
	choices := []Size{{333, 111}, {1280, 720}}
	got := ChooseOptimalSize(choices, Size{100, 100}, MaxPreview, Size{1, 1})
	if got != choices[0] {
		t.Errorf("ChooseOptimalSize() = %v, want first choice %v", got, choices[0])
	}
}

func TestChooseOptimalSize_Empty(t *testing.T) {
	got := ChooseOptimalSize(nil, Size{100, 100}, MaxPreview, sensor43)
	if !got.IsZero() {
		t.Errorf("ChooseOptimalSize(nil) = %v, want zero size", got)
	}
}

func TestChooseOptimalSize_TieKeepsFirst(t *testing.T) {
	choices := []Size{{1280, 720}, {1280, 720}}
	got := ChooseOptimalSize(choices, Size{100, 100}, MaxPreview, Size{16, 9})
	if got != choices[0] {
		t.Errorf("ChooseOptimalSize() = %v, want %v", got, choices[0])
	}
}

func TestChooseOptimalSize_Properties(t *testing.T) {
	aspects := []Size{{4, 3}, {16, 9}, {1, 1}, {3, 2}}
	rng := rand.New(rand.NewPCG(7, 11))

	for i := 0; i < 500; i++ {
		aspect := aspects[rng.IntN(len(aspects))]
		n := 1 + rng.IntN(12)
		choices := make([]Size, 0, n)
		for j := 0; j < n; j++ {
			if rng.IntN(2) == 0 {
				k := 1 + rng.IntN(120)
				choices = append(choices, Size{aspect.Width * k * 4, aspect.Height * k * 4})
			} else {
				choices = append(choices, Size{16 * (1 + rng.IntN(200)), 16 * (1 + rng.IntN(200))})
			}
		}
		view := Size{1 + rng.IntN(2000), 1 + rng.IntN(2000)}
		maxSize := Size{200 + rng.IntN(2000), 200 + rng.IntN(2000)}

		got := ChooseOptimalSize(choices, view, maxSize, aspect)

		anyMatch := false
		bigEnoughExists := false
		for _, c := range choices {
			if c.Width <= maxSize.Width && c.Height <= maxSize.Height && c.MatchesAspect(aspect) {
				anyMatch = true
				if c.Width >= view.Width && c.Height >= view.Height {
					bigEnoughExists = true
				}
			}
		}

		if anyMatch && !got.MatchesAspect(aspect) {
			t.Fatalf("case %d: %v does not match aspect %v", i, got, aspect)
		}
		if anyMatch && (got.Width > maxSize.Width || got.Height > maxSize.Height) {
			t.Fatalf("case %d: %v exceeds max %v", i, got, maxSize)
		}
		if bigEnoughExists && (got.Width < view.Width || got.Height < view.Height) {
			t.Fatalf("case %d: %v is smaller than view %v although a big enough size exists", i, got, view)
		}
		if !anyMatch && got != choices[0] {
			t.Fatalf("case %d: fallback = %v, want %v", i, got, choices[0])
		}
	}
}

func TestLargest(t *testing.T) {
	got, ok := Largest(phoneChoices())
	if !ok {
		t.Fatal("Largest() ok = false")
	}
	if got != sensor43 {
		t.Errorf("Largest() = %v, want %v", got, sensor43)
	}
	if _, ok := Largest(nil); ok {
		t.Error("Largest(nil) ok = true, want false")
	}
}

func TestCompareByArea_NoOverflow(t *testing.T) {
	big := Size{1 << 20, 1 << 20}
	small := Size{1 << 20, (1 << 20) - 1}
	if CompareByArea(big, small) != 1 {
		t.Error("expected big > small")
	}
	if CompareByArea(small, big) != -1 {
		t.Error("expected small < big")
	}
	if CompareByArea(big, big) != 0 {
		t.Error("expected equal areas to compare as 0")
	}
}
