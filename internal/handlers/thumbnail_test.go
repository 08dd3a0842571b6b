package handlers

import "testing"

func TestDefaultThumbnailSizesCoversSmallMediumLarge(t *testing.T) {
	want := map[string]bool{"small": false, "medium": false, "large": false}
	for _, s := range DefaultThumbnailSizes {
		if _, ok := want[s.Name]; !ok {
			t.Fatalf("unexpected thumbnail size name %q", s.Name)
		}
		want[s.Name] = true
		if s.Width <= 0 || s.Height <= 0 {
			t.Errorf("size %q has non-positive dimensions: %dx%d", s.Name, s.Width, s.Height)
		}
		if s.Quality <= 0 || s.Quality > 100 {
			t.Errorf("size %q has out-of-range quality: %d", s.Name, s.Quality)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("expected default size %q to be present", name)
		}
	}
}

func TestThumbnailDefaultsSizesWhenNoneGiven(t *testing.T) {
	h := Thumbnail(S3{}, nil)
	if h == nil {
		t.Fatal("expected non-nil handler")
	}
}
