package metadata

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func sampleRecord() Record {
	return Record{
		ID:          "1002",
		Author:      "NASA",
		Width:       4312,
		Height:      2868,
		URL:         "https://unsplash.com/photos/6-jTZysYY_U",
		DownloadURL: "https://picsum.photos/id/1002/4312/2868",
	}
}

func TestRecord_DecodeJSON(t *testing.T) {
	payload := `{"id":"0","author":"Alejandro Escamilla","width":5000,"height":3333,` +
		`"url":"https://unsplash.com/photos/yC-Yzbqy7PY","download_url":"https://picsum.photos/id/0/5000/3333"}`

	var r Record
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if r.ID != "0" || r.Author != "Alejandro Escamilla" {
		t.Errorf("unexpected identity fields: %+v", r)
	}
	if r.Width != 5000 || r.Height != 3333 {
		t.Errorf("unexpected size: %dx%d", r.Width, r.Height)
	}
	if r.DownloadURL != "https://picsum.photos/id/0/5000/3333" {
		t.Errorf("DownloadURL = %q", r.DownloadURL)
	}
}

func TestRecord_BaseURL(t *testing.T) {
	got, err := sampleRecord().BaseURL()
	if err != nil {
		t.Fatalf("BaseURL failed: %v", err)
	}
	if want := "https://picsum.photos/id/1002"; got != want {
		t.Errorf("BaseURL() = %q, want %q", got, want)
	}
}

func TestRecord_AspectRatioUsesDownloadURL(t *testing.T) {
	r := sampleRecord()
	// Diverging record fields must not influence the ratio.
	r.Width = 10
	r.Height = 10

	got, err := r.AspectRatio()
	if err != nil {
		t.Fatalf("AspectRatio failed: %v", err)
	}
	want := 4312.0 / 2868.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("AspectRatio() = %v, want %v", got, want)
	}
}

func TestRecord_CacheKey(t *testing.T) {
	tests := []struct {
		name string
		size SizeClass
		want string
	}{
		{name: "thumbnail", size: Thumbnail, want: "https://picsum.photos/id/1002/500/333"},
		{name: "large", size: Large, want: "https://picsum.photos/id/1002/1300/865"},
		{name: "full", size: Full, want: "https://picsum.photos/id/1002/4312/2868"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleRecord()
			got, err := r.CacheKey(tt.size)
			if err != nil {
				t.Fatalf("CacheKey failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("CacheKey() = %q, want %q", got, tt.want)
			}

			again, _ := r.CacheKey(tt.size)
			if again != got {
				t.Errorf("CacheKey not deterministic: %q != %q", again, got)
			}
		})
	}
}

func TestRecord_DimensionsMatchReference(t *testing.T) {
	urls := []string{
		"https://picsum.photos/id/0/5000/3333",
		"https://picsum.photos/id/10/2500/1667",
		"https://picsum.photos/id/100/2500/1656",
		"https://picsum.photos/id/1000/5626/3635",
		"https://picsum.photos/id/1001/5616/3744",
		"https://picsum.photos/id/1012/3973/2639",
		"https://picsum.photos/id/1025/4951/3301",
	}

	for _, u := range urls {
		r := Record{ID: "x", Width: 1234, Height: 1, DownloadURL: u}
		w, h, _ := r.embeddedSize()
		aspect := float64(w) / float64(h)

		for _, size := range []SizeClass{Thumbnail, Large} {
			width, height, err := r.Dimensions(size)
			if err != nil {
				t.Fatalf("Dimensions(%s) for %s failed: %v", size, u, err)
			}
			ref := int(math.Round(float64(width) / aspect))
			if height != ref {
				t.Errorf("%s %s: height = %d, want %d", u, size, height, ref)
			}
		}
	}
}

func TestRecord_MalformedDownloadURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "too few segments", url: "https://picsum.photos/id/1002/4312"},
		{name: "too many segments", url: "https://picsum.photos/id/1002/4312/2868/extra"},
		{name: "non numeric width", url: "https://picsum.photos/id/1002/wide/2868"},
		{name: "non numeric height", url: "https://picsum.photos/id/1002/4312/tall"},
		{name: "zero height", url: "https://picsum.photos/id/1002/4312/0"},
		{name: "negative width", url: "https://picsum.photos/id/1002/-4/2868"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{ID: "1002", Width: 4312, Height: 2868, DownloadURL: tt.url}

			if _, err := r.AspectRatio(); !errors.Is(err, ErrMalformedURL) {
				t.Errorf("AspectRatio() error = %v, want ErrMalformedURL", err)
			}
			if _, err := r.CacheKey(Thumbnail); !errors.Is(err, ErrMalformedURL) {
				t.Errorf("CacheKey() error = %v, want ErrMalformedURL", err)
			}

			var urlErr *URLError
			if _, err := r.CacheKey(Full); !errors.As(err, &urlErr) {
				t.Errorf("expected *URLError, got %T", err)
			}
		})
	}
}

func TestParseSizeClass(t *testing.T) {
	tests := []struct {
		in      string
		want    SizeClass
		wantErr bool
	}{
		{in: "thumbnail", want: Thumbnail},
		{in: "LARGE", want: Large},
		{in: " full ", want: Full},
		{in: "", want: Thumbnail},
		{in: "huge", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSizeClass(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSizeClass(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSizeClass(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSizeClass_TargetWidth(t *testing.T) {
	r := sampleRecord()
	if w, _ := Thumbnail.TargetWidth(r); w != ThumbnailWidth {
		t.Errorf("Thumbnail width = %d", w)
	}
	if w, _ := Large.TargetWidth(r); w != LargeWidth {
		t.Errorf("Large width = %d", w)
	}
	if w, _ := Full.TargetWidth(r); w != r.Width {
		t.Errorf("Full width = %d, want %d", w, r.Width)
	}

	r.Width = 0
	if _, err := Full.TargetWidth(r); err == nil {
		t.Error("expected error for record without native width")
	}
}
