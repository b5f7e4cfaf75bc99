package mediawidget

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Annual Reports":    "annual-reports",
		"  Q3 -- 2024!  ":   "q3-2024",
		"Ünïcode & symbols": "n-code-symbols",
		"***":               "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildURL(t *testing.T) {
	if got := BuildURL("https://example.com", "feed", "7"); got != "https://example.com/feed/7/" {
		t.Fatalf("BuildURL = %q", got)
	}
	if got := BuildURL("https://example.com/base/", "widgets"); got != "https://example.com/base/widgets/" {
		t.Fatalf("BuildURL = %q", got)
	}
}

func TestFileURL(t *testing.T) {
	if got := FileURL("http://example.com/", "/media/", "report.pdf"); got != "http://example.com/media/report.pdf" {
		t.Fatalf("FileURL = %q", got)
	}
	if got := FileURL("http://example.com", "media", "a b.png"); got != "http://example.com/media/a%20b.png" {
		t.Fatalf("FileURL = %q", got)
	}
}

func TestParseID(t *testing.T) {
	cases := map[string]int64{"7": 7, " 12 ": 12, "": 0, "-3": 0, "x": 0, "1.5": 0}
	for in, want := range cases {
		if got := parseID(in); got != want {
			t.Fatalf("parseID(%q) = %d, want %d", in, got, want)
		}
	}
}
