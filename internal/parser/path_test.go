package parser

import "testing"

func TestCleanPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`"/tmp/a.mp4"`, "/tmp/a.mp4"},
		{`'/tmp/a.mp4'`, "/tmp/a.mp4"},
		{"/tmp/a.mp4\r\n", "/tmp/a.mp4"},
		{"\x1b[1m/tmp/a.mp4\x1b[0m", "/tmp/a.mp4"},
		{"file:///tmp/a%20b.mp4", "/tmp/a b.mp4"},
		{"file:/tmp/a.mp4", "/tmp/a.mp4"},
		{"file://localhost/tmp/a.mp4", "/tmp/a.mp4"},
		{"file:///C:/Users/me/a.mp4", "C:/Users/me/a.mp4"},
		{"/tmp/100%25 done.mp4", "/tmp/100%25 done.mp4"},
		{`""`, ""},
	}
	for _, tc := range cases {
		if got := CleanPath(tc.in); got != tc.want {
			t.Fatalf("CleanPath(%q): got %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestTitleFromPath(t *testing.T) {
	cases := map[string]string{
		"/tmp/out/x.mp4":         "x.mp4",
		`C:\Users\me\Video.webm`: "Video.webm",
		"C:/mixed\\sep/y.mkv":    "y.mkv",
		"plain.mp3":              "plain.mp3",
	}
	for in, want := range cases {
		if got := TitleFromPath(in); got != want {
			t.Fatalf("TitleFromPath(%q): got %q want %q", in, got, want)
		}
	}
}
