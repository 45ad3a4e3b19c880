package message

import (
	"strings"
	"testing"

	"jobwatch/internal/domain"
)

func TestNotificationFormat(t *testing.T) {
	t.Parallel()
	got := Notification("python", domain.Posting{
		Title:  "Python Backend Engineer",
		Origin: "Acme",
		URL:    "https://jobs.example/1",
	})
	want := "🔔 New job match for &#34;python&#34;!\n\n📋 Python Backend Engineer\n🏢 Acme\n🔗 https://jobs.example/1"
	if got != want {
		t.Fatalf("Notification =\n%q\nwant\n%q", got, want)
	}
}

func TestNotificationEscapesAndDefaults(t *testing.T) {
	t.Parallel()
	got := Notification("c++", domain.Posting{
		Title: "<script>alert(1)</script>",
		URL:   "https://jobs.example/?a=1&b=2",
	})
	for _, bad := range []string{"<script>", "&b="} {
		if strings.Contains(got, bad) {
			t.Fatalf("unescaped %q in %q", bad, got)
		}
	}
	if !strings.Contains(got, "🏢 unknown") {
		t.Fatalf("missing origin default in %q", got)
	}
}

func TestNotificationTruncatesTitle(t *testing.T) {
	t.Parallel()
	got := Notification("go", domain.Posting{Title: strings.Repeat("x", TitleWidth+50), URL: "u"})
	line := strings.Split(got, "\n")[2]
	if !strings.HasSuffix(line, "…") {
		t.Fatalf("title not truncated: %q", line)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 6, "hello…"},
		{"日本語テキスト", 7, "日本語…"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}

func TestJoinHSkipsBlank(t *testing.T) {
	t.Parallel()
	if got := JoinH(" ", B("a"), "", Code("<b>")); got != "<b>a</b> <code>&lt;b&gt;</code>" {
		t.Fatalf("JoinH = %q", got)
	}
}
