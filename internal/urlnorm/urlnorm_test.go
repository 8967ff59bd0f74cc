package urlnorm

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"lowercases scheme and host", "HTTP://Example.COM/Path", "http://example.com/Path", true},
		{"drops fragment", "https://example.com/page#section", "https://example.com/page", true},
		{"strips tracking params", "https://example.com/?utm_source=x&q=go&fbclid=y", "https://example.com/?q=go", true},
		{"keeps blank values", "https://example.com/?q=&page=2", "https://example.com/?q=&page=2", true},
		{"keeps port", "https://example.com:8443/a", "https://example.com:8443/a", true},
		{"rejects ftp", "ftp://example.com/file", "", false},
		{"rejects relative", "/just/a/path", "", false},
		{"rejects empty", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.in)
			if ok != tc.ok || got != tc.want {
				t.Errorf("Normalize(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestNormalizeRejectsOverlongURL(t *testing.T) {
	long := "https://example.com/" + strings.Repeat("a", MaxURLLength)
	if _, ok := Normalize(long); ok {
		t.Error("expected overlong URL to be rejected")
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		base string
		link string
		want string
		ok   bool
	}{
		{"relative path", "https://example.com/dir/page", "../other", "https://example.com/other", true},
		{"absolute link ignores base", "https://example.com/", "https://other.org/x", "https://other.org/x", true},
		{"protocol-relative", "https://example.com/", "//cdn.example.com/app.js", "https://cdn.example.com/app.js", true},
		{"empty link", "https://example.com/", "", "", false},
		{"javascript link", "https://example.com/", "javascript:void(0)", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Resolve(tc.base, tc.link)
			if ok != tc.ok || got != tc.want {
				t.Errorf("Resolve(%q, %q) = (%q, %v), want (%q, %v)", tc.base, tc.link, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestDocID(t *testing.T) {
	id := DocID("https://example.com/")
	if len(id) != 16 {
		t.Fatalf("DocID length = %d, want 16", len(id))
	}
	if id != DocID("https://example.com/") {
		t.Error("DocID is not deterministic")
	}
	if id == DocID("https://example.com/other") {
		t.Error("distinct URLs produced the same DocID")
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("https://Blog.Example.com:8080/post"); got != "blog.example.com" {
		t.Errorf("Domain = %q, want %q", got, "blog.example.com")
	}
}
