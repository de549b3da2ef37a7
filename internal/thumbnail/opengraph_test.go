package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeGuard はhttptestサーバーへのアクセスを許可するテスト用SSRFガード。
type fakeGuard struct {
	client      *http.Client
	validateErr error
}

func (g *fakeGuard) NewSafeClient(time.Duration) *http.Client { return g.client }
func (g *fakeGuard) ValidateURL(string) error                 { return g.validateErr }

func newPageServer(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenGraphFinder_FindImage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "og:image",
			html: `<html><head><meta property="og:image" content="https://cdn.example.com/a.png"></head></html>`,
			want: "https://cdn.example.com/a.png",
		},
		{
			name: "og:imageがtwitter:imageより優先される",
			html: `<html><head><meta name="twitter:image" content="https://cdn.example.com/t.png"><meta property="og:image" content="https://cdn.example.com/o.png"></head></html>`,
			want: "https://cdn.example.com/o.png",
		},
		{
			name: "twitter:imageのみ",
			html: `<html><head><meta name="twitter:image" content="https://cdn.example.com/t.png"></head></html>`,
			want: "https://cdn.example.com/t.png",
		},
		{
			name: "画像メタタグなし",
			html: `<html><head><title>x</title></head></html>`,
			want: "",
		},
		{
			name: "javascriptスキームは無視",
			html: `<html><head><meta property="og:image" content="javascript:alert(1)"></head></html>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newPageServer(t, "text/html; charset=utf-8", tt.html)
			var buf bytes.Buffer
			f := NewOpenGraphFinder(&fakeGuard{client: server.Client()}, time.Second, newTestLogger(&buf))

			got, err := f.FindImage(context.Background(), server.URL+"/post")
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if got != tt.want {
				t.Errorf("FindImage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenGraphFinder_ResolvesRelativeURL(t *testing.T) {
	server := newPageServer(t, "text/html",
		`<html><head><meta property="og:image" content="/static/cover.jpg"></head></html>`)

	var buf bytes.Buffer
	f := NewOpenGraphFinder(&fakeGuard{client: server.Client()}, time.Second, newTestLogger(&buf))

	got, err := f.FindImage(context.Background(), server.URL+"/articles/1")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if got != server.URL+"/static/cover.jpg" {
		t.Errorf("相対URLがページURL基準で解決されるべき: got %q", got)
	}
}

func TestOpenGraphFinder_NonHTMLIgnored(t *testing.T) {
	server := newPageServer(t, "application/pdf", `%PDF-1.4`)

	var buf bytes.Buffer
	f := NewOpenGraphFinder(&fakeGuard{client: server.Client()}, time.Second, newTestLogger(&buf))

	got, err := f.FindImage(context.Background(), server.URL+"/paper.pdf")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if got != "" {
		t.Errorf("HTML以外は空文字列を返すべき: got %q", got)
	}
}

func TestOpenGraphFinder_BlockedURL(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	var buf bytes.Buffer
	guard := &fakeGuard{client: server.Client(), validateErr: errors.New("blocked")}
	f := NewOpenGraphFinder(guard, time.Second, newTestLogger(&buf))

	_, err := f.FindImage(context.Background(), server.URL)
	if err == nil {
		t.Fatal("検証に失敗したURLはエラーになるべき")
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Errorf("エラーに検証失敗の原因が含まれるべき: %v", err)
	}
	if called {
		t.Error("検証に失敗したURLにはアクセスしてはならない")
	}
}
