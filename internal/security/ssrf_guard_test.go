package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient_SetsTimeoutAndTransport(t *testing.T) {
	guard := NewSSRFGuard()
	client := guard.NewSafeClient(5 * time.Second)

	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom safeurl transport")
	}
}

// httptestサーバーは127.0.0.1の非標準ポートで起動されるため、safeurlに拒否される。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)
	resp, err := client.Get(ts.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("loopbackへのリクエストはブロックされるべき")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://example.com/article", false},
		{"public http with path", "http://news.ycombinator.com/item?id=1", false},
		{"public IP", "https://93.184.216.34/", false},
		{"empty", "", true},
		{"ftp scheme", "ftp://example.com/file", true},
		{"javascript scheme", "javascript:alert(1)", true},
		{"no host", "https:///path", true},
		{"private 10/8", "http://10.0.0.1/", true},
		{"private 172.16/12", "http://172.16.5.4/", true},
		{"private 192.168/16", "http://192.168.1.1/", true},
		{"loopback", "http://127.0.0.1:8080/", true},
		{"metadata", "http://169.254.169.254/latest/meta-data/", true},
		{"carrier grade nat", "http://100.64.0.1/", true},
		{"zero network", "http://0.0.0.0/", true},
		{"ipv6 loopback", "http://[::1]/", true},
		{"ipv6 link local", "http://[fe80::1]/", true},
		{"ipv4 mapped loopback", "http://[::ffff:127.0.0.1]/", true},
		{"localhost", "http://localhost/", true},
		{"localhost uppercase", "http://LOCALHOST:3000/", true},
		{"mdns", "http://printer.local/", true},
		{"internal", "http://metadata.google.internal/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
