package security

import "testing"

func TestCheckURL_BlockedSchemes(t *testing.T) {
	g := NewGuard(Opts{})
	for _, raw := range []string{
		"file:///etc/passwd",
		"ftp://example.com/data",
		"gopher://example.com",
		"redis://example.com:6379",
	} {
		if err := g.CheckURL(raw); err == nil {
			t.Errorf("Expected %q to be rejected", raw)
		}
	}
}

func TestCheckURL_BlockedHosts(t *testing.T) {
	g := NewGuard(Opts{})
	for _, raw := range []string{
		"http://localhost/admin",
		"http://127.0.0.1:8080/",
		"http://[::1]/",
		"http://0.0.0.0/",
		"http://10.0.0.5/internal",
		"http://192.168.1.1/router",
		"http://169.254.169.254/latest/meta-data/",
	} {
		if err := g.CheckURL(raw); err == nil {
			t.Errorf("Expected %q to be rejected", raw)
		}
	}
}

func TestCheckURL_AllowLocal(t *testing.T) {
	g := NewGuard(Opts{AllowLocal: true})
	for _, raw := range []string{
		"http://127.0.0.1:8080/hook",
		"http://localhost:3000/",
		"http://10.0.0.5/service",
	} {
		if err := g.CheckURL(raw); err != nil {
			t.Errorf("Expected %q to pass with AllowLocal, got %v", raw, err)
		}
	}
}

func TestCheckURL_PathPatterns(t *testing.T) {
	g := NewGuard(Opts{AllowLocal: true})
	for _, raw := range []string{
		"http://127.0.0.1/api/../../etc/passwd",
		"http://127.0.0.1/%2e%2e%2fsecret",
		"http://127.0.0.1/ok?file=../../etc/shadow",
		"http://127.0.0.1/proc/self/environ",
	} {
		if err := g.CheckURL(raw); err == nil {
			t.Errorf("Expected %q to be rejected", raw)
		}
	}
}

func TestCheckURL_CleanURLPasses(t *testing.T) {
	g := NewGuard(Opts{AllowLocal: true})
	for _, raw := range []string{
		"http://127.0.0.1:9000/api/v1/items?page=2",
		"https://127.0.0.1/webhooks/deploy",
	} {
		if err := g.CheckURL(raw); err != nil {
			t.Errorf("Expected %q to pass, got %v", raw, err)
		}
	}
}

func TestCheckURL_MalformedURL(t *testing.T) {
	g := NewGuard(Opts{})
	if err := g.CheckURL("http://"); err == nil {
		t.Error("Expected empty host to be rejected")
	}
	if err := g.CheckURL("not a url"); err == nil {
		t.Error("Expected schemeless input to be rejected")
	}
}
