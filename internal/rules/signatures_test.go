package rules

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSignaturePackMatches(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signatures.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: passwd
    contains: ["/ETC/PASSWD"]
  - id: ssh-bruteforce
    regex: 'Failed password for (invalid user )?\w+'
  - id: empty
`), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	pack, err := LoadSignaturePack(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("load signature pack: %v", err)
	}
	if pack.Len() != 2 {
		t.Fatalf("expected 2 usable rules, got %d", pack.Len())
	}
	if got := pack.Match(`GET /etc/passwd HTTP/1.1`); got != "passwd" {
		t.Fatalf("expected passwd rule, got %q", got)
	}
	if !pack.Confirms(context.Background(), "sshd: Failed password for invalid user admin") {
		t.Fatalf("expected regex rule to confirm")
	}
	if pack.Confirms(context.Background(), "disk error on sda") {
		t.Fatalf("expected no match")
	}
}

func TestSignaturePackNoFile(t *testing.T) {
	pack, err := LoadSignaturePack("non-existent", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pack != nil {
		t.Fatalf("expected nil pack")
	}
	if pack.Len() != 0 {
		t.Fatalf("nil pack should report zero rules")
	}
}

func TestSignaturePackBadRegex(t *testing.T) {
	if _, err := NewSignaturePack([]Signature{{ID: "bad", Regex: "("}}, nil); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestResolveUsesSignaturePack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signatures.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - id: nmap\n    contains: [nmap]\n"), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	engine, err := Resolve(Settings{SignaturePath: path}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if engine.Name() != "signatures" || !engine.Enabled() {
		t.Fatalf("expected enabled signature pack, got %s", engine.Name())
	}
}

func TestBundledSignaturePack(t *testing.T) {
	pack, err := LoadSignaturePack(filepath.Join("..", "..", "configs", "rules", "signatures.yaml"), slog.Default())
	if err != nil {
		t.Fatalf("load bundled pack: %v", err)
	}
	if pack.Len() != 5 {
		t.Fatalf("expected 5 bundled rules, got %d", pack.Len())
	}
	cases := map[string]string{
		`GET /item?id=1' OR 1=1-- HTTP/1.1`:         "sqli-union",
		`GET /../../etc/passwd HTTP/1.1`:            "path-traversal",
		`"GET / HTTP/1.1" 200 "sqlmap/1.7"`:         "scanner-agent",
		`sshd[42]: Failed password for root from x`: "auth-bruteforce",
		`GET /index.html HTTP/1.1 200`:              "",
	}
	for line, want := range cases {
		if got := pack.Match(line); got != want {
			t.Fatalf("Match(%q) = %q, want %q", line, got, want)
		}
	}
}
