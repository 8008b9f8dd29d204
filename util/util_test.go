package util

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	if version == "" {
		t.Error("Version should not be empty")
	}
	if strings.ContainsAny(version, "\n ") {
		t.Errorf("Version should be trimmed, got '%s'", version)
	}
}

func TestGetNameAndVersion(t *testing.T) {
	result := GetNameAndVersion()
	if !strings.HasPrefix(result, Name+" / ") {
		t.Errorf("Expected '%s / <version>', got '%s'", Name, result)
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keypair, err := GeneratePemKeypair(1024)
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}

	privBlock, _ := pem.Decode([]byte(keypair.Private))
	if privBlock == nil || privBlock.Type != "RSA PRIVATE KEY" {
		t.Fatal("Private key should be a PKCS#1 PEM block")
	}
	if _, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes); err != nil {
		t.Errorf("Private key did not parse: %v", err)
	}

	pubBlock, _ := pem.Decode([]byte(keypair.Public))
	if pubBlock == nil || pubBlock.Type != "PUBLIC KEY" {
		t.Fatal("Public key should be a PKIX PEM block")
	}
	if _, err := x509.ParsePKIXPublicKey(pubBlock.Bytes); err != nil {
		t.Errorf("Public key did not parse: %v", err)
	}
}

func TestGeneratePemKeypairUniqueness(t *testing.T) {
	a, err := GeneratePemKeypair(1024)
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}
	b, err := GeneratePemKeypair(1024)
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}
	if a.Private == b.Private {
		t.Error("Generated keypairs should differ")
	}
}

func TestFormatContent(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Hello", "<p>Hello</p>"},
		{"trimmed", "  Hello  ", "<p>Hello</p>"},
		{"escaped", "<b>x</b>", "<p>&lt;b&gt;x&lt;/b&gt;</p>"},
		{"newline", "a\nb", "<p>a<br />b</p>"},
		{
			"bare link",
			"see https://example.com",
			`<p>see <a href="https://example.com" rel="nofollow noopener noreferrer" target="_blank">https://example.com</a></p>`,
		},
		{
			"markdown link",
			"[docs](https://example.com/docs)",
			`<p><a href="https://example.com/docs" rel="nofollow noopener noreferrer" target="_blank">docs</a></p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatContent(tt.input); got != tt.want {
				t.Errorf("FormatContent(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStripTags(t *testing.T) {
	got := StripTags(`<p>Hello <a href="x">world</a> &amp; friends</p>`)
	if got != "Hello world & friends" {
		t.Errorf("Unexpected plain text '%s'", got)
	}
}

func TestPrettyPrint(t *testing.T) {
	out := PrettyPrint(map[string]string{"domain": "example.com"})
	if !strings.Contains(out, `"domain": "example.com"`) {
		t.Errorf("Unexpected output %s", out)
	}
}
