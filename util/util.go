package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"html"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

func PrettyPrint(i any) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

// GeneratePemKeypair creates an actor key pair. The private key is PKCS#1,
// the public key PKIX, which is what remote servers expect in publicKeyPem.
func GeneratePemKeypair(bits int) (*RsaKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})

	return &RsaKeyPair{Private: string(keyPEM), Public: string(pubPEM)}, nil
}

var (
	markdownLink = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	bareLink     = regexp.MustCompile(`(^|\s)(https?://[^\s<]+)`)
)

// FormatContent turns user input into the HTML body of a note: escaped,
// markdown and bare links turned into anchors, wrapped in a paragraph.
func FormatContent(text string) string {
	escaped := html.EscapeString(strings.TrimSpace(text))

	linked := markdownLink.ReplaceAllStringFunc(escaped, func(match string) string {
		m := markdownLink.FindStringSubmatch(match)
		return fmt.Sprintf(`<a href="%s" rel="nofollow noopener noreferrer" target="_blank">%s</a>`, m[2], m[1])
	})
	if linked == escaped {
		linked = bareLink.ReplaceAllString(escaped, `$1<a href="$2" rel="nofollow noopener noreferrer" target="_blank">$2</a>`)
	}

	linked = strings.ReplaceAll(linked, "\n", "<br />")
	return "<p>" + linked + "</p>"
}

// StripTags removes HTML tags, used for plain-text renderings such as RSS
// titles.
func StripTags(content string) string {
	var b strings.Builder
	inTag := false
	for _, r := range content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return html.UnescapeString(b.String())
}
