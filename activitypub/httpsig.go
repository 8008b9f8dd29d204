package activitypub

import (
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"github.com/go-fed/httpsig"
)

var ErrInvalidSignature = errors.New("invalid signature")

var (
	postHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}
	getHeaders  = []string{httpsig.RequestTarget, "host", "date"}

	keyIdPattern = regexp.MustCompile(`keyId="([^"]+)"`)
)

// Sign returns the headers to attach to a request from actor to target.
// The Digest header is only produced when body is not nil.
func Sign(actor *domain.Actor, method, target string, body []byte) (http.Header, error) {
	privateKey, err := ParsePrivateKey(actor.PrivateKey)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %s: %w", target, err)
	}

	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Host", u.Host)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	if body != nil {
		req.Header.Set("Content-Type", ContentTypeActivity)
	}

	headers := getHeaders
	if body != nil {
		headers = postHeaders
	}
	signer, _, err := httpsig.NewSigner([]httpsig.Algorithm{httpsig.RSA_SHA256}, httpsig.DigestSha256, headers, httpsig.Signature, 0)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	if err := signer.SignRequest(privateKey, actor.KeyId(), req, body); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return req.Header, nil
}

// Verify reports whether headers carry a valid signature by publicKeyPem
// over method and path, and whether a present Digest matches body. An empty
// key never verifies.
func Verify(method, path string, headers http.Header, body []byte, publicKeyPem string) bool {
	return VerifyRequest(method, path, headers, body, publicKeyPem) == nil
}

func VerifyRequest(method, path string, headers http.Header, body []byte, publicKeyPem string) error {
	if publicKeyPem == "" {
		return fmt.Errorf("%w: no public key", ErrInvalidSignature)
	}
	publicKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if len(body) > 0 || headers.Get("Digest") != "" {
		if !digestMatches(headers.Get("Digest"), body) {
			return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
		}
	}

	u, err := url.ParseRequestURI(path)
	if err != nil {
		return fmt.Errorf("%w: bad path %q", ErrInvalidSignature, path)
	}
	req := &http.Request{
		Method: method,
		URL:    u,
		Header: headers.Clone(),
		Host:   headers.Get("Host"),
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if err := verifier.Verify(publicKey, httpsig.RSA_SHA256); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func digestMatches(header string, body []byte) bool {
	sum := sha256.Sum256(body)
	expected := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	return header == expected
}

// SignatureKeyId extracts keyId from the Signature (or Authorization)
// header without verifying anything.
func SignatureKeyId(headers http.Header) string {
	value := headers.Get("Signature")
	if value == "" {
		value = headers.Get("Authorization")
	}
	match := keyIdPattern.FindStringSubmatch(value)
	if match == nil {
		return ""
	}
	return match[1]
}

// ParsePrivateKey accepts PKCS#1 and PKCS#8 PEM.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey accepts PKIX and PKCS#1 PEM.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(bytes.TrimSpace([]byte(pemString)))
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
