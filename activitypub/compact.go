package activitypub

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/deemkeen/pubengine/domain"
	"golang.org/x/text/unicode/norm"
)

const (
	ActivityStreamsContext = "https://www.w3.org/ns/activitystreams"
	SecurityContext        = "https://w3id.org/security/v1"

	asNamespace  = "https://www.w3.org/ns/activitystreams#"
	secNamespace = "https://w3id.org/security#"
)

var vocabulary = toSet(
	"id", "type", "actor", "object", "target", "to", "cc", "bto", "bcc", "audience", "tag",
	"attributedTo", "content", "contentMap", "summary", "name", "url", "published", "updated",
	"inReplyTo", "conversation", "sensitive", "attachment", "mediaType", "href", "width", "height",
	"oneOf", "anyOf", "endTime", "replies", "totalItems", "first", "inbox", "outbox", "followers",
	"following", "preferredUsername", "publicKey", "publicKeyPem", "owner", "endpoints", "sharedInbox",
	"icon", "image", "formerType", "deleted", "items", "orderedItems", "next", "partOf",
	"manuallyApprovesFollowers", "discoverable",
)

// terms whose single element lists are written as a scalar
var collapsed = toSet("to", "cc", "tag", "bto", "bcc", "audience")

var addressing = toSet("to", "cc", "bto", "bcc", "audience")

func toSet(items ...string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// Document is a compacted ActivityStreams object. Every value is one of
// string, bool, float64, Document, []any or map[string]string (contentMap).
type Document map[string]any

// Compact maps raw onto the fixed vocabulary. It never fails: whatever
// cannot be mapped is dropped.
func Compact(raw map[string]any) Document {
	doc := compactObject(raw)
	doc["@context"] = []any{ActivityStreamsContext, SecurityContext}
	return doc
}

func termFor(key string) (string, bool) {
	switch {
	case key == "@id":
		return "id", true
	case key == "@type":
		return "type", true
	case strings.HasPrefix(key, "as:"):
		key = key[len("as:"):]
	case strings.HasPrefix(key, "sec:"):
		key = key[len("sec:"):]
	case strings.HasPrefix(key, asNamespace):
		key = key[len(asNamespace):]
	case strings.HasPrefix(key, secNamespace):
		key = key[len(secNamespace):]
	}
	return key, vocabulary[key]
}

func compactObject(raw map[string]any) Document {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	doc := Document{}
	exact := map[string]bool{}
	for _, key := range keys {
		term, ok := termFor(key)
		if !ok {
			continue
		}
		value := compactValue(term, raw[key])
		if value == nil {
			continue
		}
		// the plain term beats any alias of it
		if _, taken := doc[term]; taken && (exact[term] || key != term) {
			continue
		}
		doc[term] = value
		exact[term] = key == term
	}
	return doc
}

func compactValue(term string, value any) any {
	if term == "contentMap" {
		return compactContentMap(value)
	}

	switch v := value.(type) {
	case string:
		return compactString(term, v)
	case bool, float64, json.Number, int, int64:
		return v
	case map[string]any:
		if inner, ok := v["@value"]; ok {
			return compactValue(term, inner)
		}
		obj := compactObject(v)
		if len(obj) == 0 {
			return nil
		}
		if id, ok := obj["id"].(string); ok && len(obj) == 1 {
			return id
		}
		return obj
	case Document:
		return compactValue(term, map[string]any(v))
	case []any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			if c := compactValue(term, item); c != nil {
				items = append(items, c)
			}
		}
		switch {
		case len(items) == 0:
			return nil
		case len(items) == 1 && collapsed[term]:
			return items[0]
		}
		return items
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return compactValue(term, items)
	}
	return nil
}

func compactString(term, s string) any {
	if s == "" {
		return nil
	}
	s = norm.NFC.String(s)
	if addressing[term] && (s == "as:Public" || s == "Public") {
		return domain.ActivityStreamsPublic
	}
	if term == "type" || term == "formerType" {
		if short, ok := strings.CutPrefix(s, "as:"); ok {
			return short
		}
		if short, ok := strings.CutPrefix(s, asNamespace); ok {
			return short
		}
	}
	return s
}

func compactContentMap(value any) any {
	raw, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	out := map[string]string{}
	for lang, content := range raw {
		if s, ok := content.(string); ok && s != "" {
			out[lang] = norm.NFC.String(s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Canonical is the byte form used for comparison and storage. Keys are
// sorted, HTML is not escaped.
func (d Document) Canonical() []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]any(d))
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

func (d Document) Type() string {
	return d.String("type")
}

// String returns a scalar string value.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Id returns key as an IRI, whether it is a plain string or an embedded
// object carrying an id.
func (d Document) Id(key string) string {
	return idOf(d[key])
}

func idOf(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case Document:
		if id := v.String("id"); id != "" {
			return id
		}
		return v.String("href")
	case []any:
		if len(v) > 0 {
			return idOf(v[0])
		}
	}
	return ""
}

// Strings returns key as a list of IRIs whatever its shape.
func (d Document) Strings(key string) []string {
	switch v := d[key].(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if id := idOf(item); id != "" {
				out = append(out, id)
			}
		}
		return out
	default:
		if id := idOf(v); id != "" {
			return []string{id}
		}
	}
	return nil
}

func (d Document) Object(key string) (Document, bool) {
	switch v := d[key].(type) {
	case Document:
		return v, true
	case []any:
		if len(v) > 0 {
			obj, ok := v[0].(Document)
			return obj, ok
		}
	}
	return nil, false
}

func (d Document) Objects(key string) []Document {
	switch v := d[key].(type) {
	case Document:
		return []Document{v}
	case []any:
		out := make([]Document, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(Document); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

func (d Document) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

func (d Document) Int(key string) int {
	switch v := d[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func (d Document) Time(key string) time.Time {
	t, err := time.Parse(time.RFC3339, d.String(key))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ContentMap returns the contentMap entries, if any.
func (d Document) ContentMap() map[string]string {
	m, _ := d["contentMap"].(map[string]string)
	return m
}

// DecodeDocument parses body and compacts it.
func DecodeDocument(body []byte) (Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrMalformedActivity
	}
	return Compact(raw), nil
}
