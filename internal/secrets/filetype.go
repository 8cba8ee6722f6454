package secrets

import (
	"bytes"
	"path/filepath"
	"strings"
)

// sniffLength bounds how much of a file the type check looks at.
const sniffLength = 200

// FileKind is the expected format inferred from a file extension.
type FileKind string

const (
	KindUnknown         FileKind = "unknown"
	KindCertificate     FileKind = "certificate"
	KindPKCS12          FileKind = "pkcs12"
	KindMobileProvision FileKind = "mobileprovision"
	KindJSON            FileKind = "json"
)

var kindByExtension = map[string]FileKind{
	".cer":              KindCertificate,
	".crt":              KindCertificate,
	".pem":              KindCertificate,
	".der":              KindCertificate,
	".p12":              KindPKCS12,
	".pfx":              KindPKCS12,
	".mobileprovision":  KindMobileProvision,
	".provisionprofile": KindMobileProvision,
	".json":             KindJSON,
}

// TypeCheck is the outcome of CheckFileType.
type TypeCheck struct {
	Kind      FileKind `json:"kind"`
	Plausible bool     `json:"plausible"`
	Reason    string   `json:"reason,omitempty"`
}

// CheckFileType sniffs content against the format its extension promises.
// It is a sanity check for status reports, not a parser: a file can pass
// and still be broken. Unknown extensions always pass.
func CheckFileType(name string, content []byte) TypeCheck {
	kind, ok := kindByExtension[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return TypeCheck{Kind: KindUnknown, Plausible: true}
	}

	head := content
	if len(head) > sniffLength {
		head = head[:sniffLength]
	}

	if len(bytes.TrimSpace(head)) == 0 {
		return TypeCheck{Kind: kind, Reason: "file is empty"}
	}

	switch kind {
	case KindCertificate:
		if bytes.Contains(head, []byte("-----BEGIN")) || isDERSequence(head) {
			return TypeCheck{Kind: kind, Plausible: true}
		}
		return TypeCheck{Kind: kind, Reason: "no PEM marker or DER sequence"}

	case KindPKCS12:
		if isDERSequence(head) {
			return TypeCheck{Kind: kind, Plausible: true}
		}
		return TypeCheck{Kind: kind, Reason: "no DER sequence"}

	case KindMobileProvision:
		if bytes.Contains(head, []byte("<?xml")) ||
			bytes.Contains(head, []byte("<plist")) ||
			bytes.HasPrefix(head, []byte("bplist")) {
			return TypeCheck{Kind: kind, Plausible: true}
		}
		return TypeCheck{Kind: kind, Reason: "no plist marker"}

	case KindJSON:
		if looksLikeJSON(head, content) {
			return TypeCheck{Kind: kind, Plausible: true}
		}
		return TypeCheck{Kind: kind, Reason: "no matching JSON braces"}
	}

	return TypeCheck{Kind: kind, Plausible: true}
}

// isDERSequence reports whether data opens with an ASN.1 SEQUENCE tag.
func isDERSequence(data []byte) bool {
	return len(data) > 0 && data[0] == 0x30
}

func looksLikeJSON(head, content []byte) bool {
	opening := bytes.TrimLeft(head, " \t\r\n")
	closing := bytes.TrimRight(content, " \t\r\n")
	if len(opening) == 0 || len(closing) == 0 {
		return false
	}

	last := closing[len(closing)-1]
	switch opening[0] {
	case '{':
		return last == '}'
	case '[':
		return last == ']'
	}
	return false
}
