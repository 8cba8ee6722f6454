package testdata

import (
	"encoding/base64"
	"encoding/binary"
)

// MalformedVector is an encoded blob that must fail structural checks.
type MalformedVector struct {
	Name    string
	Encoded string
	// Contains is a substring expected in the resulting error message.
	Contains string
}

// packFields builds a blob with arbitrary declared lengths.
func packFields(saltLen, ivLen, tagLen uint32, salt, iv, tag, ciphertext []byte) string {
	var out []byte
	out = binary.BigEndian.AppendUint32(out, saltLen)
	out = append(out, salt...)
	out = binary.BigEndian.AppendUint32(out, ivLen)
	out = append(out, iv...)
	out = binary.BigEndian.AppendUint32(out, tagLen)
	out = append(out, tag...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out)
}

func filled(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// Malformed contains blobs rejected before any key derivation.
var Malformed = []MalformedVector{
	{
		Name:     "empty",
		Encoded:  "",
		Contains: "invalid ciphertext format",
	},
	{
		Name:     "not base64",
		Encoded:  "not*base64!",
		Contains: "invalid base64",
	},
	{
		Name:     "too short",
		Encoded:  base64.StdEncoding.EncodeToString(filled(40, 1)),
		Contains: "need at least",
	},
	{
		Name:     "salt length 31",
		Encoded:  packFields(31, 12, 16, filled(32, 1), filled(12, 2), filled(16, 3), []byte("x")),
		Contains: "invalid salt length 31",
	},
	{
		Name:     "IV length 16",
		Encoded:  packFields(32, 16, 16, filled(32, 1), filled(12, 2), filled(16, 3), []byte("x")),
		Contains: "invalid IV length 16",
	},
	{
		Name:     "tag length 12",
		Encoded:  packFields(32, 12, 12, filled(32, 1), filled(12, 2), filled(16, 3), []byte("x")),
		Contains: "invalid tag length 12",
	},
	{
		Name:     "empty ciphertext",
		Encoded:  packFields(32, 12, 16, filled(32, 1), filled(12, 2), filled(16, 3), nil),
		Contains: "empty ciphertext",
	},
}
