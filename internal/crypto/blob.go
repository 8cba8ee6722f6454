package crypto

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// Blob is the unpacked form of an encrypted artifact.
//
// Packed layout:
//
//	uint32be(32) ‖ salt ‖ uint32be(12) ‖ nonce ‖ uint32be(16) ‖ tag ‖ ciphertext
//
// The packed bytes are stored base64 encoded without line wrapping.
type Blob struct {
	Salt       []byte
	Nonce      []byte
	Tag        []byte
	Ciphertext []byte
}

const (
	lengthFieldSize = 4

	// HeaderSize is the size of the packed blob before the ciphertext.
	HeaderSize = 3*lengthFieldSize + SaltSize + NonceSize + TagSize

	// MinBlobSize is the smallest valid packed blob (at least one ciphertext byte).
	MinBlobSize = HeaderSize + 1
)

// Pack serializes the blob into its length-prefixed binary layout.
func (b *Blob) Pack() []byte {
	out := make([]byte, 0, HeaderSize+len(b.Ciphertext))
	out = appendField(out, b.Salt)
	out = appendField(out, b.Nonce)
	out = appendField(out, b.Tag)
	out = append(out, b.Ciphertext...)
	return out
}

// Encode returns the base64 text form of the blob.
func (b *Blob) Encode() string {
	return base64.StdEncoding.EncodeToString(b.Pack())
}

func appendField(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

// ParseBlob decodes the base64 text form and unpacks it.
func ParseBlob(encoded string) (*Blob, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrInvalidCiphertext
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrInvalidCiphertext, err)
	}

	return UnpackBlob(data)
}

// UnpackBlob splits packed bytes into fields, validating every declared
// length against its fixed size. The returned slices alias data.
func UnpackBlob(data []byte) (*Blob, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidCiphertext, len(data), MinBlobSize)
	}

	offset := 0
	readField := func(name string, want int) ([]byte, error) {
		declared := binary.BigEndian.Uint32(data[offset : offset+lengthFieldSize])
		if declared != uint32(want) {
			return nil, fmt.Errorf("%w: invalid %s length %d", ErrInvalidCiphertext, name, declared)
		}
		offset += lengthFieldSize
		field := data[offset : offset+want]
		offset += want
		return field, nil
	}

	// The header size check above guarantees every fixed field fits once its
	// declared length matches.
	salt, err := readField("salt", SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := readField("IV", NonceSize)
	if err != nil {
		return nil, err
	}
	tag, err := readField("tag", TagSize)
	if err != nil {
		return nil, err
	}

	ciphertext := data[offset:]
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrInvalidCiphertext)
	}

	return &Blob{
		Salt:       salt,
		Nonce:      nonce,
		Tag:        tag,
		Ciphertext: ciphertext,
	}, nil
}
