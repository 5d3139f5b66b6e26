// Package promise provides the path-based operation identifiers used by the
// journal and replay core.
//
// Every operation a guest performs is named by an ID: a 256-bit root digest
// identifying the execution plus a Dewey path recording the operation's
// position in the call tree. Identical guest code executed under identical
// input derives identical IDs, which is what makes the replay cache keyable
// without any coordination.
package promise

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxDepth bounds the length of an ID's Dewey path. Child derivation
	// beyond this depth fails with ErrDepthExceeded.
	MaxDepth = 64

	// DigestLen is the byte length of a root digest.
	DigestLen = 32
)

var (
	// ErrDepthExceeded indicates a Child derivation would exceed MaxDepth.
	ErrDepthExceeded = errors.New("promise: path depth exceeds maximum")

	// ErrMalformed indicates bytes or text that do not parse as a canonical ID.
	ErrMalformed = errors.New("promise: malformed identifier")
)

type (
	// Digest is a 256-bit content digest. Component digests pin a journal to
	// the exact guest binary that produced it.
	Digest [DigestLen]byte

	// ID identifies a single operation by its position in the call tree of an
	// execution. The zero value is the zero-root execution ID; callers obtain
	// real IDs from RootFor and Child.
	ID struct {
		root Digest
		path []uint32
	}

	// ExecutionID is an ID with an empty path: the root of an execution's call
	// tree. The distinct type keeps execution handles out of APIs that expect
	// operation IDs.
	ExecutionID struct {
		root Digest
	}

	// JoinSetID wraps the ID of a join set. The wrapper keeps join-set handles
	// from being awaited, submitted, or completed as if they were ordinary
	// promises.
	JoinSetID struct {
		id ID
	}
)

// DigestOf returns the SHA-256 digest of data.
func DigestOf(data []byte) Digest {
	return sha256.Sum256(data)
}

// ParseDigest decodes a 64-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != DigestLen {
		return d, fmt.Errorf("%w: digest %q", ErrMalformed, s)
	}
	copy(d[:], b)
	return d, nil
}

// String returns the lowercase hex form of the digest.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// RootFor derives the execution root for a component invocation. The root is
// the SHA-256 of the component digest, the parent execution root (when the
// execution is a child of another), and the idempotency key (when the caller
// supplied one). Each optional input is preceded by a presence byte so that an
// absent parent and a zero-valued parent hash differently; an empty
// idempotency key counts as absent.
func RootFor(component Digest, parent *ExecutionID, idempotencyKey string) ExecutionID {
	h := sha256.New()
	h.Write(component[:])
	if parent != nil {
		h.Write([]byte{1})
		h.Write(parent.root[:])
	} else {
		h.Write([]byte{0})
	}
	if idempotencyKey != "" {
		h.Write([]byte{1})
		h.Write([]byte(idempotencyKey))
	} else {
		h.Write([]byte{0})
	}
	var root Digest
	h.Sum(root[:0])
	return ExecutionID{root: root}
}

// ID returns the execution root as an operation ID with an empty path.
func (e ExecutionID) ID() ID {
	return ID{root: e.root}
}

// Root returns the execution's root digest.
func (e ExecutionID) Root() Digest { return e.root }

// String returns the hex form of the root digest.
func (e ExecutionID) String() string { return e.root.String() }

// Equal reports whether two execution IDs share the same root.
func (e ExecutionID) Equal(o ExecutionID) bool { return e.root == o.root }

// IsZero reports whether the execution ID is the zero value.
func (e ExecutionID) IsZero() bool { return e.root == Digest{} }

// MarshalText implements encoding.TextMarshaler.
func (e ExecutionID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *ExecutionID) UnmarshalText(text []byte) error {
	d, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	e.root = d
	return nil
}

// ParseExecutionID decodes the hex form produced by ExecutionID.String.
func ParseExecutionID(s string) (ExecutionID, error) {
	d, err := ParseDigest(s)
	if err != nil {
		return ExecutionID{}, err
	}
	return ExecutionID{root: d}, nil
}

// NewJoinSetID wraps an operation ID as a join-set handle.
func NewJoinSetID(id ID) JoinSetID { return JoinSetID{id: id} }

// ID returns the underlying operation ID of the join set.
func (j JoinSetID) ID() ID { return j.id }

// String returns the canonical text form of the underlying ID.
func (j JoinSetID) String() string { return j.id.String() }

// Equal reports whether two join-set handles name the same join set.
func (j JoinSetID) Equal(o JoinSetID) bool { return j.id.Equal(o.id) }

// MarshalText implements encoding.TextMarshaler.
func (j JoinSetID) MarshalText() ([]byte, error) { return j.id.MarshalText() }

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *JoinSetID) UnmarshalText(text []byte) error {
	return j.id.UnmarshalText(text)
}

// Root returns the root digest of the execution this ID belongs to.
func (id ID) Root() Digest { return id.root }

// Path returns a copy of the Dewey path.
func (id ID) Path() []uint32 {
	return append([]uint32(nil), id.path...)
}

// Depth returns the length of the Dewey path.
func (id ID) Depth() int { return len(id.path) }

// Child derives the seq-th child of id. It fails with ErrDepthExceeded when
// the resulting path would be deeper than MaxDepth.
func (id ID) Child(seq uint32) (ID, error) {
	if len(id.path) >= MaxDepth {
		return ID{}, ErrDepthExceeded
	}
	path := make([]uint32, len(id.path)+1)
	copy(path, id.path)
	path[len(id.path)] = seq
	return ID{root: id.root, path: path}, nil
}

// Parent returns the ID with the last path index dropped. The second return
// is false when id is an execution root and has no parent.
func (id ID) Parent() (ID, bool) {
	if len(id.path) == 0 {
		return ID{}, false
	}
	return ID{root: id.root, path: append([]uint32(nil), id.path[:len(id.path)-1]...)}, true
}

// ExecutionRoot returns the execution this ID belongs to.
func (id ID) ExecutionRoot() ExecutionID {
	return ExecutionID{root: id.root}
}

// Equal reports whether two IDs name the same operation.
func (id ID) Equal(o ID) bool {
	if id.root != o.root || len(id.path) != len(o.path) {
		return false
	}
	for i, v := range id.path {
		if o.path[i] != v {
			return false
		}
	}
	return true
}

// Compare orders IDs first by root digest, then by lexicographic path. It
// returns -1, 0 or 1.
func (id ID) Compare(o ID) int {
	if c := bytes.Compare(id.root[:], o.root[:]); c != 0 {
		return c
	}
	n := len(id.path)
	if len(o.path) < n {
		n = len(o.path)
	}
	for i := 0; i < n; i++ {
		switch {
		case id.path[i] < o.path[i]:
			return -1
		case id.path[i] > o.path[i]:
			return 1
		}
	}
	switch {
	case len(id.path) < len(o.path):
		return -1
	case len(id.path) > len(o.path):
		return 1
	}
	return 0
}

// Less reports whether id orders before o.
func (id ID) Less(o ID) bool { return id.Compare(o) < 0 }

// String returns the canonical text form: the hex root followed by the path
// indices joined by dots (e.g. "ab12…ef.0.1.3").
func (id ID) String() string {
	var b strings.Builder
	b.Grow(2*DigestLen + 11*len(id.path))
	b.WriteString(hex.EncodeToString(id.root[:]))
	for _, seg := range id.path {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(seg), 10))
	}
	return b.String()
}

// Parse decodes the text form produced by String.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts[0]) != 2*DigestLen {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	if len(parts)-1 > MaxDepth {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, ErrDepthExceeded)
	}
	root, err := ParseDigest(parts[0])
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	var path []uint32
	if len(parts) > 1 {
		path = make([]uint32, len(parts)-1)
		for i, seg := range parts[1:] {
			v, err := strconv.ParseUint(seg, 10, 32)
			if err != nil {
				return ID{}, fmt.Errorf("%w: path segment %q", ErrMalformed, seg)
			}
			path[i] = uint32(v)
		}
	}
	return ID{root: root, path: path}, nil
}

// MarshalBinary returns the canonical binary form: the 32-byte root, a
// big-endian uint32 path length, then each path index as a big-endian uint32.
func (id ID) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DigestLen+4+4*len(id.path))
	copy(buf, id.root[:])
	binary.BigEndian.PutUint32(buf[DigestLen:], uint32(len(id.path)))
	for i, seg := range id.path {
		binary.BigEndian.PutUint32(buf[DigestLen+4+4*i:], seg)
	}
	return buf, nil
}

// UnmarshalBinary decodes the canonical binary form. Trailing bytes are
// rejected so that round-trips are byte-exact.
func (id *ID) UnmarshalBinary(data []byte) error {
	if len(data) < DigestLen+4 {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	n := binary.BigEndian.Uint32(data[DigestLen:])
	if n > MaxDepth {
		return fmt.Errorf("%w: %v", ErrMalformed, ErrDepthExceeded)
	}
	if len(data) != DigestLen+4+4*int(n) {
		return fmt.Errorf("%w: %d bytes for depth %d", ErrMalformed, len(data), n)
	}
	copy(id.root[:], data[:DigestLen])
	id.path = nil
	if n > 0 {
		id.path = make([]uint32, n)
		for i := range id.path {
			id.path[i] = binary.BigEndian.Uint32(data[DigestLen+4+4*i:])
		}
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler using the canonical text form.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
