// Package agora builds and parses Agora AccessToken2 tokens offline.
//
// A token is the version prefix "007" followed by base64 of the zlib
// compressed sequence:
//
//	signature  (uint16 length + bytes)
//	app id     (uint16 length + bytes)
//	issue ts   uint32
//	expire     uint32, seconds after issue ts
//	salt       uint32
//	services   uint16 count, then each service packed in order
//
// All integers are little endian. The signature is HMAC-SHA256 over
// everything after it, keyed by HMAC(salt, HMAC(issueTs, certificate)).
package agora

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"github.com/klauspost/compress/zlib"
)

// Version is the prefix of every AccessToken2 token.
const Version = "007"

// maxTokenBytes caps decompressed token size when parsing.
const maxTokenBytes = 64 * 1024

// maxSalt bounds the random salt, matching the reference builders.
const maxSalt = 99999999

// AccessToken is an AccessToken2 under construction or parsed from a
// string.
type AccessToken struct {
	AppID          string
	AppCertificate string

	// IssueTs is the unix time the token was issued.
	IssueTs uint32

	// Expire is the token lifetime in seconds after IssueTs.
	Expire uint32
	Salt   uint32

	Services []Service

	// Signature and signed are populated by Parse.
	Signature []byte
	signed    []byte
}

// NewAccessToken starts a token valid for expire seconds from now.
func NewAccessToken(appID, appCertificate string, expire uint32) *AccessToken {
	return &AccessToken{
		AppID:          appID,
		AppCertificate: appCertificate,
		IssueTs:        uint32(time.Now().Unix()),
		Expire:         expire,
		Salt:           rand.Uint32N(maxSalt) + 1,
	}
}

// AddService attaches a grant. Services are packed in the order they are
// added; adding a second service of the same type replaces the first in
// place.
func (t *AccessToken) AddService(s Service) {
	for i, existing := range t.Services {
		if existing.Type() == s.Type() {
			t.Services[i] = s
			return
		}
	}

	t.Services = append(t.Services, s)
}

// Service returns the attached service of the given type, or nil.
func (t *AccessToken) Service(typ uint16) Service {
	for _, s := range t.Services {
		if s.Type() == typ {
			return s
		}
	}

	return nil
}

// IssuedAt returns the issue time.
func (t *AccessToken) IssuedAt() time.Time {
	return time.Unix(int64(t.IssueTs), 0)
}

// ExpiresAt returns the absolute expiry of the token.
func (t *AccessToken) ExpiresAt() time.Time {
	return time.Unix(int64(t.IssueTs)+int64(t.Expire), 0)
}

// Build validates, packs, signs and encodes the token.
func (t *AccessToken) Build() (string, error) {
	if err := validateCredentials(t.AppID, t.AppCertificate); err != nil {
		return "", err
	}

	if err := t.validatePrivileges(); err != nil {
		return "", err
	}

	data, err := t.packContent()
	if err != nil {
		return "", err
	}

	var w writer
	w.bytes(sign(signingKey(t.AppCertificate, t.IssueTs, t.Salt), data))
	w.buf.Write(data)

	if w.err != nil {
		return "", w.err
	}

	compressed, err := compress(w.buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("compressing token: %w", err)
	}

	return Version + base64.StdEncoding.EncodeToString(compressed), nil
}

func (t *AccessToken) packContent() ([]byte, error) {
	var w writer
	w.string(t.AppID)
	w.uint32(t.IssueTs)
	w.uint32(t.Expire)
	w.uint32(t.Salt)
	w.uint16(uint16(len(t.Services)))

	for _, s := range t.Services {
		s.pack(&w)
	}

	if w.err != nil {
		return nil, w.err
	}

	return w.buf.Bytes(), nil
}

// validatePrivileges rejects a privilege that would lapse before the token
// itself. Zero on either side means no expiry and is always accepted.
func (t *AccessToken) validatePrivileges() error {
	if t.Expire == 0 {
		return nil
	}

	for _, s := range t.Services {
		for id, expire := range s.Privileges() {
			if expire != 0 && expire < t.Expire {
				return fmt.Errorf("%w: %s privilege %s expires after %ds, token after %ds",
					apierrors.ErrPrivilegeExpiry, ServiceName(s.Type()), PrivilegeName(s.Type(), id), expire, t.Expire)
			}
		}
	}

	return nil
}

// Verify reports whether a parsed token was signed with appCertificate.
func (t *AccessToken) Verify(appCertificate string) bool {
	if t.signed == nil {
		return false
	}

	expected := sign(signingKey(appCertificate, t.IssueTs, t.Salt), t.signed)

	return hmac.Equal(expected, t.Signature)
}

// Parse decodes a token string. It does not check the signature; call
// Verify with the certificate for that.
func Parse(token string) (*AccessToken, error) {
	if !strings.HasPrefix(token, Version) {
		return nil, apierrors.ErrUnsupportedVersion
	}

	raw, err := base64.StdEncoding.DecodeString(token[len(Version):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrMalformedToken, err)
	}

	data, err := decompress(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrMalformedToken, err)
	}

	r := &reader{buf: data}
	t := &AccessToken{Signature: r.bytes()}
	t.signed = append([]byte(nil), r.buf...)
	t.AppID = r.string()
	t.IssueTs = r.uint32()
	t.Expire = r.uint32()
	t.Salt = r.uint32()

	count := r.uint16()
	for i := 0; i < int(count) && r.err == nil; i++ {
		typ := r.uint16()
		if r.err != nil {
			break
		}

		s, err := newServiceOfType(typ)
		if err != nil {
			return nil, err
		}

		s.unpack(r)
		t.Services = append(t.Services, s)
	}

	if r.err != nil {
		return nil, r.err
	}

	return t, nil
}

// signingKey derives the per-token HMAC key from the certificate, issue
// time and salt.
func signingKey(appCertificate string, issueTs, salt uint32) []byte {
	hIssue := sign(uint32Bytes(issueTs), []byte(appCertificate))
	return sign(uint32Bytes(salt), hIssue)
}

func sign(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)

	return h.Sum(nil)
}

func uint32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)

	return b
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(io.LimitReader(zr, maxTokenBytes))
}

// validateCredentials checks the app id and certificate are the 32 hex
// character values the verifier expects.
func validateCredentials(appID, appCertificate string) error {
	if appID == "" {
		return apierrors.Invalid("app id", "is required")
	}

	if appCertificate == "" {
		return apierrors.Invalid("app certificate", "is required")
	}

	if !isHex32(appID) {
		return apierrors.ErrInvalidAppID
	}

	if !isHex32(appCertificate) {
		return apierrors.ErrInvalidCertificate
	}

	return nil
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}

	_, err := hex.DecodeString(s)

	return err == nil
}
