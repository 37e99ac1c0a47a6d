package webhook

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // WebSub hubs still sign with sha1
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/pscheid92/streamnotify/internal/domain"
)

const SignatureHeader = "X-Hub-Signature"

var algorithms = map[string]func() hash.Hash{
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// Sign returns the header value "algo=hexdigest" for body.
func Sign(algo, secret string, body []byte) (string, error) {
	newHash, ok := algorithms[algo]
	if !ok {
		return "", fmt.Errorf("%w: unsupported algorithm %q", domain.ErrInvalidSignature, algo)
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return algo + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks an "algo=hexdigest" header against body.
func Verify(secret string, body []byte, header string) error {
	algo, digest, ok := strings.Cut(header, "=")
	if !ok || digest == "" {
		return fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}

	newHash, ok := algorithms[strings.ToLower(algo)]
	if !ok {
		return fmt.Errorf("%w: unsupported algorithm %q", domain.ErrInvalidSignature, algo)
	}

	got, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("%w: digest is not hex", domain.ErrInvalidSignature)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: digest mismatch", domain.ErrInvalidSignature)
	}
	return nil
}
