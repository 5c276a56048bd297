package update

import (
	"crypto/ed25519"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/mod/semver"

	"github.com/Akaiko1/game-grove/internal/model"
)

//go:embed update.pub
var bundledPublicKey string

// BundledPublicKey returns the Ed25519 key release artifacts are signed with.
func BundledPublicKey() (ed25519.PublicKey, error) {
	return ParsePublicKey(bundledPublicKey)
}

// ParsePublicKey decodes a base64 Ed25519 public key.
func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode public key")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, goerr.New("invalid public key size", goerr.V("size", len(raw)))
	}
	return ed25519.PublicKey(raw), nil
}

// manifestDocument is the JSON served by the release endpoint.
type manifestDocument struct {
	Version   string                   `json:"version"`
	Notes     string                   `json:"notes,omitempty"`
	PubDate   string                   `json:"pub_date,omitempty"`
	Platforms map[string]platformEntry `json:"platforms"`
}

type platformEntry struct {
	URL       string `json:"url"`
	Signature string `json:"signature"`
}

// PlatformKey maps GOOS/GOARCH to the platform names used in the manifest, e.g. linux-x86_64.
func PlatformKey(goos, goarch string) string {
	arch := goarch
	switch goarch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i686"
	case "arm":
		arch = "armv7"
	}
	return goos + "-" + arch
}

// decodeManifest decodes raw and validates its version. Platform entries are not inspected.
func decodeManifest(raw []byte) (*manifestDocument, error) {
	var doc manifestDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, goerr.Wrap(model.ErrNetwork, "malformed update manifest", goerr.V("cause", err.Error()))
	}
	if !semver.IsValid(canonical(doc.Version)) {
		return nil, goerr.Wrap(model.ErrNetwork, "invalid version in update manifest", goerr.V("version", doc.Version))
	}
	return &doc, nil
}

// resolve selects the entry for platform and validates its URL and signature.
func (doc *manifestDocument) resolve(platform string) (*model.UpdateManifest, error) {
	entry, ok := doc.Platforms[platform]
	if !ok {
		return nil, goerr.Wrap(model.ErrNetwork, "no build for this platform", goerr.V("platform", platform), goerr.V("version", doc.Version))
	}

	u, err := url.Parse(entry.URL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, goerr.Wrap(model.ErrNetwork, "download url must be https", goerr.V("url", entry.URL))
	}

	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(entry.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, goerr.Wrap(model.ErrSignatureVerificationFailed, "malformed signature in update manifest",
			goerr.V("platform", platform), goerr.V("version", doc.Version))
	}

	m := &model.UpdateManifest{
		Version:     strings.TrimPrefix(canonical(doc.Version), "v"),
		DownloadURL: entry.URL,
		Signature:   sig,
		Notes:       doc.Notes,
	}
	if doc.PubDate != "" {
		if t, err := time.Parse(time.RFC3339, doc.PubDate); err == nil {
			m.PubDate = &t
		}
	}
	return m, nil
}

// parseManifest decodes raw and selects the entry for platform.
func parseManifest(raw []byte, platform string) (*model.UpdateManifest, error) {
	doc, err := decodeManifest(raw)
	if err != nil {
		return nil, err
	}
	return doc.resolve(platform)
}

// isNewer reports whether candidate is a higher semantic version than current.
func isNewer(current, candidate string) bool {
	return semver.Compare(canonical(candidate), canonical(current)) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
