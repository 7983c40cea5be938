package forensic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rug-tracer/pkg/httpshell"
	"github.com/rug-tracer/pkg/labels"
	"github.com/rug-tracer/pkg/model"
)

// MetadataFetcher fetches off-chain token metadata JSON.
type MetadataFetcher interface {
	GetJSON(ctx context.Context, service, url string, headers map[string]string) []byte
}

const (
	metadataTimeout     = 5 * time.Second
	metadataConcurrency = 3
	descriptionMaxLen   = 60
)

// UploadService buckets a metadata URI by hosting provider. The provider is
// part of the fingerprint: operators rarely change their upload pipeline.
func UploadService(uri string) string {
	lower := strings.ToLower(uri)
	switch {
	case strings.Contains(lower, "arweave"):
		return "arweave"
	case strings.Contains(lower, "ipfs"):
		return "ipfs"
	case strings.Contains(lower, "cloudflare"):
		return "cloudflare"
	case strings.Contains(lower, "pinata"):
		return "pinata"
	case strings.Contains(lower, "pump"):
		return "pumpfun"
	default:
		return "other"
	}
}

// NormalizeDescription lowercases, strips to alphanumerics and truncates.
func NormalizeDescription(description string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(description) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= descriptionMaxLen {
			break
		}
	}
	return b.String()
}

// Fingerprint hashes service:description into a 16-hex operator DNA tag.
func Fingerprint(service, normalizedDescription string) string {
	if normalizedDescription == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(service + ":" + normalizedDescription))
	return hex.EncodeToString(sum[:8])
}

// FingerprintInput is one (mint, deployer, metadata URI) triple.
type FingerprintInput struct {
	Mint        string
	Deployer    string
	MetadataURI string
}

// BuildFingerprints fetches metadata for each input, records the operator
// mapping, and returns a fingerprint record when at least two distinct
// deployers share one.
func (e *Engine) BuildFingerprints(ctx context.Context, inputs []FingerprintInput) *model.OperatorFingerprint {
	if e.meta == nil || e.store == nil {
		return nil
	}

	type result struct {
		fingerprint, service, description, deployer string
	}
	results := make([]result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metadataConcurrency)
	for i, in := range inputs {
		i, in := i, in
		if in.MetadataURI == "" || in.Deployer == "" {
			continue
		}
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, metadataTimeout)
			defer cancel()

			body := e.meta.GetJSON(fctx, httpshell.ServiceImage, in.MetadataURI, nil)
			if body == nil {
				return nil
			}
			var meta struct {
				Description string `json:"description"`
			}
			if err := json.Unmarshal(body, &meta); err != nil {
				log.Debug().Err(err).Str("mint", labels.Short(in.Mint)).Msg("metadata unmarshal")
				return nil
			}

			service := UploadService(in.MetadataURI)
			desc := NormalizeDescription(meta.Description)
			if fp := Fingerprint(service, desc); fp != "" {
				results[i] = result{fp, service, desc, in.Deployer}
			}
			return nil
		})
	}
	g.Wait()

	var emitted *model.OperatorFingerprint
	for _, r := range results {
		if r.fingerprint == "" {
			continue
		}
		if err := e.store.UpsertOperatorMapping(r.fingerprint, r.deployer); err != nil {
			continue
		}
		wallets, err := e.store.WalletsForFingerprint(r.fingerprint)
		if err != nil || len(wallets) < 2 {
			continue
		}
		if emitted == nil || len(wallets) > len(emitted.Wallets) {
			emitted = &model.OperatorFingerprint{
				Fingerprint: r.fingerprint,
				Wallets:     wallets,
				Service:     r.service,
				Description: r.description,
			}
		}
	}
	return emitted
}
