// Package audit writes the immutable commit record and releases a session's
// transient working storage afterwards.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// Document is the append-only audit record written at commit time. It
// snapshots everything the decision was based on.
type Document struct {
	SessionID   string                  `json:"session_id"`
	VendorName  string                  `json:"vendor_name"`
	VendorKey   string                  `json:"vendor_key"`
	Profile     review.RiskProfile      `json:"profile"`
	Manifest    review.Manifest         `json:"manifest"`
	Results     []review.AnalysisResult `json:"results"`
	Degraded    []string                `json:"degraded_capabilities,omitempty"`
	Decision    review.DecisionRecord   `json:"decision"`
	CommittedAt time.Time               `json:"committed_at"`
}

// Config controls where audit documents land and where session blobs live.
type Config struct {
	// RegistryPrefix is the blob prefix for permanent audit documents.
	RegistryPrefix string
	// SessionPrefix is the blob prefix discovery archives under; release
	// scans for it when turning blob URIs back into object paths.
	SessionPrefix string
}

func (c Config) withDefaults() Config {
	if c.RegistryPrefix == "" {
		c.RegistryPrefix = "registry"
	}
	if c.SessionPrefix == "" {
		c.SessionPrefix = "sessions"
	}
	return c
}

// Writer persists audit documents and garbage-collects session storage.
type Writer struct {
	blobs  review.BlobStore
	clock  review.Clock
	cfg    Config
	logger *zap.Logger
}

// NewWriter builds a Writer.
func NewWriter(blobs review.BlobStore, clock review.Clock, cfg Config, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		blobs:  blobs,
		clock:  clock,
		cfg:    cfg.withDefaults(),
		logger: logger.Named("audit"),
	}
}

// Write stores the audit document for an entry about to be committed and
// returns its URI. The path is keyed by session ID, so it is known before the
// registry assigns a version; a duplicate commit attempt at worst rewrites
// the same document with the same content.
func (w *Writer) Write(ctx context.Context, session review.Session, entry review.RegistryEntry) (string, error) {
	if w.blobs == nil {
		return "", fmt.Errorf("no blob store configured")
	}

	doc := Document{
		SessionID:   session.ID,
		VendorName:  session.VendorName,
		VendorKey:   entry.VendorKey,
		Profile:     session.Profile,
		Manifest:    session.Manifest,
		Results:     session.Results,
		Degraded:    session.Degraded,
		Decision:    entry.Decision,
		CommittedAt: w.clock.Now(),
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit document: %w", err)
	}

	path := fmt.Sprintf("%s/%s/%s-audit.json",
		strings.Trim(w.cfg.RegistryPrefix, "/"), entry.VendorKey, session.ID)
	uri, err := w.blobs.PutObject(ctx, path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("write audit document: %w", err)
	}

	if err := w.archiveDocuments(ctx, session, entry); err != nil {
		return "", err
	}
	return uri, nil
}

// archiveDocuments copies the approved document text into the vendor's
// registry area before the transient session copies are released. Each file
// carries a provenance header so the archive is readable on its own.
func (w *Writer) archiveDocuments(ctx context.Context, session review.Session, entry review.RegistryEntry) error {
	approvedAt := w.clock.Now().UTC().Format(time.RFC3339)
	index := 0
	for _, doc := range session.Manifest.Included() {
		if doc.Text == "" {
			continue
		}
		index++
		var b strings.Builder
		fmt.Fprintf(&b, "Source URL: %s\nApproved: %s\n\n", doc.SourceURL, approvedAt)
		b.WriteString(doc.Text)

		path := fmt.Sprintf("%s/%s/%s-documents/%03d.txt",
			strings.Trim(w.cfg.RegistryPrefix, "/"), entry.VendorKey, session.ID, index)
		if _, err := w.blobs.PutObject(ctx, path, "text/plain; charset=utf-8", strings.NewReader(b.String())); err != nil {
			return fmt.Errorf("archive document %s: %w", doc.CanonicalURL, err)
		}
	}
	return nil
}

// ReleaseSession deletes the session's archived page bodies and drops the
// fetched text from the manifest. Deletion failures are logged and skipped;
// the registry entry and audit document are already durable by the time this
// runs.
func (w *Writer) ReleaseSession(ctx context.Context, session *review.Session) {
	for i := range session.Manifest.Documents {
		doc := &session.Manifest.Documents[i]
		if doc.BlobURI != "" && w.blobs != nil {
			if path, ok := w.objectPath(doc.BlobURI); ok {
				if err := w.blobs.DeleteObject(ctx, path); err != nil {
					w.logger.Warn("release blob failed",
						zap.String("path", path),
						zap.Error(err),
					)
				}
			}
		}
		doc.Text = ""
		doc.BlobURI = ""
	}
}

// objectPath recovers the store-relative object path from an archive URI.
func (w *Writer) objectPath(uri string) (string, bool) {
	marker := strings.Trim(w.cfg.SessionPrefix, "/") + "/"
	idx := strings.Index(uri, marker)
	if idx < 0 {
		return "", false
	}
	return uri[idx:], true
}
