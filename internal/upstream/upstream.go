// Package upstream defines the external collaborators the engine depends
// on (content, moderation intake, creator catalog) with HTTP clients and
// in-memory implementations.
package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrUnavailable wraps failures reaching a collaborator.
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrNotFound is returned when a collaborator has no record for an id.
	ErrNotFound = errors.New("upstream record not found")
)

// Thumbnail holds precomputed visual features of a content thumbnail.
type Thumbnail struct {
	URL string `json:"url"`
	// TextCoverage is the fraction of the image area covered by overlaid text.
	TextCoverage float64 `json:"text_coverage"`
	// Saturation is the mean color saturation in [0, 1].
	Saturation float64 `json:"saturation"`
	// ArrowOverlays counts detected arrow or circle callouts.
	ArrowOverlays int `json:"arrow_overlays"`
	// FaceCloseup is set when a face fills most of the frame.
	FaceCloseup bool `json:"face_closeup"`
	// PerceptualHash is a 64-bit pHash of the image.
	PerceptualHash uint64 `json:"perceptual_hash"`
}

// ContentDescriptor is the content metadata classified for manipulation.
type ContentDescriptor struct {
	CreatorID string    `json:"creator_id"`
	Ref       string    `json:"ref"`
	Title     string    `json:"title"`
	Caption   string    `json:"caption"`
	Hashtags  []string  `json:"hashtags"`
	Thumbnail Thumbnail `json:"thumbnail"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fingerprint returns a stable hash of the classified fields. Two
// descriptors with the same fingerprint classify identically.
func (d *ContentDescriptor) Fingerprint() string {
	tags := append([]string(nil), d.Hashtags...)
	sort.Strings(tags)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%.4f\x00%.4f\x00%d\x00%t\x00%d",
		d.Ref, d.Title, d.Caption, strings.Join(tags, ","),
		d.Thumbnail.TextCoverage, d.Thumbnail.Saturation,
		d.Thumbnail.ArrowOverlays, d.Thumbnail.FaceCloseup, d.Thumbnail.PerceptualHash)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentSource returns content descriptors for creators.
type ContentSource interface {
	GetContentDescriptor(ctx context.Context, creatorID string) (*ContentDescriptor, error)
}

// Evidence accompanies a moderation case.
type Evidence struct {
	FlagID        string   `json:"flag_id"`
	DescriptorRef string   `json:"descriptor_ref"`
	Confidence    float64  `json:"confidence"`
	Categories    []string `json:"categories"`
	Source        string   `json:"source"`
}

// ModerationIntake opens moderation cases.
type ModerationIntake interface {
	OpenModerationCase(ctx context.Context, creatorID string, evidence Evidence) (string, error)
}

// CreatorProfile is catalog metadata about a creator.
type CreatorProfile struct {
	CreatorID string `json:"creator_id"`
	// Categories maps category to match strength in [0, 1].
	Categories map[string]float64 `json:"categories"`
	Language   string             `json:"language"`
	Region     string             `json:"region"`
	CreatedAt  time.Time          `json:"created_at"`
	// SpendCents is the creator's promotional spend in the audit window.
	SpendCents int64 `json:"spend_cents"`
}

// CategoryNames returns the creator's categories, sorted.
func (p *CreatorProfile) CategoryNames() []string {
	out := make([]string, 0, len(p.Categories))
	for c := range p.Categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Catalog lists creators and their metadata.
type Catalog interface {
	GetCreator(ctx context.Context, creatorID string) (*CreatorProfile, error)
	ListCreators(ctx context.Context) ([]CreatorProfile, error)
}
