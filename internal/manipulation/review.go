package manipulation

import (
	"context"
	"fmt"

	"github.com/onnwee/discovery/internal/audit"
)

// ListFlags returns flags for the admin surface.
func (d *Detector) ListFlags(ctx context.Context, filter ListFilter) ([]*Flag, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, filter.Status)
	}
	return d.flags.List(ctx, filter)
}

// StartReview moves a NEW flag to UNDER_REVIEW. Automation no longer
// touches the flag afterwards.
func (d *Detector) StartReview(ctx context.Context, flagID, reviewer string) (*Flag, error) {
	if reviewer == "" {
		return nil, ErrEmptyReviewer
	}
	f, err := d.flags.Get(ctx, flagID)
	if err != nil {
		return nil, err
	}
	if f.Status != StatusNew {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, StatusUnderReview)
	}

	f.Status = StatusUnderReview
	f.ReviewedBy = reviewer
	f.UpdatedAt = d.config.Now().UTC()
	if err := d.flags.Update(ctx, f); err != nil {
		return nil, err
	}
	if err := d.auditReview(ctx, reviewer, f, audit.ActionFlagStartReview); err != nil {
		return nil, err
	}
	return f, nil
}

// Resolve records a reviewer decision on an UNDER_REVIEW flag. decision
// must be CONFIRMED or DISMISSED. A confirmation opens a moderation case.
func (d *Detector) Resolve(ctx context.Context, flagID, reviewer string, decision Status) (*Flag, error) {
	if reviewer == "" {
		return nil, ErrEmptyReviewer
	}
	if decision != StatusConfirmed && decision != StatusDismissed {
		return nil, fmt.Errorf("%w: cannot resolve to %s", ErrInvalidTransition, decision)
	}
	f, err := d.flags.Get(ctx, flagID)
	if err != nil {
		return nil, err
	}
	if f.Status != StatusUnderReview {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Status, decision)
	}

	now := d.config.Now().UTC()
	f.Status = decision
	f.ReviewedBy = reviewer
	f.UpdatedAt = now
	f.ResolvedAt = &now
	if err := d.flags.Update(ctx, f); err != nil {
		return nil, err
	}

	action := audit.ActionFlagDismiss
	if decision == StatusConfirmed {
		action = audit.ActionFlagConfirm
	}
	if err := d.auditReview(ctx, reviewer, f, action); err != nil {
		return nil, err
	}

	if decision == StatusConfirmed {
		if err := d.ensureCase(ctx, f); err != nil {
			return nil, err
		}
	}

	d.config.Logger.Info("manipulation flag resolved",
		"flag_id", f.ID,
		"creator_id", f.CreatorID,
		"status", string(f.Status),
		"reviewer", reviewer)
	return f, nil
}

func (d *Detector) auditReview(ctx context.Context, reviewer string, f *Flag, action string) error {
	if d.config.Audit == nil {
		return nil
	}
	if err := audit.LogAction(ctx, d.config.Audit, reviewer, audit.EntityFlag, f.ID, action, f.CreatorID); err != nil {
		return fmt.Errorf("failed to audit review action: %w", err)
	}
	return nil
}
