package shotlocker

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"time"
)

var principalPattern = regexp.MustCompile(`^arn:(aws).*:iam::\d{12}:(user|role)/[A-Za-z0-9]+$`)

// ValidatePrincipalARN checks that arn names an IAM user or role.
func ValidatePrincipalARN(arn string) error {
	if !principalPattern.MatchString(arn) {
		return fmt.Errorf("%w: %q", ErrInvalidPrincipal, arn)
	}
	return nil
}

// loadPolicy reads a bucket's policy; an absent policy is an empty one.
func (s *Service) loadPolicy(ctx context.Context, bucket string) (*Policy, error) {
	doc, err := s.store.GetBucketPolicy(ctx, bucket)
	if err != nil {
		if IsNotFound(err) {
			return NewPolicy(), nil
		}
		return nil, err
	}
	return ParsePolicy(doc)
}

// savePolicy persists p, deleting the document when no statements remain.
func (s *Service) savePolicy(ctx context.Context, bucket string, p *Policy) error {
	if p.Empty() {
		err := s.store.DeleteBucketPolicy(ctx, bucket)
		if err != nil && !IsNotFound(err) {
			return err
		}
		return nil
	}
	doc, err := p.Marshal()
	if err != nil {
		return err
	}
	return s.store.PutBucketPolicy(ctx, bucket, doc)
}

// GrantAccess grants principal read access to the objects tagged for
// editID, optionally until the end of expiry (YYYY-MM-DD). Re-granting an
// existing (edit, principal) pair changes nothing, including its expiry.
//
// The policy read-modify-write is not transactional: concurrent grants or
// revokes on one bucket race and the last writer wins.
func (s *Service) GrantAccess(ctx context.Context, bucket, editID, principal, expiry string) (bool, error) {
	if err := s.RequireEdit(ctx, bucket, editID); err != nil {
		return false, err
	}
	if err := ValidatePrincipalARN(principal); err != nil {
		return false, err
	}
	var until *time.Time
	if expiry != "" {
		t, err := ParseExpiry(expiry)
		if err != nil {
			return false, err
		}
		until = t
	}

	p, err := s.loadPolicy(ctx, bucket)
	if err != nil {
		return false, &EditError{EditID: editID, Op: "grant", Err: err}
	}
	changed, err := p.Grant(GrantRequest{
		Bucket:    bucket,
		Partition: s.partition,
		Principal: principal,
		Token:     editID,
		Expiry:    until,
	})
	if err != nil {
		return false, &EditError{EditID: editID, Op: "grant", Err: err}
	}
	if !changed {
		return false, nil
	}
	if err := s.savePolicy(ctx, bucket, p); err != nil {
		return false, &EditError{EditID: editID, Op: "grant", Err: err}
	}
	s.Logf(ctx, editID, "Access granted to %s", principal)
	return true, nil
}

// RevokeAccess removes principal's grants for editID.
func (s *Service) RevokeAccess(ctx context.Context, bucket, editID, principal string) (bool, error) {
	if err := s.RequireEdit(ctx, bucket, editID); err != nil {
		return false, err
	}
	if err := ValidatePrincipalARN(principal); err != nil {
		return false, err
	}

	p, err := s.loadPolicy(ctx, bucket)
	if err != nil {
		return false, &EditError{EditID: editID, Op: "revoke", Err: err}
	}
	if !p.Revoke(principal, editID) {
		return false, nil
	}
	if err := s.savePolicy(ctx, bucket, p); err != nil {
		return false, &EditError{EditID: editID, Op: "revoke", Err: err}
	}
	s.Logf(ctx, editID, "Access revoked for %s", principal)
	return true, nil
}

// RevokeAllAccess removes every grant for editID regardless of principal.
func (s *Service) RevokeAllAccess(ctx context.Context, bucket, editID string) (bool, error) {
	p, err := s.loadPolicy(ctx, bucket)
	if err != nil {
		return false, &EditError{EditID: editID, Op: "revoke all", Err: err}
	}
	if !p.RevokeAll(editID) {
		return false, nil
	}
	if err := s.savePolicy(ctx, bucket, p); err != nil {
		return false, &EditError{EditID: editID, Op: "revoke all", Err: err}
	}
	s.Logf(ctx, editID, "All access removed from bucket %s", bucket)
	return true, nil
}

// ListAccess returns the grants for editID. A bucket without a policy has
// no grants.
func (s *Service) ListAccess(ctx context.Context, bucket, editID string) ([]Grant, error) {
	if err := s.RequireEdit(ctx, bucket, editID); err != nil {
		return nil, err
	}
	p, err := s.loadPolicy(ctx, bucket)
	if err != nil {
		return nil, &EditError{EditID: editID, Op: "list access", Err: err}
	}
	grants := p.Grants(editID)
	if grants == nil {
		grants = []Grant{}
	}
	return grants, nil
}

// ListTokensForPrincipal returns the edit tokens principal holds grants for.
func (s *Service) ListTokensForPrincipal(ctx context.Context, bucket, principal string) ([]string, error) {
	p, err := s.loadPolicy(ctx, bucket)
	if err != nil {
		return nil, err
	}
	var tokens []string
	for _, g := range p.AllGrants() {
		if g.Principal == principal && !slices.Contains(tokens, g.Token) {
			tokens = append(tokens, g.Token)
		}
	}
	return tokens, nil
}
