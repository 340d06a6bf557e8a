package shotlocker

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// PolicyVersion is the policy language version written for new documents
	PolicyVersion = "2012-10-17"

	sidPrefix    = "ShotLocker"
	sidSeparator = "Index"

	tagConditionKey  = "s3:ExistingObjectTag/" + AccessTagKey
	timeConditionKey = "aws:CurrentTime"
	expirySuffix     = "T23:59:59Z"
)

// Policy is a bucket policy document. Grants written by this package are
// recognized by their statement id; every other statement is kept as raw
// JSON and re-serialized unchanged and in order.
type Policy struct {
	Version string

	statements []policyStatement
	extra      map[string]json.RawMessage
}

type policyStatement struct {
	raw json.RawMessage

	// set for statements whose sid carries an access token
	token     string
	principal string
	expiry    string
}

// Grant is one principal's access to an edit token
type Grant struct {
	Principal string     `json:"user_role_arn" yaml:"user_role_arn"`
	Expiry    *time.Time `json:"expired_date" yaml:"expired_date"`
	Token     string     `json:"-" yaml:"-"`
	Sid       string     `json:"-" yaml:"-"`
}

// GrantRequest describes a grant to insert
type GrantRequest struct {
	Bucket    string
	Partition string
	Principal string
	Token     string
	Expiry    *time.Time
}

// grantStatement is the serialized form of a grant
type grantStatement struct {
	Sid       string                       `json:"Sid"`
	Effect    string                       `json:"Effect"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Principal map[string]string            `json:"Principal"`
	Condition map[string]map[string]string `json:"Condition"`
}

// probeStatement reads the fields used to recognize a grant
type probeStatement struct {
	Sid       string                                `json:"Sid"`
	Principal json.RawMessage                       `json:"Principal"`
	Condition map[string]map[string]json.RawMessage `json:"Condition"`
}

// NewPolicy returns an empty policy document.
func NewPolicy() *Policy {
	return &Policy{Version: PolicyVersion}
}

// ParsePolicy parses a policy document. An empty document is an empty policy.
func ParsePolicy(doc []byte) (*Policy, error) {
	if len(bytes.TrimSpace(doc)) == 0 {
		return NewPolicy(), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyParse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrPolicyParse)
	}

	p := &Policy{Version: PolicyVersion}
	if raw, ok := fields["Version"]; ok {
		if err := json.Unmarshal(raw, &p.Version); err != nil {
			return nil, fmt.Errorf("%w: version: %v", ErrPolicyParse, err)
		}
		delete(fields, "Version")
	}

	if raw, ok := fields["Statement"]; ok {
		delete(fields, "Statement")
		raws, err := splitStatements(raw)
		if err != nil {
			return nil, err
		}
		for _, r := range raws {
			st, err := parseStatement(r)
			if err != nil {
				return nil, err
			}
			p.statements = append(p.statements, st)
		}
	}

	if len(fields) > 0 {
		p.extra = fields
	}
	return p, nil
}

func splitStatements(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case bytes.HasPrefix(trimmed, []byte("[")):
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: statement list: %v", ErrPolicyParse, err)
		}
		return list, nil
	case bytes.HasPrefix(trimmed, []byte("{")):
		return []json.RawMessage{trimmed}, nil
	case bytes.Equal(trimmed, []byte("null")):
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: statement must be an object or a list", ErrPolicyParse)
	}
}

func parseStatement(raw json.RawMessage) (policyStatement, error) {
	var probe probeStatement
	if err := json.Unmarshal(raw, &probe); err != nil {
		return policyStatement{}, fmt.Errorf("%w: statement: %v", ErrPolicyParse, err)
	}
	st := policyStatement{raw: raw}
	token, ok := TokenFromSid(probe.Sid)
	if !ok {
		return st, nil
	}
	st.token = token
	st.principal = awsPrincipal(probe.Principal)
	if cond, ok := probe.Condition["DateLessThan"]; ok {
		var ts string
		if v, ok := cond[timeConditionKey]; ok && json.Unmarshal(v, &ts) == nil {
			st.expiry = ts
		}
	}
	return st, nil
}

// awsPrincipal returns the single AWS principal of a statement, or "".
func awsPrincipal(raw json.RawMessage) string {
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return ""
	}
	var arn string
	if json.Unmarshal(obj["AWS"], &arn) != nil {
		return ""
	}
	return arn
}

// SidPrefix returns the statement id prefix for an access token.
func SidPrefix(token string) string {
	return sidPrefix + token
}

// TokenFromSid recovers the access token from a statement id built as
// "ShotLocker" + token + "Index" + suffix.
func TokenFromSid(sid string) (string, bool) {
	rest, ok := strings.CutPrefix(sid, sidPrefix)
	if !ok || rest == "" {
		return "", false
	}
	token, _, _ := strings.Cut(rest, sidSeparator)
	if token == "" {
		return "", false
	}
	return token, true
}

func newSid(token string) (string, error) {
	suffix, err := randomString(rand.Reader, SidSuffixLength)
	if err != nil {
		return "", err
	}
	return SidPrefix(token) + sidSeparator + suffix, nil
}

// Len returns the number of statements of any kind.
func (p *Policy) Len() int {
	return len(p.statements)
}

// Empty reports whether no statements remain.
func (p *Policy) Empty() bool {
	return len(p.statements) == 0
}

func (p *Policy) hasGrant(principal, token string) bool {
	for _, st := range p.statements {
		if st.token == token && st.principal == principal {
			return true
		}
	}
	return false
}

// Grant appends a grant for (token, principal) unless one exists and
// reports whether the policy changed. An existing grant is never updated.
func (p *Policy) Grant(req GrantRequest) (bool, error) {
	if req.Token == "" || req.Principal == "" || req.Bucket == "" {
		return false, fmt.Errorf("%w: grant requires bucket, principal and token", ErrValidation)
	}
	if p.hasGrant(req.Principal, req.Token) {
		return false, nil
	}

	sid, err := newSid(req.Token)
	if err != nil {
		return false, err
	}
	partition := req.Partition
	if partition == "" {
		partition = DefaultPartition
	}

	gs := grantStatement{
		Sid:       sid,
		Effect:    "Allow",
		Action:    "s3:GetObject",
		Resource:  fmt.Sprintf("arn:%s:s3:::%s/*", partition, req.Bucket),
		Principal: map[string]string{"AWS": req.Principal},
		Condition: map[string]map[string]string{
			"StringLike": {tagConditionKey: "*" + req.Token + "*"},
		},
	}
	st := policyStatement{token: req.Token, principal: req.Principal}
	if req.Expiry != nil {
		st.expiry = req.Expiry.UTC().Format(time.DateOnly) + expirySuffix
		gs.Condition["DateLessThan"] = map[string]string{timeConditionKey: st.expiry}
	}

	raw, err := json.Marshal(gs)
	if err != nil {
		return false, fmt.Errorf("failed to encode grant: %w", err)
	}
	st.raw = raw
	p.statements = append(p.statements, st)
	return true, nil
}

// Revoke removes the grants matching (token, principal) and reports
// whether the policy changed.
func (p *Policy) Revoke(principal, token string) bool {
	return p.remove(func(st policyStatement) bool {
		return st.token == token && st.principal == principal
	})
}

// RevokeAll removes every grant for token regardless of principal.
func (p *Policy) RevokeAll(token string) bool {
	return p.remove(func(st policyStatement) bool {
		return st.token == token
	})
}

func (p *Policy) remove(match func(policyStatement) bool) bool {
	kept := p.statements[:0:0]
	for _, st := range p.statements {
		if !match(st) {
			kept = append(kept, st)
		}
	}
	changed := len(kept) != len(p.statements)
	p.statements = kept
	return changed
}

// Grants returns the grants for token in statement order.
func (p *Policy) Grants(token string) []Grant {
	var out []Grant
	for _, g := range p.AllGrants() {
		if g.Token == token {
			out = append(out, g)
		}
	}
	return out
}

// AllGrants returns every grant that names a single AWS principal.
func (p *Policy) AllGrants() []Grant {
	var out []Grant
	for _, st := range p.statements {
		if st.token == "" || st.principal == "" {
			continue
		}
		g := Grant{Principal: st.principal, Token: st.token}
		var probe struct {
			Sid string `json:"Sid"`
		}
		if json.Unmarshal(st.raw, &probe) == nil {
			g.Sid = probe.Sid
		}
		if len(st.expiry) >= len(time.DateOnly) {
			if t, err := time.Parse(time.DateOnly, st.expiry[:len(time.DateOnly)]); err == nil {
				g.Expiry = &t
			}
		}
		out = append(out, g)
	}
	return out
}

// Marshal serializes the policy document.
func (p *Policy) Marshal() ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(p.extra)+2)
	for k, v := range p.extra {
		doc[k] = v
	}

	version := p.Version
	if version == "" {
		version = PolicyVersion
	}
	v, err := json.Marshal(version)
	if err != nil {
		return nil, err
	}
	doc["Version"] = v

	statements := make([]json.RawMessage, 0, len(p.statements))
	for _, st := range p.statements {
		statements = append(statements, st.raw)
	}
	s, err := json.Marshal(statements)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	doc["Statement"] = s

	return json.Marshal(doc)
}

// ParseExpiry parses an ISO calendar date.
func ParseExpiry(s string) (*time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return &t, nil
}
