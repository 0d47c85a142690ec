// Package membership reads community-membership records from the atproto
// network and reconciles a user's self-asserted claims against the
// confirmations published by each community.
//
// Two independently-owned record sets are involved: a claim lives in the
// user's own repo and asserts intent to join; a confirmation lives in the
// community's repo and points back at the claim record. A claim is "active"
// once the community has published a matching confirmation, and "pending"
// until then.
package membership

import (
	"encoding/json"
	"fmt"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

const (
	// ClaimCollection holds user-authored membership claims.
	ClaimCollection = "social.collective.community.claim"
	// ConfirmationCollection holds community-authored confirmations.
	ConfirmationCollection = "social.collective.community.confirmation"
	// ProfileCollection holds the community's profile record, under a fixed rkey.
	ProfileCollection = "social.collective.community.profile"
	ProfileRecordKey  = "self"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
)

// Claim is a validated membership claim from a user's repo.
type Claim struct {
	URI       syntax.ATURI
	Community syntax.DID
	JoinedAt  syntax.Datetime
}

// Confirmation is a validated confirmation record from a community's repo.
type Confirmation struct {
	Subject     syntax.DID
	Claim       syntax.ATURI
	ConfirmedAt syntax.Datetime
}

// Profile is a community's self-published profile record.
type Profile struct {
	DisplayName string          `json:"displayName"`
	Description *string         `json:"description,omitempty"`
	Avatar      json.RawMessage `json:"avatar,omitempty"`
	Banner      json.RawMessage `json:"banner,omitempty"`
	CreatedAt   *string         `json:"createdAt,omitempty"`
	Guidelines  *string         `json:"guidelines,omitempty"`
}

// View is the derived, per-claim membership status returned to clients.
type View struct {
	URI       syntax.ATURI    `json:"uri"`
	Community syntax.DID      `json:"community"`
	JoinedAt  syntax.Datetime `json:"joinedAt"`
	Status    Status          `json:"status"`
	Profile   *Profile        `json:"profile"`
}

type claimRecord struct {
	Community string `json:"community"`
	CreatedAt string `json:"createdAt"`
}

type confirmationRecord struct {
	Subject   string `json:"subject"`
	Claim     string `json:"claim"`
	CreatedAt string `json:"createdAt"`
}

// ParseClaim validates a raw claim record. Records with missing or malformed
// fields fail closed: the caller treats them like a failed fetch and drops the
// item, rather than passing undefined values along.
func ParseClaim(uri string, value json.RawMessage) (*Claim, error) {
	aturi, err := syntax.ParseATURI(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid claim record URI: %w", err)
	}
	var rec claimRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decoding claim record %s: %w", uri, err)
	}
	community, err := syntax.ParseDID(rec.Community)
	if err != nil {
		return nil, fmt.Errorf("claim record %s has invalid community: %w", uri, err)
	}
	joinedAt, err := syntax.ParseDatetime(rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("claim record %s has invalid createdAt: %w", uri, err)
	}
	return &Claim{URI: aturi, Community: community, JoinedAt: joinedAt}, nil
}

// ParseConfirmation validates a raw confirmation record, failing closed like
// ParseClaim.
func ParseConfirmation(uri string, value json.RawMessage) (*Confirmation, error) {
	var rec confirmationRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, fmt.Errorf("decoding confirmation record %s: %w", uri, err)
	}
	subject, err := syntax.ParseDID(rec.Subject)
	if err != nil {
		return nil, fmt.Errorf("confirmation record %s has invalid subject: %w", uri, err)
	}
	claim, err := syntax.ParseATURI(rec.Claim)
	if err != nil {
		return nil, fmt.Errorf("confirmation record %s has invalid claim ref: %w", uri, err)
	}
	confirmedAt, err := syntax.ParseDatetime(rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("confirmation record %s has invalid createdAt: %w", uri, err)
	}
	return &Confirmation{Subject: subject, Claim: claim, ConfirmedAt: confirmedAt}, nil
}

// ParseProfile validates a raw community profile record. An empty displayName
// fails closed.
func ParseProfile(value json.RawMessage) (*Profile, error) {
	var profile Profile
	if err := json.Unmarshal(value, &profile); err != nil {
		return nil, fmt.Errorf("decoding community profile: %w", err)
	}
	if profile.DisplayName == "" {
		return nil, fmt.Errorf("community profile missing displayName")
	}
	return &profile, nil
}
