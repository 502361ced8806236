package store

import (
	"strings"

	"github.com/tracemap/cartograph/pkg/common"
)

// Relationship candidate rejections. Both are per-candidate conditions: the
// caller drops the candidate and moves on, neither aborts a batch. They are
// ValidationError values, so common.IsValidation matches them alongside
// errors.Is against the sentinel.
var (
	// ErrSelfLoop rejects a relationship whose source and target are the
	// same entity.
	ErrSelfLoop = &common.ValidationError{Field: "TargetID", Reason: "relationship source and target are the same entity"}

	// ErrInvalidEndpoint rejects a relationship whose source or target does
	// not resolve to a live entity of the candidate's document.
	ErrInvalidEndpoint = &common.ValidationError{Field: "Endpoint", Reason: "relationship endpoint is not a live entity of the document"}
)

// ValidateEntityCandidate checks shape and ranges before any storage work.
func ValidateEntityCandidate(c common.EntityCandidate) error {
	if strings.TrimSpace(c.Name) == "" {
		return &common.ValidationError{Field: "Name", Reason: "must not be empty"}
	}
	if c.Type == "" {
		return &common.ValidationError{Field: "Type", Reason: "must not be empty"}
	}
	if c.Document == "" {
		return &common.ValidationError{Field: "Document", Reason: "must not be empty"}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return &common.ValidationError{Field: "Confidence", Reason: "must be within [0, 1]"}
	}
	return nil
}

// ValidateRelationshipCandidate checks shape and ranges. Endpoint liveness is
// left to the storage implementation, which resolves ids inside its
// transaction.
func ValidateRelationshipCandidate(c common.RelationshipCandidate) error {
	if c.Document == "" {
		return &common.ValidationError{Field: "Document", Reason: "must not be empty"}
	}
	if c.SourceID == "" {
		return &common.ValidationError{Field: "SourceID", Reason: "must not be empty"}
	}
	if c.TargetID == "" {
		return &common.ValidationError{Field: "TargetID", Reason: "must not be empty"}
	}
	if c.SourceID == c.TargetID {
		return ErrSelfLoop
	}
	if !common.ValidRelationshipType(string(c.Type)) {
		return &common.ValidationError{Field: "Type", Reason: "not part of the relationship taxonomy"}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return &common.ValidationError{Field: "Confidence", Reason: "must be within [0, 1]"}
	}
	if c.Weight < 0 || c.Weight > 1 {
		return &common.ValidationError{Field: "Weight", Reason: "must be within [0, 1]"}
	}
	return nil
}

// EffectiveWeight applies the default weight to an unset candidate weight.
func EffectiveWeight(w float64) float64 {
	if w == 0 {
		return 1
	}
	return w
}
