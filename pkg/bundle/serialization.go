package bundle

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and stored values
//
// Bundles are stored as a single JSON object next to a write revision.
// encoding/json writes map keys in sorted order, so the same bundle always
// encodes to the same bytes. The lock and workflow records are Redis hashes
// with one field per struct field.

// EncodeBundle converts a bundle to its stored byte form.
// A nil bundle encodes as an empty object, never as "null".
func EncodeBundle(b Bundle) ([]byte, error) {
	if b == nil {
		b = Bundle{}
	}
	data, err := json.Marshal(map[string]string(b))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return data, nil
}

// DecodeBundle converts stored bytes back to a bundle.
func DecodeBundle(data []byte) (Bundle, error) {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
	}
	if m == nil {
		m = map[string]string{}
	}
	return Bundle(m), nil
}

// RevisionToken returns the concurrency token for a stored write revision.
func RevisionToken(rev uint64) Token {
	return Token(strconv.FormatUint(rev, 10))
}

// ParseRevision converts a stored revision field back to a token.
func ParseRevision(s string) (Token, error) {
	rev, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid bundle revision %q: %w", s, err)
	}
	return RevisionToken(rev), nil
}

// LockToHash converts a PublishLock to a Redis hash.
func LockToHash(l *PublishLock) map[string]interface{} {
	return map[string]interface{}{
		"locked":        boolField(l.Locked),
		"locked_by":     l.LockedBy,
		"locked_at_ms":  l.LockedAtMs,
		"expires_at_ms": l.ExpiresAtMs,
	}
}

// HashToLock converts a Redis hash to a PublishLock.
// An empty hash is a lock that has never been acquired.
func HashToLock(hash map[string]string) (*PublishLock, error) {
	lock := &PublishLock{}
	if len(hash) == 0 {
		return lock, nil
	}

	lock.Locked = hash["locked"] == "1"
	lock.LockedBy = hash["locked_by"]

	var err error
	if lock.LockedAtMs, err = parseIntField(hash, "locked_at_ms"); err != nil {
		return nil, err
	}
	if lock.ExpiresAtMs, err = parseIntField(hash, "expires_at_ms"); err != nil {
		return nil, err
	}

	return lock, nil
}

// WorkflowToHash converts a WorkflowRecord to a Redis hash.
func WorkflowToHash(w *WorkflowRecord) map[string]interface{} {
	return map[string]interface{}{
		"guide_id":                   w.GuideID,
		"status":                     string(w.Status),
		"has_draft_content":          boolField(w.HasDraftContent),
		"translation_review_pending": boolField(w.TranslationReviewPending),
		"updated_at_ms":              w.UpdatedAtMs,
		"updated_by":                 w.UpdatedBy,
	}
}

// HashToWorkflow converts a Redis hash to a WorkflowRecord.
func HashToWorkflow(hash map[string]string) (*WorkflowRecord, error) {
	updatedAtMs, err := parseIntField(hash, "updated_at_ms")
	if err != nil {
		return nil, err
	}

	w := &WorkflowRecord{
		GuideID:                  hash["guide_id"],
		Status:                   WorkflowStatus(hash["status"]),
		HasDraftContent:          hash["has_draft_content"] == "1",
		TranslationReviewPending: hash["translation_review_pending"] == "1",
		UpdatedAtMs:              updatedAtMs,
		UpdatedBy:                hash["updated_by"],
	}

	if err := w.Status.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow record: %w", err)
	}

	return w, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseIntField(hash map[string]string, field string) (int64, error) {
	raw, ok := hash[field]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return v, nil
}
