package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// KeyNamespace prefixes every cached view key.
const KeyNamespace = "lyceum:view"

// Kind names a family of cached views.
type Kind string

const (
	KindPendingGrading Kind = "pending_grading"
	KindStudentDetail  Kind = "student_detail"
	KindCourseRoster   Kind = "course_roster"
)

// ViewKey builds the key for one parameterization of a view. Params are order independent.
func ViewKey(owner string, kind Kind, params map[string]string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, k := range names {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}
	digest := hex.EncodeToString(h.Sum(nil))[:32]

	return OwnerPrefix(owner, kind) + ":" + digest
}

// OwnerPrefix is the key prefix covering every parameterization of kind for owner.
func OwnerPrefix(owner string, kind Kind) string {
	return strings.Join([]string{KeyNamespace, sanitize(owner), string(kind)}, ":")
}

// sanitize keeps owner ids from introducing extra key segments.
func sanitize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ":", "_")
}
