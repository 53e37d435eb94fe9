package recurrence

import (
	"strings"
	"time"
)

// instanceMarker separates a parent event id from the occurrence start in a
// virtual instance id. Event ids are UUIDs, so the marker cannot appear in a
// concrete id.
const instanceMarker = "::instance::"

// InstanceID encodes a virtual occurrence as a stable external identifier:
// the parent id followed by the occurrence start in RFC 3339 UTC. Encoding
// the timestamp (rather than a sequence index) lets a decoded id name the
// exact occurrence without re-expanding the series.
func InstanceID(parentID string, start time.Time) string {
	return parentID + instanceMarker + start.UTC().Format(time.RFC3339)
}

// ParseInstanceID splits an occurrence id into its parent id and occurrence
// start. An id without the marker, or with a suffix that does not parse as a
// timestamp, is treated as a concrete event id: the whole input is returned
// as the parent and ok is false. Parsing never fails; malformed input simply
// misses on the downstream lookup.
func ParseInstanceID(id string) (parentID string, start time.Time, ok bool) {
	i := strings.LastIndex(id, instanceMarker)
	if i < 0 {
		return id, time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, id[i+len(instanceMarker):])
	if err != nil {
		return id, time.Time{}, false
	}
	return id[:i], t.UTC(), true
}

// IsInstanceID reports whether the id names a virtual occurrence.
func IsInstanceID(id string) bool {
	_, _, ok := ParseInstanceID(id)
	return ok
}
