package cqlproto

import "github.com/google/uuid"

// NewUUIDValue builds a uuid-typed Value from a google/uuid.UUID.
func NewUUIDValue(id uuid.UUID) Value {
	v := Value{Type: &ColumnType{Kind: KindUUID}}
	copy(v.UUIDBytes[:], id[:])
	return v
}

// NewTimeUUIDValue builds a timeuuid-typed Value. id must be a version-1
// (time-based) UUID; callers generating one fresh should use
// github.com/google/uuid.NewUUID, which this driver relies on rather than
// hand-rolling RFC 4122 version-1 generation.
func NewTimeUUIDValue(id uuid.UUID) Value {
	v := Value{Type: &ColumnType{Kind: KindTimeUUID}}
	copy(v.UUIDBytes[:], id[:])
	return v
}

// UUID extracts the google/uuid.UUID from a decoded uuid/timeuuid Value.
func (v *Value) UUID() (uuid.UUID, error) {
	if v.Type == nil || (v.Type.Kind != KindUUID && v.Type.Kind != KindTimeUUID) {
		return uuid.UUID{}, protoErrf("value is not a uuid/timeuuid")
	}
	return uuid.FromBytes(v.UUIDBytes[:])
}
