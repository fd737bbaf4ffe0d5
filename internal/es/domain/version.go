package domain

// Version identifies a single revision of an aggregate. Within one
// (AggregateID, AggregateType) stream versions are strictly increasing
// and gapless, starting at 0.
type Version int64

// InitialVersion is the version assigned to the first event of a stream.
const InitialVersion Version = 0

// IsPreviousTo reports whether other is the direct successor of v.
func (v Version) IsPreviousTo(other Version) bool {
	return other == v+1
}

// Next returns the direct successor of v.
func (v Version) Next() Version {
	return v + 1
}

// Int64 returns the raw version number.
func (v Version) Int64() int64 {
	return int64(v)
}
