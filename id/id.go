package id

import "github.com/rs/xid"

// Generate returns a new sortable entity ID.
func Generate() string {
	return xid.New().String()
}

func Valid(s string) bool {
	parsed, err := xid.FromString(s)
	if err != nil {
		return false
	}
	return !parsed.IsNil() && !parsed.IsZero()
}
