package pkgid

import "encoding/json"

// MarshalJSON renders a Version as its string form, matching the teacher's
// manifest.go/lock.go convention of encoding semver values as plain strings
// rather than structured objects.
func (v *Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON parses a Version from its string form.
func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewVersion(s)
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

// MarshalJSON renders a Requirement as its original predicate text.
func (r Requirement) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON parses a Requirement from its predicate text.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := NewRequirement(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
