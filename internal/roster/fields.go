package roster

import "time"

// Field describes one mergeable attribute of a Room.
type Field struct {
	Name string
	// StatusGroup fields move together with the status whenever a merge
	// would un-clean a room.
	StatusGroup bool

	equal func(a, b *Room) bool
	copy  func(dst, src *Room)
	value func(r *Room) any
}

// Equal reports whether a and b agree on this field.
func (f Field) Equal(a, b *Room) bool { return f.equal(a, b) }

// Copy sets this field of dst from src.
func (f Field) Copy(dst, src *Room) { f.copy(dst, src) }

// Value returns the wire value of the field, or nil when it is unset.
func (f Field) Value(r *Room) any { return f.value(r) }

const (
	FieldStatus       = "status"
	FieldAssignee     = "assignee"
	FieldRemark       = "remark"
	FieldFlagColor    = "flagColor"
	FieldCleanedToday = "cleanedToday"
	FieldLastEditor   = "lastEditor"
	FieldCleanedBy    = "cleanedBy"
	FieldClaimedBy    = "claimedBy"
	FieldVacantSince  = "vacantSince"
)

var roomFields = []Field{
	scalarField(FieldStatus, true, func(r *Room) *Status { return &r.Status }),
	scalarField(FieldAssignee, true, func(r *Room) *string { return &r.Assignee }),
	scalarField(FieldRemark, false, func(r *Room) *string { return &r.Remark }),
	scalarField(FieldFlagColor, false, func(r *Room) *FlagColor { return &r.FlagColor }),
	scalarField(FieldCleanedToday, true, func(r *Room) *bool { return &r.CleanedToday }),
	scalarField(FieldLastEditor, false, func(r *Room) *string { return &r.LastEditor }),
	scalarField(FieldCleanedBy, true, func(r *Room) *string { return &r.CleanedBy }),
	scalarField(FieldClaimedBy, false, func(r *Room) *string { return &r.ClaimedBy }),
	{
		Name:        FieldVacantSince,
		StatusGroup: true,
		equal: func(a, b *Room) bool {
			if a.VacantSince == nil || b.VacantSince == nil {
				return a.VacantSince == b.VacantSince
			}
			return a.VacantSince.Equal(*b.VacantSince)
		},
		copy: func(dst, src *Room) {
			if src.VacantSince == nil {
				dst.VacantSince = nil
				return
			}
			t := *src.VacantSince
			dst.VacantSince = &t
		},
		value: func(r *Room) any {
			if r.VacantSince == nil {
				return nil
			}
			return r.VacantSince.UTC().Format(time.RFC3339Nano)
		},
	},
}

func scalarField[T comparable](name string, group bool, ptr func(*Room) *T) Field {
	return Field{
		Name:        name,
		StatusGroup: group,
		equal:       func(a, b *Room) bool { return *ptr(a) == *ptr(b) },
		copy:        func(dst, src *Room) { *ptr(dst) = *ptr(src) },
		value: func(r *Room) any {
			var zero T
			if v := *ptr(r); v != zero {
				return v
			}
			return nil
		},
	}
}

// Fields returns the mergeable room fields.
func Fields() []Field {
	return roomFields
}

// StatusGroupFields returns the names of the fields guarded by the sticky
// cleaned rule.
func StatusGroupFields() []string {
	names := make([]string, 0, 5)
	for _, f := range roomFields {
		if f.StatusGroup {
			names = append(names, f.Name)
		}
	}
	return names
}

// ChangedFields lists the names of fields that differ between a and b.
func ChangedFields(a, b *Room) []string {
	var names []string
	for _, f := range roomFields {
		if !f.Equal(a, b) {
			names = append(names, f.Name)
		}
	}
	return names
}

// Diff returns a merge patch object turning before into after. Cleared fields
// map to nil so the patch deletes them.
func Diff(before, after *Room) map[string]any {
	patch := make(map[string]any)
	for _, f := range roomFields {
		if !f.Equal(before, after) {
			patch[f.Name] = f.Value(after)
		}
	}
	return patch
}
