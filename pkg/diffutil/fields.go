package diffutil

import (
	"reflect"
	"slices"
)

// FieldChangeType describes how a compared field differs
type FieldChangeType string

const (
	FieldAdded    FieldChangeType = "added"
	FieldRemoved  FieldChangeType = "removed"
	FieldModified FieldChangeType = "modified"
)

// Compared metadata fields, in report order
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldTags        = "tags"
	FieldStatus      = "status"
)

// FieldSet is the fixed set of version metadata that comparisons cover
type FieldSet struct {
	Title       string
	Description string
	Tags        []string
	Status      string
}

// FieldDiff is one differing field between two FieldSets
type FieldDiff struct {
	Field      string          `json:"field"`
	ChangeType FieldChangeType `json:"changeType"`
	OldValue   any             `json:"oldValue,omitempty"`
	NewValue   any             `json:"newValue,omitempty"`
}

// CompareFields reports the fields that differ between old and new.
// A field only set on the new side is "added", only on the old side
// "removed", and set on both with different values "modified".
func CompareFields(old, new FieldSet) []FieldDiff {
	var diffs []FieldDiff
	diffs = appendDiff(diffs, FieldTitle, old.Title, new.Title, old.Title != "", new.Title != "")
	diffs = appendDiff(diffs, FieldDescription, old.Description, new.Description, old.Description != "", new.Description != "")
	oldTags, newTags := normalizeTags(old.Tags), normalizeTags(new.Tags)
	diffs = appendDiff(diffs, FieldTags, oldTags, newTags, len(oldTags) > 0, len(newTags) > 0)
	diffs = appendDiff(diffs, FieldStatus, old.Status, new.Status, old.Status != "", new.Status != "")
	return diffs
}

func appendDiff(diffs []FieldDiff, field string, oldVal, newVal any, oldSet, newSet bool) []FieldDiff {
	switch {
	case !oldSet && !newSet:
		return diffs
	case !oldSet:
		return append(diffs, FieldDiff{Field: field, ChangeType: FieldAdded, NewValue: newVal})
	case !newSet:
		return append(diffs, FieldDiff{Field: field, ChangeType: FieldRemoved, OldValue: oldVal})
	case reflect.DeepEqual(oldVal, newVal):
		return diffs
	default:
		return append(diffs, FieldDiff{Field: field, ChangeType: FieldModified, OldValue: oldVal, NewValue: newVal})
	}
}

// NormalizeTags returns tags sorted with duplicates and empty entries removed
func NormalizeTags(tags []string) []string {
	return normalizeTags(tags)
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
