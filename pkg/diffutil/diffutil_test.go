package diffutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumIsSHA256(t *testing.T) {
	sum := Checksum([]byte("hello"))
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
	assert.True(t, VerifyChecksum([]byte("hello"), sum))
	assert.False(t, VerifyChecksum([]byte("hello!"), sum))
	assert.False(t, VerifyChecksum([]byte("hello"), strings.TrimPrefix(sum, ChecksumPrefix)))
	assert.Equal(t, "2cf24dba5fb0", ShortChecksum(sum))
}

func TestCompareFieldsIdentical(t *testing.T) {
	fs := FieldSet{Title: "Q3 memo", Description: "draft", Tags: []string{"b", "a"}, Status: "draft"}
	assert.Empty(t, CompareFields(fs, fs))
}

func TestCompareFieldsAddedRemovedModified(t *testing.T) {
	old := FieldSet{Title: "Q3 memo", Tags: []string{"finance"}, Status: "draft"}
	new := FieldSet{Title: "Q3 memo (final)", Description: "signed off", Status: "approved"}

	diffs := CompareFields(old, new)
	require.Len(t, diffs, 4)

	byField := map[string]FieldDiff{}
	for _, d := range diffs {
		byField[d.Field] = d
	}
	assert.Equal(t, FieldModified, byField[FieldTitle].ChangeType)
	assert.Equal(t, FieldAdded, byField[FieldDescription].ChangeType)
	assert.Equal(t, "signed off", byField[FieldDescription].NewValue)
	assert.Equal(t, FieldRemoved, byField[FieldTags].ChangeType)
	assert.Equal(t, []string{"finance"}, byField[FieldTags].OldValue)
	assert.Equal(t, FieldModified, byField[FieldStatus].ChangeType)
}

func TestCompareFieldsTagOrderIgnored(t *testing.T) {
	old := FieldSet{Title: "t", Tags: []string{"a", "b", "b"}, Status: "draft"}
	new := FieldSet{Title: "t", Tags: []string{"b", "a"}, Status: "draft"}
	assert.Empty(t, CompareFields(old, new))
}

func TestDiffContentNoChanges(t *testing.T) {
	d := DiffContent("v1", "v1", []byte("same\n"), []byte("same\n"))
	assert.False(t, d.Changed)
	assert.Equal(t, NoChanges, d.Summary)
	assert.Empty(t, d.Unified)
}

func TestDiffContentText(t *testing.T) {
	old := []byte("a\nb\nc\n")
	new := []byte("a\nB\nc\nd\n")

	d := DiffContent("1.0", "1.1", old, new)
	assert.True(t, d.Changed)
	assert.False(t, d.Binary)
	assert.Equal(t, 1, d.Hunks)
	assert.Positive(t, d.Added+d.Deleted+d.Modified)
	assert.Contains(t, d.Unified, "--- 1.0")
	assert.Contains(t, d.Unified, "+++ 1.1")
	assert.Contains(t, d.Summary, "1 hunk(s)")

	again := DiffContent("1.0", "1.1", old, new)
	assert.Equal(t, d, again)
}

func TestDiffContentBinary(t *testing.T) {
	d := DiffContent("1.0", "2.0", []byte{0x00, 0x01}, []byte{0x00, 0x02, 0x03})
	assert.True(t, d.Changed)
	assert.True(t, d.Binary)
	assert.Contains(t, d.Summary, "2 -> 3 bytes")
}
