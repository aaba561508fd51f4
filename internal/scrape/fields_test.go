package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	f := NewFields()
	f.Set("Name", "Acme")
	f.Set("Sector", "Tech")
	f.Set("Name", "Acme Corp")

	assert.Equal(t, []string{"Name", "Sector"}, f.Keys())
	v, ok := f.Get("Name")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", v)
	assert.Equal(t, 2, f.Len())
}

func TestFieldsZeroValueUsable(t *testing.T) {
	t.Parallel()

	var f Fields
	f.Set("k", "v")
	assert.Equal(t, []string{"k"}, f.Keys())
}

func TestFieldsCloneIsIndependent(t *testing.T) {
	t.Parallel()

	f := NewFields()
	f.Set("a", "1")
	c := f.Clone()
	c.Set("a", "2")
	c.Set("b", "3")

	v, _ := f.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, f.Len())
}

func TestRecordRowLeadsWithDerivedColumns(t *testing.T) {
	t.Parallel()

	f := NewFields()
	f.Set(ColumnCompanyName, "Acme")
	f.Set(ColumnDescription, "Rockets")
	f.Set("Sector", "Tech")
	logo := "logos/Acme_logo.svg"
	rec := Record{SourceURL: "https://example.com/acme/", AssetPath: &logo, Fields: f}

	assert.Equal(t, []string{ColumnCompanyName, ColumnDescription, ColumnLogoPath, ColumnSourceURL, "Sector"}, rec.Columns())
	row := rec.Row()
	assert.Equal(t, Cell{Column: ColumnLogoPath, Value: logo}, row[2])
	assert.Equal(t, Cell{Column: ColumnSourceURL, Value: "https://example.com/acme/"}, row[3])
	assert.Equal(t, Cell{Column: "Sector", Value: "Tech"}, row[4])

	rec.AssetPath = nil
	assert.True(t, rec.Row()[2].Null)
}

func TestRecordRowTableFieldOverridesDerivedColumn(t *testing.T) {
	t.Parallel()

	f := NewFields()
	f.Set(ColumnCompanyName, "Acme")
	f.Set("Sector", "Tech")
	f.Set(ColumnLogoPath, "from table")
	rec := Record{SourceURL: "https://example.com/acme/", Fields: f}

	assert.Equal(t, []string{ColumnCompanyName, ColumnLogoPath, ColumnSourceURL, "Sector"}, rec.Columns())
	assert.Equal(t, Cell{Column: ColumnLogoPath, Value: "from table"}, rec.Row()[1])
}

func TestRecordCloneCopiesAssetPath(t *testing.T) {
	t.Parallel()

	logo := "a.svg"
	rec := Record{AssetPath: &logo, Fields: NewFields()}
	c := rec.Clone()
	*c.AssetPath = "b.svg"
	assert.Equal(t, "a.svg", *rec.AssetPath)
}
