package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

func TestReadSkipsBlankURLs(t *testing.T) {
	t.Parallel()

	data := "Name,Link\nAcme,https://a.test/\nBlank,\nBeta, https://b.test/ \n"
	got, err := Read(strings.NewReader(data), "screener.csv", Config{})
	require.NoError(t, err)
	assert.Equal(t, []scrape.Target{
		{URL: "https://a.test/", Source: "screener.csv", Line: 2},
		{URL: "https://b.test/", Source: "screener.csv", Line: 4},
	}, got)
}

func TestReadAssetDirColumn(t *testing.T) {
	t.Parallel()

	data := "link,Folder\nhttps://a.test/,tech\nhttps://b.test/,\n"
	got, err := Read(strings.NewReader(data), "s.csv", Config{AssetDirColumn: "Folder", DefaultAssetDir: "misc"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "tech", got[0].AssetDir)
	assert.Equal(t, "misc", got[1].AssetDir)
}

func TestReadMissingColumn(t *testing.T) {
	t.Parallel()

	_, err := Read(strings.NewReader("Name\nAcme\n"), "s.csv", Config{})
	require.ErrorContains(t, err, `column "Link" not found`)
}

func TestReadEmptyStream(t *testing.T) {
	t.Parallel()

	got, err := Read(strings.NewReader(""), "s.csv", Config{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadFilesConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := filepath.Join(dir, "one.csv")
	second := filepath.Join(dir, "two.csv")
	require.NoError(t, os.WriteFile(first, []byte("Link\nhttps://a.test/\nhttps://b.test/\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("Link\nhttps://a.test/\nhttps://c.test/\n"), 0o600))

	got, err := ReadFiles(Config{}, first, second)
	require.NoError(t, err)
	urls := make([]string, len(got))
	for i, tgt := range got {
		urls[i] = tgt.URL
	}
	assert.Equal(t, []string{"https://a.test/", "https://b.test/", "https://a.test/", "https://c.test/"}, urls, "duplicates are kept")
	assert.Equal(t, second, got[3].Source)
}

func TestReadFilesErrors(t *testing.T) {
	t.Parallel()

	_, err := ReadFiles(Config{})
	require.Error(t, err)

	_, err = ReadFiles(Config{}, filepath.Join(t.TempDir(), "missing.csv"))
	require.ErrorContains(t, err, "open input")
}
