package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/scraper"
	"github.com/nthiel/jobwatch/pkg/store"
)

func TestCleanTextCollapsesWhitespaceAndStripsZeroWidth(t *testing.T) {
	require.Equal(t, "Senior Engineer", cleanText("Senior​   Engineer\n\t"))
}

func TestContentHashIsStableAndCaseInsensitive(t *testing.T) {
	a := contentHash("Senior Engineer", "Acme Corp", "Build things.")
	b := contentHash("senior engineer", "acme corp", "Build things.")
	require.Equal(t, a, b)
	require.Len(t, a, 16)
}

func TestContentHashTruncatesDescriptionAt500Runes(t *testing.T) {
	long := make([]rune, 600)
	for i := range long {
		long[i] = 'a'
	}
	short := make([]rune, 500)
	for i := range short {
		short[i] = 'a'
	}
	require.Equal(t, contentHash("t", "c", string(short)), contentHash("t", "c", string(long)))
}

func TestLocationPassesRemoteRequiresUserRemoteLocation(t *testing.T) {
	locs := []store.Location{{Type: "remote", Country: "US"}}
	require.True(t, locationPasses(true, "Anywhere", locs))
	require.False(t, locationPasses(true, "Anywhere", nil))
}

func TestLocationPassesPhysicalMatchesSearchVariant(t *testing.T) {
	locs := []store.Location{{Type: "physical", City: "Austin", State: "TX", SearchVariants: []string{"Austin, TX"}}}
	require.True(t, locationPasses(false, "Austin, TX, USA", locs))
	require.False(t, locationPasses(false, "Denver, CO", locs))
}

func TestLocationPassesRejectsWhenNoLocationsConfigured(t *testing.T) {
	require.False(t, locationPasses(false, "Austin, TX", nil))
}

func TestNormalizeDeduplicatesByContentHashKeepingFirst(t *testing.T) {
	sub := &store.Subscription{
		NormalizedLocations: store.JSONColumn[[]store.Location]{Value: []store.Location{
			{Type: "remote", Country: "US"},
		}},
	}
	postings := []scraper.Posting{
		{Title: "Engineer", Company: "Acme", Description: "desc", IsRemote: true, JobURL: "a"},
		{Title: "engineer", Company: "acme", Description: "desc", IsRemote: true, JobURL: "b"},
	}
	result := normalize(postings, sub, "scraper")
	require.Equal(t, 2, result.RawCount)
	require.Equal(t, 1, result.UniqueCount)
	require.Equal(t, "a", result.Jobs[0].SourceID)
}

func TestNormalizeAppliesExcludedTitlesFilter(t *testing.T) {
	sub := &store.Subscription{
		ExcludedTitles: store.JSONColumn[[]string]{Value: []string{"staff"}},
		NormalizedLocations: store.JSONColumn[[]store.Location]{Value: []store.Location{
			{Type: "remote", Country: "US"},
		}},
	}
	postings := []scraper.Posting{
		{Title: "Staff Engineer", Company: "Acme", IsRemote: true, JobURL: "a"},
		{Title: "Engineer II", Company: "Acme", IsRemote: true, JobURL: "b"},
	}
	result := normalize(postings, sub, "scraper")
	require.Equal(t, 1, result.UniqueCount)
	require.Equal(t, "Engineer II", result.Jobs[0].Title)
}

func TestNormalizeAppliesExcludedCompaniesFilter(t *testing.T) {
	sub := &store.Subscription{
		ExcludedCompanies: store.JSONColumn[[]string]{Value: []string{"bigcorp"}},
		NormalizedLocations: store.JSONColumn[[]store.Location]{Value: []store.Location{
			{Type: "remote", Country: "US"},
		}},
	}
	postings := []scraper.Posting{
		{Title: "Engineer", Company: "BigCorp Inc", IsRemote: true, JobURL: "a"},
		{Title: "Engineer", Company: "Small Co", IsRemote: true, JobURL: "b"},
	}
	result := normalize(postings, sub, "scraper")
	require.Equal(t, 1, result.UniqueCount)
	require.Equal(t, "Small Co", result.Jobs[0].Company)
}

func TestNormalizeRejectsPostingsFailingLocationFilter(t *testing.T) {
	sub := &store.Subscription{
		NormalizedLocations: store.JSONColumn[[]store.Location]{Value: []store.Location{
			{Type: "physical", City: "Austin"},
		}},
	}
	postings := []scraper.Posting{
		{Title: "Engineer", Company: "Acme", Location: "Austin, TX", JobURL: "a"},
		{Title: "Engineer", Company: "Acme", Location: "Denver, CO", JobURL: "b"},
	}
	result := normalize(postings, sub, "scraper")
	require.Equal(t, 1, result.UniqueCount)
	require.Equal(t, "a", result.Jobs[0].SourceID)
}
