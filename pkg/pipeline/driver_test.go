package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nthiel/jobwatch/pkg/store"
)

func TestDedupPreserveOrderDropsDuplicatesAndEmpties(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, dedupPreserveOrder([]string{"a", "", "b", "a", "b"}))
}

func TestClampSliceCapsLength(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, clampSlice([]string{"a", "b", "c"}, 2))
	require.Equal(t, []string{"a"}, clampSlice([]string{"a"}, 5))
}

func TestExpandCacheKeyIsStableAndTitleSensitive(t *testing.T) {
	a := expandCacheKey([]string{"Engineer"}, "resume text")
	b := expandCacheKey([]string{"Engineer"}, "resume text")
	c := expandCacheKey([]string{"Manager"}, "resume text")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestCollectionCountryAllRemoteShareOneCountry(t *testing.T) {
	locs := []store.Location{
		{Type: "remote", Country: "US"},
		{Type: "remote", Country: "US"},
	}
	require.Equal(t, "US", collectionCountry(locs))
}

func TestCollectionCountryOmittedWhenCountriesDiffer(t *testing.T) {
	locs := []store.Location{
		{Type: "remote", Country: "US"},
		{Type: "remote", Country: "CA"},
	}
	require.Equal(t, "", collectionCountry(locs))
}

func TestCollectionCountryOmittedWhenNoRemoteLocations(t *testing.T) {
	locs := []store.Location{{Type: "physical", City: "Austin"}}
	require.Equal(t, "", collectionCountry(locs))
}

func TestCollectionLocationVariantsSkipsRemote(t *testing.T) {
	locs := []store.Location{
		{Type: "remote"},
		{Type: "physical", Display: "Austin, TX"},
		{Type: "physical", City: "Denver"},
	}
	require.Equal(t, []string{"Austin, TX", "Denver"}, collectionLocationVariants(locs))
}

func TestRetainMatchesFiltersByMinScore(t *testing.T) {
	matches := []*store.JobMatch{{ID: "1", Score: 40}, {ID: "2", Score: 75}}
	retained := retainMatches(matches, 60)
	require.Len(t, retained, 1)
	require.Equal(t, "2", retained[0].ID)
}
