package query

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ortelius/advisory-index/index"
	"github.com/ortelius/advisory-index/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var ingested = day(2020, time.January, 1)

func advisory(id, module, rng string, published time.Time) *model.Advisory {
	a := model.NewAdvisory()
	a.ID = id
	a.ModuleName = module
	a.VulnerableVersions = rng
	a.PublishDate = published
	a.IngestedAt = ingested
	return a
}

func engineWith(t *testing.T, recs ...*model.Advisory) *Engine {
	t.Helper()
	h := index.NewHolder()
	idx, _ := index.Build(recs)
	h.Publish(idx)
	return NewEngine(h)
}

func ids(recs []*model.Advisory) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func fixture() []*model.Advisory {
	return []*model.Advisory{
		advisory("adv-1", "left-pad", "<1.0.6", day(2016, time.March, 23)),
		advisory("qs-1", "qs", "<1.0.0", day(2014, time.August, 6)),
		advisory("qs-2", "qs", ">=1.0.0 <6.0.2 || >=6.1.0 <6.1.2", day(2017, time.February, 13)),
		advisory("qs-bad", "qs", "garbage range", day(2015, time.May, 1)),
		advisory("undated", "hoek", "<4.2.1", time.Time{}),
		advisory("@hapi/joi-1", "@hapi/joi", "<17.1.1", day(2019, time.June, 1)),
	}
}

func TestCheckVersionLeftPad(t *testing.T) {
	e := engineWith(t, advisory("adv-1", "left-pad", "<1.0.6", day(2016, time.March, 23)))

	assert.Equal(t, []string{"adv-1"}, ids(e.CheckVersion("left-pad", "1.0.5")))
	assert.Empty(t, e.CheckVersion("left-pad", "1.0.6"))
}

func TestCheckVersionIsStrictFilterOfListForModule(t *testing.T) {
	e := engineWith(t, fixture()...)

	versions := []string{"0.0.1", "0.9.9", "1.0.0", "5.9.9", "6.0.2", "6.1.1", "6.1.2", "7.0.0", "6.1.0-beta"}
	for _, v := range versions {
		all := e.ListForModule("qs")
		matched := e.CheckVersion("qs", v)

		// matched is a subsequence of all, in the same order
		i := 0
		for _, m := range matched {
			for i < len(all) && all[i] != m {
				i++
			}
			require.Less(t, i, len(all), "version %s returned a record outside ListForModule", v)
		}
		assert.NotContains(t, ids(matched), "qs-bad")
	}

	assert.Equal(t, []string{"qs-1"}, ids(e.CheckVersion("qs", "0.9.9")))
	assert.Equal(t, []string{"qs-2"}, ids(e.CheckVersion("qs", "6.1.1")))
	assert.Empty(t, e.CheckVersion("qs", "6.0.2"))
	assert.Equal(t, []string{"qs-2", "qs-bad", "qs-1"}, ids(e.ListForModule("qs")))
}

func TestCheckVersionBadInputIsEmpty(t *testing.T) {
	e := engineWith(t, fixture()...)

	for _, v := range []string{"", "1.0", "latest", "not.a.version", "1.0.0.0"} {
		res := e.CheckVersion("left-pad", v)
		assert.NotNil(t, res)
		assert.Empty(t, res, v)
	}
}

func TestUnknownModuleIsEmpty(t *testing.T) {
	e := engineWith(t, fixture()...)

	assert.NotNil(t, e.ListForModule("does-not-exist"))
	assert.Empty(t, e.ListForModule("does-not-exist"))
	assert.Empty(t, e.CheckVersion("does-not-exist", "1.0.0"))
}

func TestListSinceIsMonotonic(t *testing.T) {
	e := engineWith(t, fixture()...)

	cutoffs := []time.Time{
		day(2000, time.January, 1),
		day(2014, time.August, 6),
		day(2016, time.January, 1),
		day(2017, time.February, 13),
		day(2019, time.December, 31),
		day(2030, time.January, 1),
	}
	for i := 1; i < len(cutoffs); i++ {
		older := ids(e.ListSince(cutoffs[i-1]))
		newer := ids(e.ListSince(cutoffs[i]))
		for _, id := range newer {
			assert.Contains(t, older, id)
		}
	}

	// inclusive cutoff, ingestion order, undated records use the ingestion time
	assert.Equal(t, []string{"qs-2", "undated", "@hapi/joi-1"}, ids(e.ListSince(day(2017, time.February, 13))))
	assert.Equal(t, []string{"undated"}, ids(e.ListSince(day(2019, time.December, 31))))
	assert.Empty(t, e.ListSince(day(2030, time.January, 1)))
	assert.Len(t, e.ListSince(time.UnixMilli(0)), 6)
}

func TestEmptyIndexQueries(t *testing.T) {
	e := engineWith(t)

	assert.Empty(t, e.ListForModule("left-pad"))
	assert.Empty(t, e.CheckVersion("left-pad", "1.0.0"))
	assert.Empty(t, e.ListSince(time.Time{}))
	assert.Empty(t, e.ListAll())
	assert.Empty(t, e.TableOfContents())
	assert.Empty(t, e.CheckShrinkwrap(model.Shrinkwrap{}))
	_, ok := e.Latest()
	assert.False(t, ok)
	_, ok = e.Get("adv-1")
	assert.False(t, ok)

	// a holder that never had anything published behaves the same
	fresh := NewEngine(index.NewHolder())
	assert.Empty(t, fresh.CheckVersion("left-pad", "1.0.0"))
}

func TestGetAndLatest(t *testing.T) {
	e := engineWith(t, fixture()...)

	got, ok := e.Get("qs-bad")
	require.True(t, ok)
	assert.Equal(t, "garbage range", got.VulnerableVersions)

	latest, ok := e.Latest()
	require.True(t, ok)
	assert.Equal(t, "undated", latest.ID)
}

func TestTableOfContents(t *testing.T) {
	e := engineWith(t, fixture()...)

	toc := e.TableOfContents()
	years := make([]int, 0, len(toc))
	for _, g := range toc {
		years = append(years, g.Year)
	}
	assert.Equal(t, []int{2020, 2019, 2017, 2016, 2015, 2014}, years)
	assert.Equal(t, []string{"undated"}, ids(toc[0].Advisories))
}

func TestCheckPURL(t *testing.T) {
	e := engineWith(t, fixture()...)

	res, err := e.CheckPURL("pkg:npm/left-pad@1.0.5")
	require.NoError(t, err)
	assert.Equal(t, []string{"adv-1"}, ids(res))

	res, err = e.CheckPURL("pkg:npm/%40hapi/joi@17.1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"@hapi/joi-1"}, ids(res))

	_, err = e.CheckPURL("pkg:npm/left-pad")
	assert.ErrorIs(t, err, ErrMalformedPURL)

	_, err = e.CheckPURL("left-pad")
	assert.ErrorIs(t, err, ErrMalformedPURL)
}

func TestCheckShrinkwrap(t *testing.T) {
	e := engineWith(t, fixture()...)

	sw := model.Shrinkwrap{
		Name:    "app",
		Version: "1.0.0",
		Dependencies: map[string]model.ShrinkwrapDependency{
			"qs": {Version: "6.1.1"},
			"express": {
				Version: "4.0.0",
				Dependencies: map[string]model.ShrinkwrapDependency{
					"qs":       {Version: "0.6.6"},
					"left-pad": {Version: "1.0.6"},
				},
			},
			"left-pad": {Version: "1.0.0"},
		},
	}

	findings := e.CheckShrinkwrap(sw)
	require.Len(t, findings, 3)

	assert.Equal(t, "qs", findings[0].Module)
	assert.Equal(t, []string{"app", "express", "qs"}, findings[0].Path)
	assert.Equal(t, []string{"qs-1"}, ids(findings[0].Advisories))

	assert.Equal(t, "left-pad", findings[1].Module)
	assert.Equal(t, []string{"app", "left-pad"}, findings[1].Path)

	assert.Equal(t, "6.1.1", findings[2].Version)
	assert.Equal(t, []string{"app", "qs"}, findings[2].Path)
}

func TestCutoffFromEpochMillis(t *testing.T) {
	got, err := CutoffFromEpochMillis("1458691200000")
	require.NoError(t, err)
	assert.True(t, got.Equal(day(2016, time.March, 23)))

	for _, bad := range []string{"", "yesterday", "12.5", "1e9"} {
		_, err := CutoffFromEpochMillis(bad)
		assert.ErrorIs(t, err, ErrMalformedCutoff, bad)
	}
}

func TestConcurrentCheckVersionMatchesSequential(t *testing.T) {
	var recs []*model.Advisory
	for m := 0; m < 20; m++ {
		module := fmt.Sprintf("mod-%d", m)
		for a := 0; a < 5; a++ {
			recs = append(recs, advisory(
				fmt.Sprintf("%s-adv-%d", module, a),
				module,
				fmt.Sprintf(">=%d.0.0 <%d.5.0", a, a+1),
				day(2015+a, time.January, 1),
			))
		}
	}
	e := engineWith(t, recs...)

	type q struct{ module, version string }
	var queries []q
	for m := 0; m < 20; m++ {
		for v := 0; v < 8; v++ {
			queries = append(queries, q{fmt.Sprintf("mod-%d", m), fmt.Sprintf("%d.%d.0", v/2, (v%2)*3)})
		}
	}

	baseline := make([][]string, len(queries))
	for i, qq := range queries {
		baseline[i] = ids(e.CheckVersion(qq.module, qq.version))
	}

	var wg sync.WaitGroup
	results := make([][][]string, 16)
	for w := range results {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([][]string, len(queries))
			for i, qq := range queries {
				out[i] = ids(e.CheckVersion(qq.module, qq.version))
			}
			results[w] = out
		}(w)
	}
	wg.Wait()

	for w := range results {
		assert.Equal(t, baseline, results[w], "worker %d diverged", w)
	}
}
