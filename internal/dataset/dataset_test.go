package dataset

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `,sk_id_curr,target,ext_source_2,amt_credit,flag_own_car
0,100002,1,0.2629,406597.5,False
1,100003,0,0.6222,1293502.5,True
2,100004,0,0.5559,,False
3,100006,0.0,nan,312682.5,False
`

func TestParseCSV(t *testing.T) {
	f, err := ParseCSV(strings.NewReader(sampleCSV), "sk_id_curr", "target")
	require.NoError(t, err)

	assert.Equal(t, []string{"ext_source_2", "amt_credit", "flag_own_car"}, f.Features)
	assert.Equal(t, []string{"100002", "100003", "100004", "100006"}, f.IDs)
	assert.Equal(t, []int{1, 0, 0, 0}, f.Labels)
	assert.Equal(t, 4, f.Len())
	assert.True(t, f.HasLabels())

	assert.Equal(t, 1.0, f.X[1][2])
	assert.True(t, math.IsNaN(f.X[2][1]))
	assert.True(t, math.IsNaN(f.X[3][0]))

	rows := f.Rows()
	require.Len(t, rows, 4)
	assert.Equal(t, "100003", rows[1].ClientID)
	assert.InDelta(t, 0.6222, rows[1].Values["ext_source_2"], 1e-12)
	_, hasLabel := rows[1].Values["target"]
	assert.False(t, hasLabel)
}

func TestParseCSV_WithoutLabel(t *testing.T) {
	f, err := ParseCSV(strings.NewReader("sk_id_curr,a\n1,0.5\n2.0,0.7\n"), "sk_id_curr", "target")
	require.NoError(t, err)
	assert.False(t, f.HasLabels())
	assert.Equal(t, []string{"1", "2"}, f.IDs)
}

func TestParseCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty", "", "header"},
		{"no id column", "id,a\n1,2\n", "identifier column"},
		{"duplicate column", "sk_id_curr,a,a\n1,2,3\n", "duplicate column"},
		{"bad number", "sk_id_curr,a\n1,2\n2,abc\n", "line 3"},
		{"bad label", "sk_id_curr,target,a\n1,2,3\n", "not 0 or 1"},
		{"missing label", "sk_id_curr,target,a\n1,,3\n", "not 0 or 1"},
		{"empty id", "sk_id_curr,a\n,2\n", "empty identifier"},
		{"duplicate id", "sk_id_curr,a\n7,2\n7,3\n", "duplicates line 2"},
		{"ragged", "sk_id_curr,a\n1,2,3\n", "line 2"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tc.body), "sk_id_curr", "target")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSplit_DeterministicAndDisjoint(t *testing.T) {
	var b strings.Builder
	b.WriteString("sk_id_curr,target,x\n")
	for i := 0; i < 101; i++ {
		b.WriteString(strings.Join([]string{strconv.Itoa(100000 + i), strconv.Itoa(i % 2), strconv.Itoa(i)}, ","))
		b.WriteString("\n")
	}
	f, err := ParseCSV(strings.NewReader(b.String()), "sk_id_curr", "target")
	require.NoError(t, err)

	train, test, err := Split(f, DefaultTestFraction, DefaultSeed)
	require.NoError(t, err)
	assert.Equal(t, 21, test.Len())
	assert.Equal(t, 80, train.Len())

	seen := make(map[string]bool)
	for _, id := range append(append([]string{}, train.IDs...), test.IDs...) {
		assert.False(t, seen[id], "id %s in both sets", id)
		seen[id] = true
	}
	assert.Len(t, seen, 101)

	for i, id := range test.IDs {
		orig := indexOf(f.IDs, id)
		assert.Equal(t, f.Labels[orig], test.Labels[i])
		assert.Equal(t, f.X[orig], test.X[i])
	}

	train2, test2, err := Split(f, DefaultTestFraction, DefaultSeed)
	require.NoError(t, err)
	assert.Equal(t, train.IDs, train2.IDs)
	assert.Equal(t, test.IDs, test2.IDs)

	_, other, err := Split(f, DefaultTestFraction, 7)
	require.NoError(t, err)
	assert.NotEqual(t, test.IDs, other.IDs)

	_, _, err = Split(f, 0, DefaultSeed)
	assert.Error(t, err)
	_, _, err = Split(f.Subset([]int{0}), 0.5, DefaultSeed)
	assert.Error(t, err)
}

func TestDirectLink(t *testing.T) {
	assert.Equal(t,
		"https://www.dropbox.com/scl/fi/abc/df_cleaned.csv?dl=1&rlkey=s3f",
		DirectLink("https://www.dropbox.com/scl/fi/abc/df_cleaned.csv?rlkey=s3f&dl=0"))
	assert.Equal(t, "https://example.com/data.csv", DirectLink("https://example.com/data.csv"))
	assert.Equal(t, "https://example.com/data.csv?dl=1", DirectLink("https://example.com/data.csv?dl=1"))
}

func TestFetcher_HTTP(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.csv" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(sampleCSV))
	}))
	defer srv.Close()

	f := NewFetcher(5 * time.Second)
	data, err := f.Fetch(context.Background(), srv.URL+"/df_cleaned.csv?dl=0")
	require.NoError(t, err)
	assert.Equal(t, sampleCSV, string(data))
	assert.Equal(t, "dl=1", gotQuery)

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, srv.URL+"/df_cleaned.csv")
	assert.Error(t, err)
}

func TestFetcher_Local(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))

	f := NewFetcher(0)
	for _, link := range []string{path, "file://" + path} {
		data, err := f.Fetch(context.Background(), link)
		require.NoError(t, err)
		assert.Equal(t, sampleCSV, string(data))
	}

	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), "")
	assert.Error(t, err)
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
