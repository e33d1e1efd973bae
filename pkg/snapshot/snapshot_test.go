package snapshot

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raterudder/loadshed/pkg/log"
	"github.com/raterudder/loadshed/pkg/sepush"
	"github.com/raterudder/loadshed/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

const (
	statusBody    = `{"status": {"eskom": {"name": "National", "stage": "2", "stage_updated": "2024-06-01T08:00:00.123456+02:00", "next_stages": []}, "capetown": {"name": "Cape Town", "stage": "1", "next_stages": []}}}`
	allowanceBody = `{"allowance": {"count": 10, "limit": 50, "type": "daily"}}`
	areaBody      = `{
		"events": [{"start": "2024-06-01T22:00:00+02:00", "end": "2024-06-02T00:30:00+02:00", "note": "Stage 2"}],
		"info": {"name": "Fourways (10)", "region": "Eskom Direct, City of Johannesburg, Gauteng"},
		"schedule": {"days": [
			{"date": "2024-06-01", "name": "Saturday", "stages": [["22:00-00:30"], ["14:00-16:30", "22:00-00:30"]]},
			{"date": "2024-06-02", "name": "Sunday", "stages": [["bogus"]]}
		], "source": "https://loadshedding.eskom.co.za/"}
	}`
)

type fakeUpstream struct {
	status, allowance, area http.HandlerFunc
	requests                atomic.Int32
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	write := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(body)) }
	}
	switch r.URL.Path {
	case sepush.EndpointStatus:
		orDefault(f.status, write(statusBody))(w, r)
	case sepush.EndpointAllowance:
		orDefault(f.allowance, write(allowanceBody))(w, r)
	case sepush.EndpointArea:
		orDefault(f.area, write(areaBody))(w, r)
	case sepush.EndpointAreasSearch:
		if r.URL.Query().Get("text") == "nowhere" {
			_, _ = w.Write([]byte(`{"areas": []}`))
			return
		}
		_, _ = w.Write([]byte(`{"areas": [{"id": "eskde-10-fourways", "name": "Fourways (10)", "region": "Gauteng"}]}`))
	default:
		http.NotFound(w, r)
	}
}

func orDefault(h, def http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return def
}

func newAggregator(t *testing.T, up *fakeUpstream) *Aggregator {
	t.Helper()
	ts := httptest.NewServer(up)
	t.Cleanup(ts.Close)
	return NewAggregator(sepush.NewClient(ts.URL, 2*time.Second))
}

func TestAggregatorFetch(t *testing.T) {
	creds := types.NewCredentials("key", "eskde-10-fourways")

	t.Run("Success", func(t *testing.T) {
		up := &fakeUpstream{}
		a := newAggregator(t, up)
		fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		a.now = func() time.Time { return fixed }

		snap, err := a.Fetch(context.Background(), creds)
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.EqualValues(t, 3, up.requests.Load(), "exactly one request per sub-query")

		assert.Equal(t, 40, snap.Allowance.Remaining())
		assert.Equal(t, 2, snap.StageFor(types.StatusAreaNational))
		assert.Equal(t, 1, snap.StageFor(types.StatusAreaCapeTown))
		assert.Equal(t, 2, snap.LocalStage())
		assert.Equal(t, fixed, snap.FetchedAt)

		// the bogus range on the second day is skipped, the rest survive
		require.Len(t, snap.Schedule, 3)
		assert.Equal(t, "Stage 1", snap.Schedule[0].Label)
		assert.Equal(t, "2024-06-02T00:30:00+02:00", snap.Schedule[0].End.Format(time.RFC3339))
		assert.Equal(t, "Stage 2", snap.Schedule[2].Label)
	})

	failures := map[string]func(up *fakeUpstream, h http.HandlerFunc){
		"Status":    func(up *fakeUpstream, h http.HandlerFunc) { up.status = h },
		"Allowance": func(up *fakeUpstream, h http.HandlerFunc) { up.allowance = h },
		"Area":      func(up *fakeUpstream, h http.HandlerFunc) { up.area = h },
	}
	for name, set := range failures {
		t.Run("Fails_"+name, func(t *testing.T) {
			up := &fakeUpstream{}
			set(up, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})
			snap, err := newAggregator(t, up).Fetch(context.Background(), creds)
			require.Error(t, err)
			assert.ErrorIs(t, err, sepush.ErrNetwork)
			assert.Nil(t, snap, "no partial snapshot is returned")
		})
	}

	t.Run("AuthFailurePropagates", func(t *testing.T) {
		up := &fakeUpstream{allowance: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}}
		snap, err := newAggregator(t, up).Fetch(context.Background(), creds)
		assert.ErrorIs(t, err, sepush.ErrAuth)
		assert.Nil(t, snap)
	})

	t.Run("ShortCircuitsOnFailure", func(t *testing.T) {
		up := &fakeUpstream{
			status: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			area: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(5 * time.Second):
				}
			},
		}
		a := newAggregator(t, up)

		start := time.Now()
		snap, err := a.Fetch(context.Background(), creds)
		assert.ErrorIs(t, err, sepush.ErrAuth)
		assert.Nil(t, snap)
		assert.Less(t, time.Since(start), time.Second, "slow sub-query is canceled")
	})

	t.Run("MissingArea", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := log.With(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

		up := &fakeUpstream{}
		snap, err := newAggregator(t, up).Fetch(ctx, types.NewCredentials("secret-key", ""))
		require.ErrorIs(t, err, ErrMissingAreaID)
		assert.Nil(t, snap)
		assert.EqualValues(t, 0, up.requests.Load())

		// logged once here since no upstream request was made
		out := buf.String()
		assert.Equal(t, 1, strings.Count(out, "cannot fetch snapshot without an area id"))
		assert.Contains(t, out, `"level":"ERROR"`)
		assert.NotContains(t, out, "secret-key")
	})
}

func TestAggregatorSearchAreas(t *testing.T) {
	a := newAggregator(t, &fakeUpstream{})

	areas, err := a.SearchAreas(context.Background(), "key", "fourways")
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Equal(t, types.Area{ID: "eskde-10-fourways", Name: "Fourways (10)", Region: "Gauteng"}, areas[0])

	areas, err = a.SearchAreas(context.Background(), "key", "nowhere")
	require.NoError(t, err)
	assert.Empty(t, areas)
	assert.NotNil(t, areas)
}

func TestAggregatorValidateCredentials(t *testing.T) {
	up := &fakeUpstream{allowance: func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Token") != "good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(allowanceBody))
	}}
	a := newAggregator(t, up)

	ok, err := a.ValidateCredentials(context.Background(), "good")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.ValidateCredentials(context.Background(), "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}
