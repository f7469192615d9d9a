package serve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/medexpand/internal/errs"
	"github.com/crimson-sun/medexpand/internal/inference"
	"github.com/crimson-sun/medexpand/internal/mapping"
)

// preferModel scores a candidate 1 when it is preferred, 0 otherwise.
type preferModel map[string]bool

func (p preferModel) Embed(texts []string) ([][]float32, error) { return nil, nil }
func (p preferModel) TrainMode()                                {}
func (p preferModel) EvalMode()                                 {}

func (p preferModel) Score(sentences []string, candidates [][]string) ([][]float32, error) {
	out := make([][]float32, len(candidates))
	for i, cands := range candidates {
		out[i] = make([]float32, len(cands))
		for j, c := range cands {
			if p[c] {
				out[i][j] = 1
			}
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, load inference.Loader) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := New(inference.NewHandle(load), reg, nil)
	require.NoError(t, err)
	return s, reg
}

func readyLoader(t *testing.T) inference.Loader {
	t.Helper()
	m, err := mapping.New([][2]string{
		{"atriumfibrilleren", "AF"},
		{"ademfrequentie", "AF"},
		{"bloeddruk", "RR"},
	})
	require.NoError(t, err)
	inv := mapping.Invert(m)
	return func(context.Context) (*inference.Runtime, error) {
		return &inference.Runtime{Model: preferModel{"ademfrequentie": true}, Inverse: inv}, nil
	}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestExpandSentence(t *testing.T) {
	s, _ := newTestServer(t, readyLoader(t))

	rec := get(t, s.Handler(), "/expand_sentence?sentence="+url.QueryEscape("lage AF, RR normaal"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "lage ademfrequentie, bloeddruk normaal", body["expanded_sentence"])

	assert.Equal(t, 1.0, testutil.ToFloat64(s.requests.WithLabelValues("200")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.latency))
}

func TestExpandSentenceRequiresSentence(t *testing.T) {
	calls := 0
	s, _ := newTestServer(t, func(context.Context) (*inference.Runtime, error) {
		calls++
		return nil, errors.New("unreachable")
	})

	for _, target := range []string{"/expand_sentence", "/expand_sentence?sentence=", "/expand_sentence?sentence=%20%20"} {
		rec := get(t, s.Handler(), target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	assert.Zero(t, calls, "an invalid request must not load the model")
	assert.Equal(t, 3.0, testutil.ToFloat64(s.requests.WithLabelValues("400")))
}

func TestExpandSentenceWithoutModel(t *testing.T) {
	s, _ := newTestServer(t, func(context.Context) (*inference.Runtime, error) {
		return nil, &errs.ModelNotFoundError{Dir: "models/trained"}
	})

	rec := get(t, s.Handler(), "/expand_sentence?sentence=lage+AF")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "models/trained")
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, readyLoader(t))
	h := s.Handler()

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"model_loaded": false}`, rec.Body.String())

	get(t, h, "/expand_sentence?sentence=AF")
	rec = get(t, h, "/healthz")
	assert.JSONEq(t, `{"model_loaded": true}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, readyLoader(t))
	h := s.Handler()
	get(t, h, "/expand_sentence?sentence=AF")

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "medexpand_expand_requests_total"))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := inference.NewHandle(readyLoader(t))
	_, err := New(h, reg, nil)
	require.NoError(t, err)
	_, err = New(h, reg, nil)
	assert.Error(t, err)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s, _ := newTestServer(t, readyLoader(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	assert.NoError(t, <-done)
}
