package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rug-tracer/pkg/model"
	"github.com/rug-tracer/pkg/service"
)

type fakeOps struct {
	subs []model.AlertSubscription
}

func (f *fakeOps) Analyze(_ context.Context, mint string) (*model.LineageResult, error) {
	if mint == "bad" {
		return nil, service.ErrInvalidAddress
	}
	if mint == "" {
		return nil, service.ErrNoResult
	}
	return &model.LineageResult{QueryToken: model.Token{Mint: mint}, FamilySize: 1}, nil
}

func (f *fakeOps) Search(_ context.Context, query string) ([]model.TokenSearchResult, error) {
	if query == "" {
		return nil, service.ErrNoResult
	}
	return []model.TokenSearchResult{{Mint: "M1", Name: query}}, nil
}

func (f *fakeOps) SolFlowReport(_ context.Context, mint string) (*model.SolFlowReport, error) {
	return &model.SolFlowReport{Mint: mint, HopCount: 2}, nil
}

func (f *fakeOps) BundleReport(mint string) (*model.BundleExtractionReport, error) {
	return nil, service.ErrNoResult
}

func (f *fakeOps) Subscribe(chatID int64, subType, value string) error {
	if subType != model.SubTypeDeployer && subType != model.SubTypeNarrative {
		return service.ErrInvalidAddress
	}
	f.subs = append(f.subs, model.AlertSubscription{ChatID: chatID, SubType: subType, Value: value})
	return nil
}

func (f *fakeOps) Unsubscribe(chatID int64, subType, value string) error {
	var kept []model.AlertSubscription
	for _, s := range f.subs {
		if s.ChatID != chatID || s.SubType != subType || s.Value != value {
			kept = append(kept, s)
		}
	}
	f.subs = kept
	return nil
}

func (f *fakeOps) Subscriptions(chatID int64) ([]model.AlertSubscription, error) {
	return f.subs, nil
}

func (f *fakeOps) Health() service.Health {
	return service.Health{Status: "ok", Store: map[string]int64{"intelligence_events": 3}}
}

func testServer(t *testing.T) (*httptest.Server, *fakeOps) {
	t.Helper()
	ops := &fakeOps{}
	ts := httptest.NewServer(New(ops, 0).Mux())
	t.Cleanup(ts.Close)
	return ts, ops
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestAnalyzeEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := get(t, ts.URL+"/api/analyze?mint=MintA")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.LineageResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, "MintA", result.QueryToken.Mint)

	resp, _ = get(t, ts.URL+"/api/analyze?mint=bad")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = get(t, ts.URL+"/api/analyze")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearchEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := get(t, ts.URL+"/api/search?q=dog")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var results []model.TokenSearchResult
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "dog", results[0].Name)
}

func TestFlowAndBundleEndpoints(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := get(t, ts.URL+"/api/flow?mint=MintA")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var flow model.SolFlowReport
	require.NoError(t, json.Unmarshal(body, &flow))
	assert.Equal(t, 2, flow.HopCount)

	resp, _ = get(t, ts.URL+"/api/bundle?mint=MintA")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no fresh report stored")
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := testServer(t)

	resp, body := get(t, ts.URL+"/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h service.Health
	require.NoError(t, json.Unmarshal(body, &h))
	assert.Equal(t, "ok", h.Status)
	assert.EqualValues(t, 3, h.Store["intelligence_events"])
}

func TestSubscriptionLifecycle(t *testing.T) {
	ts, ops := testServer(t)

	payload := `{"chat_id":7,"sub_type":"narrative","value":"dogs"}`
	resp, err := http.Post(ts.URL+"/api/subscriptions", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, ops.subs, 1)

	resp, body := get(t, ts.URL+"/api/subscriptions?chat_id=7")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var subs []model.AlertSubscription
	require.NoError(t, json.Unmarshal(body, &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, "dogs", subs[0].Value)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/subscriptions", strings.NewReader(payload))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, ops.subs)

	resp, _ = get(t, ts.URL+"/api/subscriptions")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "chat_id required")

	resp, err = http.Post(ts.URL+"/api/subscriptions", "application/json", strings.NewReader("{bad"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := testServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/analyze", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
