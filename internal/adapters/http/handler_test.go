package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncfm/resolver/internal/app"
	"github.com/syncfm/resolver/internal/config"
	"github.com/syncfm/resolver/internal/domain"
	"github.com/syncfm/resolver/internal/ports"
	"github.com/syncfm/resolver/internal/ratelimit"
)

// -- Mock conversion service --------------------------------------------------

type mockConversionService struct {
	mu sync.Mutex

	result     *mockResult
	resolution ports.ShortcodeResolution

	lastURL    string
	lastTarget domain.Service
}

type mockResult struct {
	convert *domain.ConvertResult
	entity  *domain.Entity
	outcome *domain.Outcome
	err     error
}

func (m *mockConversionService) DetectAndConvert(_ context.Context, rawURL string, target domain.Service) (*domain.ConvertResult, error) {
	m.mu.Lock()
	m.lastURL = rawURL
	m.lastTarget = target
	m.mu.Unlock()
	return m.result.convert, m.result.err
}

func (m *mockConversionService) Convert(_ context.Context, req domain.ConvertRequest) (*domain.ConvertResult, error) {
	if req.Service == "" || req.Input == "" || req.Type == "" {
		return nil, app.ErrMissingFields
	}
	return m.result.convert, m.result.err
}

func (m *mockConversionService) ConvertBatch(ctx context.Context, reqs []domain.ConvertRequest) []ports.BatchItem {
	items := make([]ports.BatchItem, len(reqs))
	for i, req := range reqs {
		result, err := m.Convert(ctx, req)
		items[i] = ports.BatchItem{Request: req, Result: result}
		if err != nil {
			items[i].Result = nil
			items[i].Error = err.Error()
		}
	}
	return items
}

func (m *mockConversionService) GetEntity(_ context.Context, _ string, _ domain.EntityType) (*domain.Entity, *domain.Outcome, error) {
	return m.result.entity, m.result.outcome, m.result.err
}

func (m *mockConversionService) ResolveShortcode(_ context.Context, _ string) ports.ShortcodeResolution {
	return m.resolution
}

// -- Mock credential store ----------------------------------------------------

type mockCredStore struct {
	mu      sync.Mutex
	records []domain.APIKeyRecord
	err     error
	touched []string
}

func (m *mockCredStore) ListActive(_ context.Context) ([]domain.APIKeyRecord, error) {
	return m.records, m.err
}

func (m *mockCredStore) Insert(_ context.Context, rec domain.APIKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockCredStore) Touch(_ context.Context, id string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, id)
	return nil
}

func (m *mockCredStore) Deactivate(_ context.Context, id string) error {
	for _, rec := range m.records {
		if rec.ID == id {
			return nil
		}
	}
	return ports.ErrNotFound
}

// -- Mock counter store -------------------------------------------------------

type mockCounterStore struct {
	mu       sync.Mutex
	counters map[string]int64
	err      error
}

func (m *mockCounterStore) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[key]++
	return m.counters[key], nil
}

func (m *mockCounterStore) GetCount(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key], m.err
}

func (m *mockCounterStore) DeleteMatching(_ context.Context, _ string) (int, error) {
	return 0, m.err
}

// -- Helpers -----------------------------------------------------------------

func testConfig() *config.Config {
	return &config.Config{
		RootDomain:               "localhost:3000",
		DefaultConversionService: domain.ServiceSpotify,
		RateLimitWindow:          time.Hour,
		TierLimits: map[domain.Tier]int{
			domain.TierFree:       100,
			domain.TierPro:        1000,
			domain.TierEnterprise: 10000,
		},
	}
}

func setupRouter(svc *mockConversionService, creds *mockCredStore, counters *mockCounterStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	limiter := ratelimit.New(counters, zerolog.Nop())
	h := NewHandler(svc, creds, limiter, testConfig(), zerolog.Nop())
	h.RegisterRoutes(r)
	return r
}

func okConvertResult() *mockResult {
	u := "https://music.youtube.com/watch?v=yt-1"
	return &mockResult{
		convert: &domain.ConvertResult{
			URL: &u,
			Outcome: &domain.Outcome{
				AvailableServices: []domain.Service{domain.ServiceYTMusic},
				MissingServices:   []domain.Service{domain.ServiceAppleMusic},
				HasPartialSuccess: true,
			},
		},
	}
}

// -- Tests -------------------------------------------------------------------

func TestHealth(t *testing.T) {
	r := setupRouter(&mockConversionService{result: &mockResult{}}, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDetect_Success(t *testing.T) {
	svc := &mockConversionService{result: okConvertResult()}
	r := setupRouter(svc, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/detect?url=https%3A%2F%2Fopen.spotify.com%2Ftrack%2Fabc&target=ytmusic", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ServiceYTMusic, svc.lastTarget)

	var result domain.ConvertResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.NotNil(t, result.URL)
}

func TestDetect_MissingURL(t *testing.T) {
	r := setupRouter(&mockConversionService{result: &mockResult{}}, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/detect", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "missing_fields", resp.Error)
}

func TestDetect_UnresolvableIs404(t *testing.T) {
	svc := &mockConversionService{result: &mockResult{err: ports.ErrUnresolvable}}
	r := setupRouter(svc, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/detect?url=https%3A%2F%2Fexample.com", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConvert_Success(t *testing.T) {
	r := setupRouter(&mockConversionService{result: okConvertResult()}, &mockCredStore{}, &mockCounterStore{})

	body, _ := json.Marshal(domain.ConvertRequest{
		Service: "ytmusic",
		Input:   "https://open.spotify.com/track/abc",
		Type:    "song",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/convert", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConvert_MissingFields(t *testing.T) {
	r := setupRouter(&mockConversionService{result: okConvertResult()}, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/convert", bytes.NewReader([]byte(`{"service":"spotify"}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "missing_fields", resp.Error)
}

func TestConvertBatch_TooLarge(t *testing.T) {
	r := setupRouter(&mockConversionService{result: okConvertResult()}, &mockCredStore{}, &mockCounterStore{})

	reqs := make([]domain.ConvertRequest, 51)
	for i := range reqs {
		reqs[i] = domain.ConvertRequest{Service: "spotify", Input: "x", Type: "song"}
	}
	body, _ := json.Marshal(BatchRequest{Requests: reqs})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/convert/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEntity_NotFound(t *testing.T) {
	svc := &mockConversionService{result: &mockResult{err: ports.ErrNotFound}}
	r := setupRouter(svc, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/entities?syncId=ghost&type=song", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetEntity_InvalidType(t *testing.T) {
	r := setupRouter(&mockConversionService{result: &mockResult{}}, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/entities?syncId=x&type=podcast", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_type", resp.Error)
}

func TestResolveService_Redirects(t *testing.T) {
	svc := &mockConversionService{result: okConvertResult()}
	r := setupRouter(svc, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/to/ytmusic?url=https%3A%2F%2Fopen.spotify.com%2Ftrack%2Fabc", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://music.youtube.com/watch?v=yt-1", w.Header().Get("Location"))
}

func TestResolveService_IdentityAliasReturnsJSON(t *testing.T) {
	svc := &mockConversionService{result: okConvertResult()}
	r := setupRouter(svc, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/to/syncfm?url=https%3A%2F%2Fopen.spotify.com%2Ftrack%2Fabc", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.ServiceSpotify, svc.lastTarget, "identity alias coerces to the default provider")

	var result domain.ConvertResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.NotNil(t, result.URL)
}

func TestResolveService_SoftMissReturnsJSONNullURL(t *testing.T) {
	svc := &mockConversionService{result: &mockResult{
		convert: &domain.ConvertResult{
			URL:     nil,
			Warning: &domain.ConversionWarning{Message: "no equivalent found yet"},
		},
	}}
	r := setupRouter(svc, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/to/spotify?url=https%3A%2F%2Fmusic.youtube.com%2Fwatch%3Fv%3Dx", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"url":null`)
}

func TestResolveService_UnknownService(t *testing.T) {
	r := setupRouter(&mockConversionService{result: &mockResult{}}, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/to/deezer?url=https%3A%2F%2Fx", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResolveShortcode_AlwaysRedirects(t *testing.T) {
	svc := &mockConversionService{
		result:     &mockResult{},
		resolution: ports.ShortcodeResolution{Location: "/song/sync-1"},
	}
	r := setupRouter(svc, &mockCredStore{}, &mockCounterStore{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/s/soabc", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/song/sync-1", w.Header().Get("Location"))
}

func TestRateLimitStatus(t *testing.T) {
	counters := &mockCounterStore{}
	r := setupRouter(&mockConversionService{result: okConvertResult()}, &mockCredStore{}, counters)

	// One conversion consumes quota, then status must not.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/detect?url=https%3A%2F%2Fx", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var res ratelimit.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 100, res.Limit)
	// The status call itself consumed one unit (middleware), so two total.
	assert.Equal(t, 98, res.Remaining)
}

func TestCreateKey_RequiresAuth(t *testing.T) {
	r := setupRouter(&mockConversionService{result: &mockResult{}}, &mockCredStore{}, &mockCounterStore{})

	body, _ := json.Marshal(CreateKeyRequest{Name: "ci"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/keys", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
