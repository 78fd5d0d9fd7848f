package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/ledger"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/service"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/pkg/dto"
)

const (
	testKey = "secret"
	dim     = 4
)

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
}

func (m *memObjects) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memObjects) DeleteObject(ctx context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memObjects) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return data, m.types[key], nil
}

type testServer struct {
	router  http.Handler
	clock   time.Time
	objects *memObjects
}

func newTestServer(t *testing.T, checks map[string]handlers.Check) *testServer {
	t.Helper()
	return buildTestServer(t, checks, true)
}

func buildTestServer(t *testing.T, checks map[string]handlers.Check, withSnapshots bool) *testServer {
	t.Helper()

	store := storage.NewMemoryStore(dim)
	l := ledger.New(store, time.Minute)
	objects := &memObjects{objects: map[string][]byte{}, types: map[string]string{}}

	ts := &testServer{clock: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), objects: objects}

	identify := service.NewIdentificationService(matcher.New(store, dim), l, 0.5)
	var images handlers.ImageSource
	if withSnapshots {
		identify.Snapshots = service.NewSnapshotStore(objects)
		images = objects
	}
	identify.Now = func() time.Time { return ts.clock }

	if checks == nil {
		checks = map[string]handlers.Check{"store": store.Ping}
	}

	ts.router = NewRouter(RouterConfig{
		APIKey:         testKey,
		LegacyEndpoint: true,
		Identify:       identify,
		Enroll:         service.NewEnrollmentService(store, dim, nil),
		Ledger:         l,
		Images:         images,
		Hub:            ws.NewHub(),
		Checks:         checks,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, withKey bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if withKey {
		req.Header.Set("X-API-Key", testKey)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var d1 = []float64{0.1, 0.2, 0.3, 0.4}

func TestEnrollIdentifyAndList(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{
		IdentityID:  "E001",
		DisplayName: "Ada Lovelace",
		Department:  "R&D",
		Descriptor:  d1,
	}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	enrolled := decode[dto.EnrollResponse](t, w)
	assert.Equal(t, "ok", enrolled.Status)
	assert.Equal(t, 1, enrolled.Samples)
	assert.NotEmpty(t, enrolled.Message)

	image := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	w = ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{Descriptor: d1, Image: image}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	found := decode[map[string]any](t, w)
	assert.Equal(t, true, found["found"])
	assert.Equal(t, "Ada Lovelace", found["name"])
	assert.Equal(t, "E001", found["empId"])
	assert.Equal(t, 0.0, found["distance"], "self-distance is reported, not omitted")

	w = ts.do(t, http.MethodGet, "/v1/attendance?identity_id=E001", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[dto.AttendanceListResponse](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Ada Lovelace", list.Events[0].DisplayName)
	assert.Equal(t, "2024-03-01T08:00:00Z", list.Events[0].Timestamp)

	w = ts.do(t, http.MethodGet, "/v1/attendance/"+list.Events[0].ID.String()+"/image", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "jpeg-bytes", w.Body.String())
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))

	w = ts.do(t, http.MethodGet, "/v1/persons/E001", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	person := decode[dto.PersonResponse](t, w)
	assert.Equal(t, "R&D", person.Department)
	assert.Equal(t, 1, person.Samples)
}

func TestInlineSnapshotIsListedByPath(t *testing.T) {
	ts := buildTestServer(t, nil, false)

	w := ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E001", DisplayName: "Ada", Descriptor: d1}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	w = ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{Descriptor: d1, Image: image}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/v1/attendance", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "base64")
	list := decode[dto.AttendanceListResponse](t, w)
	require.Len(t, list.Events, 1)
	ref := list.Events[0].ImageRef
	assert.Equal(t, "/v1/attendance/"+list.Events[0].ID.String()+"/image", ref)

	w = ts.do(t, http.MethodGet, ref, nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "png-bytes", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Empty(t, ts.objects.objects)
}

func TestAttendanceListNamesEveryIdentity(t *testing.T) {
	ts := newTestServer(t, nil)
	d2 := []float64{1.0, 0.2, 0.3, 0.4}
	ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E001", DisplayName: "Ada", Descriptor: d1}, true)
	ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E002", DisplayName: "Grace", Descriptor: d2}, true)

	for _, d := range [][]float64{d1, d2} {
		w := ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{Descriptor: d}, true)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := ts.do(t, http.MethodGet, "/v1/attendance", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	names := map[string]string{}
	for _, ev := range decode[dto.AttendanceListResponse](t, w).Events {
		names[ev.IdentityID] = ev.DisplayName
	}
	assert.Equal(t, map[string]string{"E001": "Ada", "E002": "Grace"}, names)
}

func TestIdentifyNotFoundIsCollapsed(t *testing.T) {
	ts := newTestServer(t, nil)

	// empty store
	w := ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{Descriptor: d1}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"found":false}`, w.Body.String())

	ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E001", DisplayName: "Ada", Descriptor: d1}, true)

	// stranger, 0.9 away
	w = ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{Descriptor: []float64{1.0, 0.2, 0.3, 0.4}}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"found":false}`, w.Body.String())
}

func TestIdentifyDebouncedStillFound(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E001", DisplayName: "Ada", Descriptor: d1}, true)

	for i := 0; i < 3; i++ {
		ts.clock = ts.clock.Add(5 * time.Second)
		w := ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{Descriptor: d1}, true)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode[map[string]any](t, w)["found"])
	}

	w := ts.do(t, http.MethodGet, "/v1/attendance", nil, true)
	assert.Equal(t, 1, decode[dto.AttendanceListResponse](t, w).Total)
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["error"], "descriptor")

	w = ts.do(t, http.MethodPost, "/v1/identify", dto.IdentifyRequest{Descriptor: []float64{1, 2}}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E001", Descriptor: d1}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[dto.EnrollResponse](t, w)
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "displayName")

	w = ts.do(t, http.MethodGet, "/v1/attendance?from=yesterday", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/persons/nobody", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/v1/attendance/not-a-uuid/image", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReenrollEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E001", DisplayName: "Ada", Descriptor: d1}, true)
	ts.do(t, http.MethodPost, "/v1/enroll", dto.EnrollRequest{IdentityID: "E001", DisplayName: "Ada", Descriptor: []float64{0.4, 0.3, 0.2, 0.1}}, true)

	w := ts.do(t, http.MethodPut, "/v1/persons/E001/descriptors", dto.ReenrollRequest{
		DisplayName: "Ada L.",
		Descriptors: [][]float64{{0.9, 0.9, 0.9, 0.9}},
	}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	person := decode[dto.PersonResponse](t, w)
	assert.Equal(t, 1, person.Samples)
	assert.Equal(t, "Ada L.", person.DisplayName)

	w = ts.do(t, http.MethodGet, "/v1/persons", nil, true)
	assert.Equal(t, 1, decode[dto.PersonListResponse](t, w).Total)
}

func TestAuthRequiredOnV1(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/v1/persons", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLegacyExec(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/exec?action=register", dto.LegacyRequest{Name: "Grace", Descriptor: d1}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	reg := decode[dto.EnrollResponse](t, w)
	assert.Equal(t, "ok", reg.Status)
	assert.Equal(t, "Grace", reg.IdentityID, "name is the identity when no empId is sent")
	assert.NotEmpty(t, reg.Message)

	w = ts.do(t, http.MethodPost, "/exec?action=mark", dto.LegacyRequest{Descriptor: d1}, false)
	require.Equal(t, http.StatusOK, w.Code)
	mark := decode[dto.IdentifyResponse](t, w)
	assert.True(t, mark.Found)
	assert.Equal(t, "Attendance marked for Grace", mark.Message)

	w = ts.do(t, http.MethodPost, "/exec?action=mark", dto.LegacyRequest{Descriptor: []float64{5, 5, 5, 5}}, false)
	mark = decode[dto.IdentifyResponse](t, w)
	assert.False(t, mark.Found)
	assert.Equal(t, "Face not recognized", mark.Message)

	w = ts.do(t, http.MethodPost, "/exec?action=mark", dto.LegacyRequest{}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode[dto.IdentifyResponse](t, w).Message)

	w = ts.do(t, http.MethodPost, "/exec?action=delete", dto.LegacyRequest{}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReadyz(t *testing.T) {
	ts := newTestServer(t, map[string]handlers.Check{
		"store": func(context.Context) error { return nil },
		"nats":  func(context.Context) error { return errors.New("nats not connected") },
	})

	w := ts.do(t, http.MethodGet, "/readyz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "nats not connected", body["checks"].(map[string]any)["nats"])
}
