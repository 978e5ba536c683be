package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voc-insights-go/internal/aggregator"
	"voc-insights-go/internal/dataset"
	"voc-insights-go/internal/pipeline"
	"voc-insights-go/internal/report"
	"voc-insights-go/internal/store"
	"voc-insights-go/internal/summarizer"
	"voc-insights-go/internal/types"
)

const adminPW = "s3cret"

type staticDecryptor struct{ password string }

func (d staticDecryptor) Decrypt(_, password string) (*dataset.Table, error) {
	if password != d.password {
		return nil, dataset.ErrDecryption
	}
	return &dataset.Table{
		Header: dataset.Columns,
		Rows: [][]string{
			{"5", "10", "10", "", "", "", "구독", "구독 문의", "결제가 안 돼요"},
		},
	}, nil
}

// flakyStore fails the first n saves, then writes through.
type flakyStore struct {
	store.Store
	n int
}

func (f *flakyStore) Save(ctx context.Context, snap types.Snapshot) (string, error) {
	if f.n > 0 {
		f.n--
		return "", errors.New("disk full")
	}
	return f.Store.Save(ctx, snap)
}

type fixture struct {
	store   store.Store
	manager *pipeline.Manager
	srv     *httptest.Server
	uploads string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewFileStore(t.TempDir()))
}

func newFixtureWithStore(t *testing.T, st store.Store) *fixture {
	t.Helper()
	runner := pipeline.NewRunner(st, summarizer.Mock{}, aggregator.Options{})
	runner.Decryptor = staticDecryptor{password: "filepw"}
	m := pipeline.NewManager(runner)
	uploads := t.TempDir()

	srv := httptest.NewServer(New(st, m, Options{
		UploadDir:     uploads,
		AdminPassword: adminPW,
		FilePassword:  "filepw",
	}).Handler())
	t.Cleanup(func() {
		srv.Close()
		m.Close()
	})
	return &fixture{store: st, manager: m, srv: srv, uploads: uploads}
}

func (f *fixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string, admin bool) *http.Response {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if admin {
		req.Header.Set(adminHeader, adminPW)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func upload(t *testing.T, fields map[string]string, withFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withFile {
		fw, err := mw.CreateFormFile("file", "voc.xlsx")
		require.NoError(t, err)
		_, err = fw.Write([]byte("encrypted"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func seed(t *testing.T, st store.Store, month string, country types.Country) {
	t.Helper()
	_, err := st.Save(context.Background(), types.Snapshot{
		Month:      month,
		IsJapan:    country.IsJapan(),
		TotalCount: 2,
		RFMSegments: map[string]types.Segment{
			"HHH": {
				DJCount:            2,
				DJCategories:       map[string]types.CategorySummary{"구독": {Count: 2, Summary: "구독 해지 문의가 이어짐."}},
				ListenerCategories: map[string]types.CategorySummary{},
			},
		},
	})
	require.NoError(t, err)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/healthz", nil, "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestListMonths(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/months", nil, "", false)
	assert.Equal(t, []string{}, decode[map[string][]string](t, resp)["keys"])

	seed(t, f.store, "2025-10", types.CountryKR)
	seed(t, f.store, "2025-11", types.CountryKR)
	seed(t, f.store, "2025-11", types.CountryJP)

	resp = f.do(t, http.MethodGet, "/api/months", nil, "", false)
	assert.Equal(t, []string{"2025-11_KR", "2025-11_JP", "2025-10_KR"}, decode[map[string][]string](t, resp)["keys"])

	resp = f.do(t, http.MethodGet, "/api/months?country=jp", nil, "", false)
	assert.Equal(t, []string{"2025-11_JP"}, decode[map[string][]string](t, resp)["keys"])

	resp = f.do(t, http.MethodGet, "/api/months?country=US", nil, "", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMonthAndSegments(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store, "2025-11", types.CountryKR)

	resp := f.do(t, http.MethodGet, "/api/months/2025-11_KR", nil, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[types.Snapshot](t, resp)
	assert.Equal(t, 2, snap.TotalCount)

	resp = f.do(t, http.MethodGet, "/api/months/2025-11_KR/segments", nil, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []report.SegmentTotal{{Code: "HHH", DJCount: 2}}, decode[[]report.SegmentTotal](t, resp))

	resp = f.do(t, http.MethodGet, "/api/months/2025-11_KR/segments/HHH", nil, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[report.SegmentReport](t, resp)
	require.Len(t, rep.DJ.Rows, 1)
	assert.InDelta(t, 1.0, rep.DJ.Rows[0].Share, 1e-9)

	resp = f.do(t, http.MethodGet, "/api/months/2025-11_KR/segments/LLL", nil, "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/months/2025-12_KR", nil, "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/months/bogus", nil, "", false)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminGuard(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store, "2025-11", types.CountryKR)

	resp := f.do(t, http.MethodDelete, "/api/months/2025-11_KR", nil, "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/api/months/2025-11_KR", nil)
	require.NoError(t, err)
	req.Header.Set(adminHeader, "wrong")
	wrong, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wrong.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	ok, err := store.Exists(context.Background(), f.store, "2025-11", types.CountryKR)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	st := store.NewFileStore(t.TempDir())
	m := pipeline.NewManager(pipeline.NewRunner(st, summarizer.Mock{}, aggregator.Options{}))
	defer m.Close()
	h := New(st, m, Options{}).Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/api/months/2025-11_KR", nil)
	req.Header.Set(adminHeader, "")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeleteMonth(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store, "2025-11", types.CountryKR)

	resp := f.do(t, http.MethodDelete, "/api/months/2025-11_KR", nil, "", true)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodDelete, "/api/months/2025-11_KR", nil, "", true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSnapshotRunsJob(t *testing.T) {
	f := newFixture(t)
	body, ct := upload(t, map[string]string{"month": "2025-11", "country": "KR"}, true)

	resp := f.do(t, http.MethodPost, "/api/snapshots", body, ct, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decode[pipeline.Job](t, resp)
	assert.Equal(t, "2025-11_KR", job.Key)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := f.manager.Wait(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSucceeded, done.Status)

	resp = f.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil, "", false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pipeline.StatusSucceeded, decode[pipeline.Job](t, resp).Status)

	entries, err := os.ReadDir(f.uploads)
	require.NoError(t, err)
	assert.Empty(t, entries, "upload must be removed after the job")

	resp = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", nil, "", true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateSnapshotRefusesOverwriteUnlessAsked(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store, "2025-11", types.CountryKR)

	body, ct := upload(t, map[string]string{"month": "2025-11", "country": "KR"}, true)
	resp := f.do(t, http.MethodPost, "/api/snapshots", body, ct, true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body, ct = upload(t, map[string]string{"month": "2025-11", "country": "KR", "overwrite": "true"}, true)
	resp = f.do(t, http.MethodPost, "/api/snapshots", body, ct, true)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCreateSnapshotValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		fields map[string]string
		file   bool
	}{
		{"bad month", map[string]string{"month": "2025-13", "country": "KR"}, true},
		{"bad country", map[string]string{"month": "2025-11", "country": "US"}, true},
		{"no file", map[string]string{"month": "2025-11", "country": "KR"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := upload(t, tc.fields, tc.file)
			resp := f.do(t, http.MethodPost, "/api/snapshots", body, ct, true)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.False(t, f.manager.Busy())
}

func TestRetrySaveAfterStoreFailure(t *testing.T) {
	f := newFixtureWithStore(t, &flakyStore{Store: store.NewFileStore(t.TempDir()), n: 1})
	body, ct := upload(t, map[string]string{"month": "2025-11", "country": "KR"}, true)

	resp := f.do(t, http.MethodPost, "/api/snapshots", body, ct, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := decode[pipeline.Job](t, resp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	failed, err := f.manager.Wait(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, failed.Status)
	assert.True(t, failed.Unsaved)

	resp = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/save", nil, "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/save", nil, "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pipeline.StatusSucceeded, decode[pipeline.Job](t, resp).Status)

	resp = f.do(t, http.MethodGet, "/api/months/2025-11_KR", nil, "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/save", nil, "", true)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/jobs/nope", nil, "", false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
