package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillforge/quillforge/pkg/auth"
	"github.com/quillforge/quillforge/pkg/events"
	"github.com/quillforge/quillforge/pkg/queue"
	"github.com/quillforge/quillforge/pkg/security"
	"github.com/quillforge/quillforge/pkg/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	users := newFakeUserRepo()
	workspaces := newFakeWorkspaceRepo()
	sessionRepo := newFakeSessionRepo()
	documents := newFakeDocumentRepo()
	transformations := newFakeTransformationRepo()
	presets := newFakePresetRepo()

	issuer := auth.NewTokenIssuer("test-secret", 15*time.Minute)
	sessions := auth.NewSessionStore(sessionRepo, issuer, 30*24*time.Hour)
	limiter := auth.NewRateLimiter(map[string]int{}, time.Minute)
	gateway := auth.NewGateway(issuer, limiter)
	hasher := security.NewPasswordHasher(4)

	authSvc := service.NewAuthService(users, workspaces, sessions, gateway, hasher)
	documentSvc := service.NewDocumentService(documents, newFakeBlobStore())
	transformationSvc := service.NewTransformationService(
		transformations, documents, presets,
		queue.NewMemoryQueue(queue.DefaultOptions()), events.NewMemoryEventBus(),
	)
	presetSvc := service.NewPresetService(presets)

	return NewServer(authSvc, documentSvc, transformationSvc, presetSvc, nil, nil, gateway, nil)
}

func registerAndLogin(t *testing.T, ts *httptest.Server, email string) tokenPairResponse {
	t.Helper()

	body, _ := json.Marshal(registerRequest{Email: email, Password: "hunter2pass", WorkspaceName: "Acme"})
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	body, _ = json.Marshal(loginRequest{Email: email, Password: "hunter2pass"})
	resp, err = http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var pair tokenPairResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	return pair
}

func authedRequest(t *testing.T, method, url, token string, body []byte) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRouter_RegisterLoginMe_EndToEnd(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestServer(t)))
	defer ts.Close()

	pair := registerAndLogin(t, ts, "a@example.com")
	assert.NotEmpty(t, pair.Access)

	req := authedRequest(t, http.MethodGet, ts.URL+"/api/auth/me", pair.Access, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var me meResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.NotNil(t, me.User)
}

func TestRouter_ProtectedRoute_MissingToken_Returns401(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestServer(t)))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/documents")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_UploadAndFetchDocument(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestServer(t)))
	defer ts.Close()

	pair := registerAndLogin(t, ts, "b@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "My Document"))
	part, err := mw.CreateFormFile("file", "doc.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello world"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/documents/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+pair.Access)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created documentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotNil(t, created.Document)

	listReq := authedRequest(t, http.MethodGet, ts.URL+"/api/documents", pair.Access, nil)
	listResp, err := http.DefaultClient.Do(listReq)
	require.NoError(t, err)
	defer listResp.Body.Close()

	var list documentsListResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)
}

func TestRouter_CreateTransformation_InvalidParameters_Returns400(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestServer(t)))
	defer ts.Close()

	pair := registerAndLogin(t, ts, "c@example.com")

	body, _ := json.Marshal(createTransformationRequest{
		Kind:       "summary",
		Parameters: map[string]interface{}{"length": 1},
	})
	req := authedRequest(t, http.MethodPost, ts.URL+"/api/transformations", pair.Access, body)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_CreateAndCancelTransformation(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestServer(t)))
	defer ts.Close()

	pair := registerAndLogin(t, ts, "d@example.com")

	body, _ := json.Marshal(createTransformationRequest{
		Kind:       "summary",
		Parameters: map[string]interface{}{"length": 200},
	})
	req := authedRequest(t, http.MethodPost, ts.URL+"/api/transformations", pair.Access, body)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created transformationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	createdMap := created.Transformation.(map[string]interface{})
	id := createdMap["id"].(string)

	cancelReq := authedRequest(t, http.MethodPost, ts.URL+"/api/transformations/"+id+"/cancel", pair.Access, nil)
	cancelResp, err := http.DefaultClient.Do(cancelReq)
	require.NoError(t, err)
	defer cancelResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)
}

func TestRouter_Healthz(t *testing.T) {
	ts := httptest.NewServer(NewRouter(newTestServer(t)))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
