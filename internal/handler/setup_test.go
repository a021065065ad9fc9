package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xxxsen/common/webapi"

	"github.com/xxxsen/docpipe/internal/config"
	"github.com/xxxsen/docpipe/internal/filestore"
	"github.com/xxxsen/docpipe/internal/handler"
	"github.com/xxxsen/docpipe/internal/middleware"
	"github.com/xxxsen/docpipe/internal/repo"
	"github.com/xxxsen/docpipe/internal/service"
	"github.com/xxxsen/docpipe/internal/testutil"
)

type testRig struct {
	router http.Handler
	docs   *repo.DocumentRepo
	jobs   *repo.JobRepo
	chunks *repo.ChunkRepo
}

func setupRouter(t *testing.T) (*testRig, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, cleanup := testutil.OpenTestDB(t)
	docRepo := repo.NewDocumentRepo(conn)
	jobRepo := repo.NewJobRepo(conn, 0)
	chunkRepo := repo.NewChunkRepo(conn)

	store, err := filestore.New(config.FileStoreConfig{
		Type: "local",
		Data: map[string]interface{}{"dir": t.TempDir()},
	})
	require.NoError(t, err)

	intake := service.NewIntakeService(docRepo, chunkRepo, jobRepo, store)
	deps := handler.RouterDeps{
		Documents: handler.NewDocumentHandler(intake, docRepo, chunkRepo),
		Webhooks:  handler.NewWebhookHandler(jobRepo),
		Ops:       handler.NewOpsHandler(jobRepo, 15*time.Minute),
	}

	engine, err := webapi.NewEngine(
		"/api",
		"",
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(nil),
		),
	)
	require.NoError(t, err)

	return &testRig{
		router: engine,
		docs:   docRepo,
		jobs:   jobRepo,
		chunks: chunkRepo,
	}, cleanup
}

type apiResponse struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

func (r apiResponse) dataMap() map[string]interface{} {
	m, _ := r.Data.(map[string]interface{})
	return m
}

var clientSeq int

// uploadFile posts a multipart upload from a unique client address so the
// per-ip rate limit never interferes across calls.
func uploadFile(t *testing.T, rig *testRig, userID, filename string, content []byte) apiResponse {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("user_id", userID))
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	clientSeq++
	req.RemoteAddr = fmt.Sprintf("10.0.%d.%d:4321", clientSeq/250, clientSeq%250)
	resp := httptest.NewRecorder()
	rig.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var result apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func getJSON(t *testing.T, rig *testRig, path string) apiResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	rig.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func postJSON(t *testing.T, rig *testRig, path string, payload interface{}) apiResponse {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	rig.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result apiResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}
