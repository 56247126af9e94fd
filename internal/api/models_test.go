package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/whisper-local/internal/models"
)

// writeModelFixture 在模型目录里放置一个假的GGML文件
func writeModelFixture(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("ggml"), 0644))
}

func newModelsRouter(t *testing.T, dir string) *gin.Engine {
	t.Helper()
	deps := newTestDeps(t, scriptedEngine())
	deps.Store = models.NewStore(dir)
	return NewRouter(deps)
}

func TestHandleListModels_Empty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := newModelsRouter(t, t.TempDir())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/whisper/model", nil))

	require.Equal(t, http.StatusOK, w.Code)
	// 空目录返回空列表而不是 null
	assert.Contains(t, w.Body.String(), `"models":[]`)

	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "list", resp.Object)
	assert.Empty(t, resp.Models)
}

func TestHandleListModels_Sorted(t *testing.T) {
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	writeModelFixture(t, dir, "ggml-small.bin")
	writeModelFixture(t, dir, "ggml-base.bin")
	writeModelFixture(t, dir, "notes.txt") // 非模型文件会被过滤

	r := newModelsRouter(t, dir)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/whisper/model", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 2)
	assert.Equal(t, "base", resp.Models[0].ID)
	assert.Equal(t, "small", resp.Models[1].ID)
	assert.Equal(t, "model", resp.Models[0].Object)
}

func TestHandleGetModel_Found(t *testing.T) {
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	writeModelFixture(t, dir, "ggml-base.bin")

	r := newModelsRouter(t, dir)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/whisper/model/base", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var model models.Model
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &model))
	assert.Equal(t, "base", model.ID)
	assert.Equal(t, filepath.Join(dir, "ggml-base.bin"), model.Path)
}

func TestHandleGetModel_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := newModelsRouter(t, t.TempDir())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/whisper/model/ghost", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "model not found")
}

func TestHandleDownloadModel_Unknown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := newModelsRouter(t, t.TempDir())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/whisper/model", strings.NewReader(`{"model":"mega"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown model")
	// 错误响应附带可用模型清单
	assert.Contains(t, w.Body.String(), "large-v3")
}

func TestHandleDownloadModel_MissingBody(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := newModelsRouter(t, t.TempDir())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/whisper/model", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "model is required")
}

func TestHandleDownloadModel_AlreadyInstalled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// 已安装的模型直接返回, 不触发网络下载
	dir := t.TempDir()
	writeModelFixture(t, dir, "ggml-tiny.bin")

	r := newModelsRouter(t, dir)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/whisper/model", strings.NewReader(`{"model":"tiny"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var model models.Model
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &model))
	assert.Equal(t, "tiny", model.ID)
}
