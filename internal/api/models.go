package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/whisper-local/internal/models"
	"github.com/houzhh15/whisper-local/pkg/logger"
)

// ModelsResponse is the model listing body.
type ModelsResponse struct {
	Object string         `json:"object"`
	Models []models.Model `json:"models"`
}

// DownloadRequest is the model download body.
type DownloadRequest struct {
	Model string `json:"model" binding:"required"`
}

// HandleListModels returns the installed models.
// GET /api/whisper/model
func HandleListModels(store *models.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := store.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to list models: %v", err)})
			return
		}
		c.JSON(http.StatusOK, ModelsResponse{
			Object: "list",
			Models: list,
		})
	}
}

// HandleGetModel returns one installed model by id.
// GET /api/whisper/model/:id
func HandleGetModel(store *models.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		model, err := store.Get(id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("model not found: %q", id)})
			return
		}
		c.JSON(http.StatusOK, model)
	}
}

// HandleDownloadModel fetches a model from the upstream repository into the
// store. Already-installed models return immediately.
// POST /api/whisper/model with {"model": "<name>"}
func HandleDownloadModel(store *models.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DownloadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: model is required"})
			return
		}

		if !models.IsKnown(req.Model) {
			known := models.Known()
			ids := make([]string, 0, len(known))
			for _, spec := range known {
				ids = append(ids, spec.ID)
			}
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("unknown model: %q", req.Model),
				"known": ids,
			})
			return
		}

		path, err := store.Download(c.Request.Context(), req.Model)
		if err != nil {
			logger.L().Error("model download failed", "model", req.Model, "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("download failed: %v", err)})
			return
		}

		model, err := store.Get(path)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("model installed but unreadable: %v", err)})
			return
		}
		c.JSON(http.StatusCreated, model)
	}
}
