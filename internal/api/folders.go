package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ureka/internal/models"
)

type folderRequest struct {
	Name string `json:"name"`
}

type folderView struct {
	*models.Folder
	Expanded bool `json:"expanded"`
}

func (h *Handler) listFolders(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	folders := ws.Folders.List()
	out := make([]folderView, 0, len(folders))
	for _, f := range folders {
		out = append(out, folderView{Folder: f, Expanded: ws.Folders.IsExpanded(f.ID)})
	}
	c.JSON(http.StatusOK, gin.H{
		"folders":  out,
		"selected": ws.Folders.Selected(),
	})
}

func (h *Handler) createFolder(c *gin.Context) {
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	folder, err := ws.Folders.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"folder": folder})
}

func (h *Handler) renameFolder(c *gin.Context) {
	var req folderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	id := c.Param("folder_id")
	if err := ws.Folders.Rename(c.Request.Context(), id, req.Name); err != nil {
		h.respondError(c, err)
		return
	}
	folder, _ := ws.Folders.Get(id)
	c.JSON(http.StatusOK, gin.H{"folder": folder})
}

func (h *Handler) deleteFolder(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	if err := ws.Folders.Delete(c.Request.Context(), c.Param("folder_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) toggleFolder(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	expanded, err := ws.Folders.ToggleExpanded(c.Param("folder_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expanded": expanded})
}

// selectFolder selects the folder; selecting the selected one clears it.
func (h *Handler) selectFolder(c *gin.Context) {
	ws, ok := h.workspace(c)
	if !ok {
		return
	}
	id := c.Param("folder_id")
	if ws.Folders.Selected() == id {
		id = ""
	}
	if err := ws.Folders.Select(id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected": ws.Folders.Selected()})
}
