package sandbox

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/asyncdeta/deta_sdk_go/internal/detaapi"
	"github.com/asyncdeta/deta_sdk_go/pkg/base"
	"github.com/asyncdeta/deta_sdk_go/pkg/drive"
)

func bindJSON(c *gin.Context, out any) bool {
	data, err := c.GetRawData()
	if err == nil {
		err = detaapi.Decode(data, out)
	}
	if err != nil {
		badBody(c, err)
		return false
	}
	return true
}

func (s *Server) getItem(c *gin.Context) {
	key := c.Param("key")
	rec, err := s.bases.Get(c.Request.Context(), c.Param("base"), key)
	if err != nil {
		fail(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"key": key})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) putItems(c *gin.Context) {
	var body struct {
		Items []base.Record `json:"items"`
	}
	if !bindJSON(c, &body) {
		return
	}
	res, err := s.bases.Put(c.Request.Context(), c.Param("base"), body.Items)
	if err != nil {
		fail(c, err)
		return
	}
	out := gin.H{"processed": gin.H{"items": res.Processed}}
	if len(res.Failed) > 0 {
		out["failed"] = gin.H{"items": res.Failed}
	}
	c.JSON(http.StatusMultiStatus, out)
}

func (s *Server) insertItem(c *gin.Context) {
	var body struct {
		Item base.Record `json:"item"`
	}
	if !bindJSON(c, &body) {
		return
	}
	if body.Item == nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"item is required"}})
		return
	}
	rec, err := s.bases.Insert(c.Request.Context(), c.Param("base"), body.Item)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) updateItem(c *gin.Context) {
	var updates base.Updates
	if !bindJSON(c, &updates) {
		return
	}
	key := c.Param("key")
	if err := s.bases.Update(c.Request.Context(), c.Param("base"), key, &updates); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

func (s *Server) deleteItem(c *gin.Context) {
	key := c.Param("key")
	if err := s.bases.Delete(c.Request.Context(), c.Param("base"), key); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

func (s *Server) query(c *gin.Context) {
	var req base.PageRequest
	if !bindJSON(c, &req) {
		return
	}
	page, err := s.bases.Query(c.Request.Context(), c.Param("base"), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paging": detaapi.Paging{Size: len(page.Items), Last: page.Cursor},
		"items":  page.Items,
	})
}

func (s *Server) putFile(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		badBody(c, err)
		return
	}
	info, err := s.drives.PutFile(c.Request.Context(), c.Param("drive"), c.Query("name"), data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) listFiles(c *gin.Context) {
	opts := drive.ListOptions{Prefix: c.Query("prefix"), Cursor: c.Query("last")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"limit must be a positive integer"}})
			return
		}
		opts.Limit = n
	}
	list, err := s.drives.ListFiles(c.Request.Context(), c.Param("drive"), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paging": detaapi.Paging{Size: len(list.Names), Last: list.Cursor},
		"names":  list.Names,
	})
}

func (s *Server) deleteFiles(c *gin.Context) {
	var body struct {
		Names []string `json:"names"`
	}
	if !bindJSON(c, &body) {
		return
	}
	res, err := s.drives.DeleteFiles(c.Request.Context(), c.Param("drive"), body.Names)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) download(c *gin.Context) {
	driveName, name := c.Param("drive"), c.Query("name")
	rc, err := s.drives.GetFile(c.Request.Context(), driveName, name)
	if err != nil {
		fail(c, err)
		return
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		fail(c, err)
		return
	}
	contentType, _ := s.drives.ContentType(driveName, name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, int64(len(data)), contentType, bytes.NewReader(data), nil)
}

func (s *Server) startUpload(c *gin.Context) {
	driveName, name := c.Param("drive"), c.Query("name")
	id, err := s.drives.StartUpload(c.Request.Context(), driveName, name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"name": name, "upload_id": id, "drive_name": driveName})
}

func (s *Server) uploadPart(c *gin.Context) {
	part, err := strconv.Atoi(c.Query("part"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"part must be an integer"}})
		return
	}
	data, err := c.GetRawData()
	if err != nil {
		badBody(c, err)
		return
	}
	driveName, name, id := c.Param("drive"), c.Query("name"), c.Param("upload")
	if err := s.drives.UploadPart(c.Request.Context(), driveName, name, id, part, data); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "upload_id": id, "part": part, "drive_name": driveName})
}

func (s *Server) finishUpload(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		badBody(c, err)
		return
	}
	info, err := s.drives.FinishUpload(c.Request.Context(), c.Param("drive"), c.Query("name"), c.Param("upload"), data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) abortUpload(c *gin.Context) {
	driveName, name, id := c.Param("drive"), c.Query("name"), c.Param("upload")
	info, err := s.drives.AbortUpload(c.Request.Context(), driveName, name, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
