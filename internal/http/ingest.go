package http

import (
	"encoding/json"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"parkwatch/internal/domain/parking"
	"parkwatch/internal/pipeline"
)

// frameMeta is the JSON half of a frame upload: capture time plus the
// tracker's detections for that frame.
type frameMeta struct {
	Time       time.Time           `json:"time"`
	Detections []parking.Detection `json:"detections"`
}

// ingestFrame accepts one frame of tracker output as multipart form data:
// field "meta" (JSON) and file "image". The frame is queued for the pipeline;
// if the queue is full the oldest buffered frame is evicted, never the caller
// blocked.
func (h *Handler) ingestFrame(c *gin.Context) {
	if h.frames == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("frame pipeline is not running"))
		return
	}

	var meta frameMeta
	if err := json.Unmarshal([]byte(c.PostForm("meta")), &meta); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("meta must be valid JSON: "+err.Error()))
		return
	}
	if meta.Time.IsZero() {
		meta.Time = time.Now()
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("image file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to open image: "+err.Error()))
		return
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to decode image: "+err.Error()))
		return
	}

	evicted := h.frames.Push(pipeline.Frame{
		Time:       meta.Time,
		Image:      img,
		Detections: meta.Detections,
	})
	if evicted {
		h.log.Debug().Msg("frame queue full, dropped oldest frame")
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":         "queued",
		"dropped_oldest": evicted,
	})
}
