package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/age-verify/internal/auth"
	"github.com/example/age-verify/internal/usecase"
)

// MaxUploadSize caps the accepted image payload at 8 MiB.
const MaxUploadSize = 8 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. Any middleware
// passed in guards the verification endpoints only; the health endpoints
// stay open.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, middleware ...gin.HandlerFunc) {
	status := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "age-verify"})
	}
	router.GET("/", status)
	router.GET("/health", status)

	guarded := router.Group("/", middleware...)
	guarded.POST("/verify", func(c *gin.Context) { handleVerify(c, uc) })
	guarded.GET("/result/:id", func(c *gin.Context) { handleResult(c, uc) })
	guarded.GET("/metrics", func(c *gin.Context) { handleMetrics(c, uc) })
}

// handleVerify accepts a multipart image upload and answers the under-18
// question. Business failures (no QR, unreadable DOB) are structured 200
// responses; only transport faults use error status codes.
func handleVerify(c *gin.Context, uc *usecase.VerificationUseCase) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "image file is required"})
		return
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "image exceeds upload limit"})
		return
	}
	if !acceptableContentType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"success": false, "message": "unsupported content type"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "unable to open image"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to read image"})
		return
	}
	if len(data) > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "message": "image exceeds upload limit"})
		return
	}

	subject, _ := auth.GetUserID(c.Request.Context())

	result, err := uc.Verify(c.Request.Context(), subject, data)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "message": "verification temporarily unavailable"})
		return
	}

	if result.Success {
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"is_under_18": result.IsUnder18,
			"request_id":  result.RequestID,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    false,
		"message":    result.Message,
		"request_id": result.RequestID,
	})
}

func handleResult(c *gin.Context, uc *usecase.VerificationUseCase) {
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	audit, err := uc.GetResult(c.Request.Context(), requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":  audit.RequestID,
		"qr_found":    audit.QRFound,
		"success":     audit.Success,
		"is_under_18": audit.IsUnder18,
		"outcome":     audit.Outcome,
		"latency_ms":  audit.LatencyMs,
		"created_at":  audit.CreatedAt,
	})
}

func handleMetrics(c *gin.Context, uc *usecase.VerificationUseCase) {
	summary, err := uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// acceptableContentType admits image uploads by their declared part type.
// Unknown or absent declarations pass through: the pipeline itself decides
// whether the bytes decode, and garbage degrades to a structured failure.
func acceptableContentType(declared string) bool {
	if declared == "" || declared == "application/octet-stream" {
		return true
	}
	return strings.HasPrefix(declared, "image/")
}
