package util

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"marketintel/internal/models"
)

// SafeErrorResponse returns a JSON error response, logging details but only
// exposing safe info to users. The raw error is included outside release mode.
func SafeErrorResponse(c *gin.Context, statusCode int, userMessage string, err error) {
	if err != nil {
		log.Printf("[ERROR] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	response := gin.H{
		"success": false,
		"message": userMessage,
	}

	if gin.Mode() != gin.ReleaseMode && err != nil {
		response["error"] = err.Error()
	}

	c.AbortWithStatusJSON(statusCode, response)
}

// ValidationErrorResponse answers 422 with one entry per rejected field.
// Field failures are caller mistakes, so they are always exposed.
func ValidationErrorResponse(c *gin.Context, err error) {
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		SafeErrorResponse(c, http.StatusUnprocessableEntity, "Invalid request", err)
		return
	}

	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
		"success": false,
		"message": "Invalid job parameters",
		"details": verr.Fields,
	})
}
