package utils

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mindmesh/mindmesh/internal/types"
)

// SuccessResponse sends a standard success response
func SuccessResponse(c *fiber.Ctx, data interface{}, status int) error {
	return c.Status(status).JSON(data)
}

// ErrorResponse sends a standard error response
func ErrorResponse(c *fiber.Ctx, message string, status int, errorType string) error {
	return c.Status(status).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
		"type":      errorType,
	})
}

// JoinErrorResponse maps a room join failure onto its HTTP status. Capacity
// and plan-limit failures carry the counters the client renders, and the
// plan-limit body includes the upgrade URL.
func JoinErrorResponse(c *fiber.Ctx, jerr *types.JoinError) error {
	status := jerr.Code.HTTPStatus()
	body := fiber.Map{
		"status":    status,
		"message":   jerr.Message,
		"ok":        false,
		"error":     string(jerr.Code),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
		"type":      "share.join",
	}
	if jerr.Limit > 0 {
		body["currentCount"] = jerr.CurrentCount
		body["limit"] = jerr.Limit
	}
	if jerr.Code == types.JoinErrLimitReached {
		body["upgradeUrl"] = "/pricing"
	}
	return c.Status(status).JSON(body)
}

// NotFoundResponse sends a 404 not found response
func NotFoundResponse(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"status":    fiber.StatusNotFound,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
	})
}

// MutationSuccessResponse sends a success response for mutations (POST/DELETE)
func MutationSuccessResponse(c *fiber.Ctx, affectedRows int64) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"message":      "Success",
		"ok":           true,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"affectedRows": affectedRows,
	})
}

// ErrorResponseStruct defines the schema for error responses
type ErrorResponseStruct struct {
	Status       int    `json:"status"`
	Message      string `json:"message"`
	Ok           bool   `json:"ok"`
	Timestamp    string `json:"timestamp"`
	URL          string `json:"url"`
	Type         string `json:"type,omitempty"`
	Error        string `json:"error,omitempty"`
	CurrentCount int    `json:"currentCount,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	UpgradeURL   string `json:"upgradeUrl,omitempty"`
}

// SuccessResponseStruct defines the schema for mutation success responses
type SuccessResponseStruct struct {
	Message      string `json:"message"`
	Ok           bool   `json:"ok"`
	Timestamp    string `json:"timestamp"`
	AffectedRows int64  `json:"affectedRows"`
}
