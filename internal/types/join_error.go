package types

import "fmt"

// JoinErrorCode is a stable error code for room-join failures. The codes
// are part of the boundary contract: clients map each to a specific HTTP
// status and call-to-action.
type JoinErrorCode string

const (
	JoinErrInvalidCode  JoinErrorCode = "invalid_code"
	JoinErrExpired      JoinErrorCode = "expired"
	JoinErrRoomFull     JoinErrorCode = "room_full"
	JoinErrLimitReached JoinErrorCode = "limit_reached"
	JoinErrMapNotFound  JoinErrorCode = "map_not_found"
	JoinErrInvalidUser  JoinErrorCode = "invalid_user"
	JoinErrInternal     JoinErrorCode = "internal_error"
)

// HTTPStatus maps a join error code to its boundary status code.
func (c JoinErrorCode) HTTPStatus() int {
	switch c {
	case JoinErrInvalidCode, JoinErrMapNotFound:
		return 404
	case JoinErrExpired:
		return 410
	case JoinErrRoomFull:
		return 403
	case JoinErrLimitReached:
		return 402
	case JoinErrInvalidUser:
		return 401
	}
	return 500
}

// JoinError carries a join failure with its stable code plus the counter
// context the room-full and limit-reached responses surface.
type JoinError struct {
	Code         JoinErrorCode
	Message      string
	CurrentCount int
	Limit        int
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewJoinError builds a JoinError without counter context.
func NewJoinError(code JoinErrorCode, message string) *JoinError {
	return &JoinError{Code: code, Message: message}
}
