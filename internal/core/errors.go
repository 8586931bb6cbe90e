package core

// Error codes carried on wire error messages.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeRoomNotFound   = "room_not_found"
	ErrCodeRoomFull       = "room_full"
	ErrCodeWrongPassword  = "wrong_password"
	ErrCodeNotInRoom      = "not_in_room"
	ErrCodeMessageTooLong = "message_too_long"
)
