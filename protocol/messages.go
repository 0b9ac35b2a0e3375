package protocol

// AuthRequest is the payload of login and register.
type AuthRequest struct {
	Passphrase string `json:"passphrase"`
	Password   string `json:"password"`
}

// AuthResponse is the payload of auth_response.
type AuthResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	UserID  *int64 `json:"user_id,omitempty"`
}

// MessageRequest is the payload of an inbound message command.
type MessageRequest struct {
	ToUserID int64  `json:"to_user_id"`
	Body     string `json:"body"`
	Saved    *bool  `json:"saved,omitempty"`
}

// MessageEvent is the payload delivered to the recipient of a message.
type MessageEvent struct {
	FromUserID int64  `json:"from_user_id"`
	Body       string `json:"body"`
}

// SetPubkeyRequest is the payload of set_pubkey.
type SetPubkeyRequest struct {
	Pubkey string `json:"pubkey"`
}

// SetPubkeyResponse is the payload of set_pubkey_response.
type SetPubkeyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// GetPubkeyRequest is the payload of get_pubkey.
type GetPubkeyRequest struct {
	UserID int64 `json:"user_id"`
}

// GetPubkeyResponse is the payload of get_pubkey_response.
type GetPubkeyResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	UserID  *int64  `json:"user_id,omitempty"`
	Pubkey  *string `json:"pubkey,omitempty"`
}

// AuthRequiredNotice is the payload sent immediately on accept.
const AuthRequiredNotice = "Please authenticate by sending 'login' or 'register' command with your credentials"

// Fixed error/response strings the wire protocol commits to verbatim,
// matched exactly by clients.
const (
	ErrInvalidJSON            = "Invalid JSON"
	ErrAuthRequired           = "Authentication required. Please send 'login' or 'register' command first"
	ErrInvalidAuthFormat      = "Invalid authentication format"
	ErrInvalidRegisterFormat  = "Invalid registration format"
	ErrInvalidCredentials     = "Invalid passphrase or password"
	ErrPassphraseTaken        = "User with this passphrase already exists"
	ErrAuthStorage            = "Authentication error"
	ErrRegistrationFailed     = "Registration failed"
	ErrInvalidMessageFormat   = "Invalid message format"
	ErrE2EERequired           = "E2EE required: invalid or missing envelope"
	ErrInvalidSetPubkeyFormat = "Invalid set_pubkey format"
	ErrInvalidGetPubkeyFormat = "Invalid get_pubkey format"
	MsgPubkeyStored           = "Pubkey stored"
	ErrUserNotFound           = "User not found"
	ErrPubkeyStoreFailed      = "Failed to store pubkey"
	ErrPubkeyNotFound         = "User not found or no pubkey"
	ErrPubkeyLoadFailed       = "Failed to load pubkey"
)
