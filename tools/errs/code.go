package errs

// 业务错误码；1xxx 通用，2xxx 会话/路由
const (
	ServerInternalError = 1001
	ArgsError           = 1002
	TokenInvalidError   = 1101
	TokenExpiredError   = 1102
	ProtocolError       = 1201

	DuplicateConnError     = 2001
	ConnNotFoundError      = 2002
	InvalidTransitionError = 2101
	SessionClosedError     = 2102
	OutOfOrderError        = 2201
	QueueFullError         = 2301
	TransportClosedError   = 2302
)

var (
	ErrServerInternal    = NewCodeError(ServerInternalError, "server internal error")
	ErrArgs              = NewCodeError(ArgsError, "args error")
	ErrTokenInvalid      = NewCodeError(TokenInvalidError, "token invalid")
	ErrTokenExpired      = NewCodeError(TokenExpiredError, "token expired")
	ErrProtocol          = NewCodeError(ProtocolError, "protocol error")
	ErrDuplicateConn     = NewCodeError(DuplicateConnError, "connection id already registered")
	ErrConnNotFound      = NewCodeError(ConnNotFoundError, "connection not found")
	ErrInvalidTransition = NewCodeError(InvalidTransitionError, "invalid session transition")
	ErrSessionClosed     = NewCodeError(SessionClosedError, "session closed")
	ErrOutOfOrder        = NewCodeError(OutOfOrderError, "out of order sequence")
	ErrQueueFull         = NewCodeError(QueueFullError, "outbound queue full")
	ErrTransportClosed   = NewCodeError(TransportClosedError, "transport closed")
)
