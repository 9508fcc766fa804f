package ffibridge

// Engine callback payloads. Every []byte field is borrowed from the engine's
// call stack and is only valid until the callback returns; Clone produces a
// copy whose lifetime is independent of the engine.

// HTTPMethod is the method of an [HTTPRequest].
type HTTPMethod uint8

const (
	HTTPMethodGet HTTPMethod = iota
	HTTPMethodPost
	HTTPMethodPatch
	HTTPMethodPut
	HTTPMethodDelete
)

func (m HTTPMethod) String() string {
	switch m {
	case HTTPMethodGet:
		return "GET"
	case HTTPMethodPost:
		return "POST"
	case HTTPMethodPatch:
		return "PATCH"
	case HTTPMethodPut:
		return "PUT"
	case HTTPMethodDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// HTTPHeader is one header name/value pair.
type HTTPHeader struct {
	Name  []byte
	Value []byte
}

// HTTPRequest is an outbound request the engine asks the consumer to perform.
type HTTPRequest struct {
	URL       []byte
	Body      []byte
	Headers   []HTTPHeader
	TimeoutMS uint64
	Method    HTTPMethod
}

// HTTPResponse is the consumer's answer to an [HTTPRequest]. It travels from
// the consumer to the engine, which copies what it keeps.
type HTTPResponse struct {
	Headers          []HTTPHeader
	Body             []byte
	StatusCode       int
	CustomStatusCode int
}

// RequestContext is the engine's pending request, completed exactly once.
type RequestContext interface {
	Complete(resp HTTPResponse)
}

// ErrorCategories is a bit set of engine error categories.
type ErrorCategories uint32

const (
	ErrorCategoryLogic ErrorCategories = 1 << iota
	ErrorCategoryRuntime
	ErrorCategoryInvalidArg
	ErrorCategoryFile
	ErrorCategorySystem
	ErrorCategoryApp
	ErrorCategoryClient
	ErrorCategoryJSON
	ErrorCategoryService
	ErrorCategoryHTTP
	ErrorCategoryCustom
	ErrorCategoryWebsocket
	ErrorCategorySync
)

// Status is an engine error value.
type Status struct {
	Message    []byte
	Code       int32
	Categories ErrorCategories
}

// UserInfo is one key/value pair attached to a [SyncError].
type UserInfo struct {
	Key   []byte
	Value []byte
}

// ValueKind is the type of a [Value].
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueInt
	ValueBool
	ValueString
	ValueBinary
	ValueFloat
	ValueDouble
	ValueObjectID
	ValueUUID
)

// Value is a primary key or other scalar engine value. Bytes carries the
// string, binary, object id and uuid kinds.
type Value struct {
	Bytes  []byte
	Int    int64
	Double float64
	Kind   ValueKind
	Bool   bool
}

// CompensatingWrite describes a write the server reverted.
type CompensatingWrite struct {
	Reason     []byte
	ObjectName []byte
	PrimaryKey Value
}

// SyncErrorAction is the action the server requests in response to an error.
type SyncErrorAction uint8

const (
	SyncErrorActionNone SyncErrorAction = iota
	SyncErrorActionApplicationBug
	SyncErrorActionWarning
	SyncErrorActionTransient
	SyncErrorActionDeleteRealm
	SyncErrorActionClientReset
	SyncErrorActionClientResetNoRecovery
	SyncErrorActionRevertToPBS
)

// SyncError is reported by a sync session.
type SyncError struct {
	// OriginalFilePathKey and RecoveryFilePathKey name entries of UserInfo,
	// and may be nil.
	OriginalFilePathKey []byte
	RecoveryFilePathKey []byte
	UserInfo            []UserInfo
	CompensatingWrites  []CompensatingWrite
	Status              Status
	Action              SyncErrorAction
	IsFatal             bool
	IsUnrecognized      bool
	IsClientResetNeeded bool
}

// AppError is an error reported by an app services request.
type AppError struct {
	LinkToServerLogs []byte
	Status           Status
	HTTPStatusCode   int
}

// APIKey is a user API key. Key is only present right after creation, and
// is nil otherwise.
type APIKey struct {
	ID       []byte
	Key      []byte
	Name     []byte
	Disabled bool
}

// ConnectionState is the state of a sync session's connection.
type ConnectionState uint8

const (
	ConnectionDisconnected ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
)

// SubscriptionState is the state of a flexible sync subscription set.
type SubscriptionState uint8

const (
	SubscriptionUncommitted SubscriptionState = iota
	SubscriptionPending
	SubscriptionBootstrapping
	SubscriptionComplete
	SubscriptionError
	SubscriptionSuperseded
	SubscriptionAwaitingMark
)

// Progress is a sync progress notification.
type Progress struct {
	Transferred  uint64
	Transferable uint64
	Estimate     float64
}

// CollectionMove is one moved element of a collection.
type CollectionMove struct {
	From uint64
	To   uint64
}

// CollectionChanges describes one change notification of a collection.
type CollectionChanges struct {
	Deletions          []uint64
	Insertions         []uint64
	Modifications      []uint64
	ModificationsAfter []uint64
	Moves              []CollectionMove
	IsDeleted          bool
	IsCleared          bool
}
