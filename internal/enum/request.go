package enum

type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusFailed     RequestStatus = "failed"
)

func (s RequestStatus) String() string {
	return string(s)
}

func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusProcessing, RequestStatusCompleted, RequestStatusFailed:
		return true
	}
	return false
}

func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusFailed
}

type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
	StorageR2    StorageBackend = "r2"
)

func (s StorageBackend) String() string {
	return string(s)
}

type HandoffBackend string

const (
	HandoffRabbitMQ HandoffBackend = "rabbitmq"
	HandoffRedis    HandoffBackend = "redis"
	HandoffNone     HandoffBackend = "none"
)

func (h HandoffBackend) String() string {
	return string(h)
}
