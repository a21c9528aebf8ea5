package enum

type EntityType string

const (
	INGESTION_REQUEST EntityType = "INGESTION_REQUEST"
	ATTACHMENT        EntityType = "ATTACHMENT"
)

func (e EntityType) String() string {
	return string(e)
}
