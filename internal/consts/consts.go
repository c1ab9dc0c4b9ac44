package consts

const (
	RecordsKeyPrefix           = "records:"
	RecordsGenerationKeyPrefix = "records-gen:"
	ChangesChannelPrefix       = "changes:"
	IdempotencyKeyPrefix       = "idem:"

	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	SSEDataPrefix    = "data: "
	SSECommentPrefix = ":"
)
