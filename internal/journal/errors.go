package journal

import "codeberg.org/mutker/simtemp/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("journal_invalid_db_path")
	ErrInvalidEntry  = errors.ErrorCode("journal_invalid_entry")

	ErrSchemaInitFailed       = errors.ErrorCode("journal_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("journal_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("journal_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("journal_transaction_failed")
	ErrQueryFailed            = errors.ErrorCode("journal_query_failed")

	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrClosed       = errors.ErrClosed

	ErrOperationTimeout = errors.ErrTimeout
)
