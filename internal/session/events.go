package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
	"github.com/SamYueHW/advancedReport-server/internal/csv"
	"github.com/SamYueHW/advancedReport-server/internal/ddl"
	"github.com/SamYueHW/advancedReport-server/internal/rowops"
	"github.com/SamYueHW/advancedReport-server/internal/schema"
	"github.com/SamYueHW/advancedReport-server/internal/store"
)

// routeReadyEvent dispatches one event permitted in StateReady. An unknown
// event is a validation error reported per-event; the session continues.
func (s *Session) routeReadyEvent(ctx context.Context, event string, fields map[string]interface{}) {
	switch event {
	case "sync_data":
		s.handleSyncData(ctx, fields)
	case "batch_sync":
		s.handleBatchSync(ctx, fields)
	case "sync_ddl_operation":
		s.handleSyncDDL(ctx, fields)
	case "verify_and_sync_table":
		s.handleVerifyAndSyncTable(ctx, fields)
	case "create_table_from_schema":
		s.handleCreateTableFromSchema(ctx, fields)
	case "table_schema_response":
		s.handleTableSchemaResponse(ctx, fields)
	case "full_data_sync_response":
		s.handleFullDataSyncResponse(ctx, fields)
	case "initial_sync_data_response":
		s.handleInitialSyncDataResponse(ctx, fields)
	case "force_sync_request":
		s.handleForceSyncRequest(ctx, fields)
	case "clear_database_tables":
		s.handleClearDatabaseTables(ctx, fields)
	case "csv_bulk_upload":
		s.handleCSVBulkUpload(ctx, fields)
	case "csv_bulk_upload_start":
		s.handleCSVBulkUploadStart(fields)
	case "csv_bulk_upload_chunk":
		s.handleCSVBulkUploadChunk(ctx, fields)
	default:
		s.emitError("unknown_event", apperr.NewValidationError("event", fmt.Sprintf("unsupported event: %s", event)))
	}
}

// database resolves the target physical database for this session's bound
// tenant, surfacing a routing error if the (storeId, appId) pair no longer
// checks out.
func (s *Session) database(ctx context.Context) (string, error) {
	storeID, appID, bound := s.Identity()
	if !bound {
		return "", apperr.NewRoutingError(storeID, appID)
	}
	db, err := s.tenantSvc.DatabaseFor(ctx, storeID, appID)
	if err != nil {
		return "", err
	}
	if db == "" {
		return "", apperr.NewRoutingError(storeID, appID)
	}
	return db, nil
}

// emitError sends event carrying err's wire representation, falling back
// to a generic validation-shaped payload when err isn't a WireError.
func (s *Session) emitError(event string, err error) {
	if we, ok := apperr.AsWireError(err); ok {
		wireEvent, fields := we.EventError()
		s.sender.Send(wireEvent, fields)
		return
	}
	s.sender.Send(event, map[string]interface{}{"success": false, "error": err.Error()})
}

// handleSyncData applies one RowOp and emits exactly one sync_response
// carrying the same syncId, per the one-response-per-accepted-event
// invariant.
func (s *Session) handleSyncData(ctx context.Context, fields map[string]interface{}) {
	syncID, _ := fields["syncId"].(string)

	database, err := s.database(ctx)
	if err != nil {
		s.respondSync(syncID, err)
		return
	}

	op, err := rowOpFromFields(database, fields)
	if err != nil {
		s.respondSync(syncID, err)
		return
	}

	_, err = s.dispatcher.Apply(ctx, op)
	s.respondSync(syncID, err)
}

func (s *Session) respondSync(syncID string, err error) {
	if err != nil {
		event, fields := "sync_response", map[string]interface{}{"syncId": syncID, "success": false}
		if we, ok := apperr.AsWireError(err); ok {
			_, wireFields := we.EventError()
			fields["error"] = wireFields
		} else {
			fields["error"] = err.Error()
		}
		s.sender.Send(event, fields)
		return
	}
	s.sender.Send("sync_response", map[string]interface{}{"syncId": syncID, "success": true})
}

// rowOpFromFields decodes the wire-format sync_data fields into a RowOp.
func rowOpFromFields(database string, fields map[string]interface{}) (rowops.RowOp, error) {
	tableName, _ := fields["tableName"].(string)
	opName, _ := fields["operation"].(string)
	businessType, _ := fields["businessType"].(string)
	recordData, _ := fields["recordData"].(string)

	if tableName == "" {
		return rowops.RowOp{}, apperr.NewValidationError("tableName", "tableName is required")
	}

	payload, err := rowops.DecodePayload(recordData)
	if err != nil {
		return rowops.RowOp{}, err
	}

	return rowops.RowOp{
		Database:     database,
		Table:        tableName,
		Operation:    rowops.Operation(opName),
		Payload:      payload,
		BusinessType: rowops.BusinessType(businessType),
	}, nil
}

// handleBatchSync applies a batch of RowOps sequentially, each one keeping
// the same per-op error semantics as sync_data.
func (s *Session) handleBatchSync(ctx context.Context, fields map[string]interface{}) {
	database, err := s.database(ctx)
	if err != nil {
		s.sender.Send("batch_sync_response", map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	rawOps, _ := fields["operations"].([]interface{})
	results := make([]map[string]interface{}, 0, len(rawOps))

	for _, raw := range rawOps {
		opFields, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		syncID, _ := opFields["syncId"].(string)
		op, err := rowOpFromFields(database, opFields)
		if err == nil {
			_, err = s.dispatcher.Apply(ctx, op)
		}
		result := map[string]interface{}{"syncId": syncID, "success": err == nil}
		if err != nil {
			result["error"] = err.Error()
		}
		results = append(results, result)
	}

	s.sender.Send("batch_sync_response", map[string]interface{}{"results": results})
}

// handleSyncDDL translates and executes one DDL command, emitting
// ddl_sync_success (including a skipped flag for translator no-ops like
// LOCK_ESCALATION) or ddl_sync_error.
func (s *Session) handleSyncDDL(ctx context.Context, fields map[string]interface{}) {
	syncID, _ := fields["syncId"].(string)
	tableName, _ := fields["tableName"].(string)
	operation, _ := fields["operation"].(string)
	sqlCommand, _ := fields["sqlCommand"].(string)

	database, err := s.database(ctx)
	if err != nil {
		s.sender.Send("ddl_sync_error", map[string]interface{}{"syncId": syncID, "error": err.Error()})
		return
	}

	ddlOp := ddl.Operation(operation)
	if err := ddl.ValidateOperation(ddlOp); err != nil {
		s.sender.Send("ddl_sync_error", map[string]interface{}{"syncId": syncID, "error": err.Error()})
		return
	}

	translated, err := ddl.Translate(tableName, ddlOp, sqlCommand)
	if err != nil {
		s.sender.Send("ddl_sync_error", map[string]interface{}{"syncId": syncID, "error": err.Error()})
		return
	}

	if translated == "" {
		// LOCK_ESCALATION and other deliberate no-op shapes: Translate
		// returns an empty string with a nil error.
		s.sender.Send("ddl_sync_success", map[string]interface{}{"syncId": syncID, "skipped": true})
		return
	}

	if _, err := s.store.Exec(ctx, database, translated); err != nil {
		s.sender.Send("ddl_sync_error", map[string]interface{}{"syncId": syncID, "error": err.Error()})
		return
	}

	s.sender.Send("ddl_sync_success", map[string]interface{}{"syncId": syncID})
}

// defaultFullSyncBatchSize is the fallback batch size offered in
// request_full_data_sync when the peer's verify_and_sync_table didn't
// supply one.
const defaultFullSyncBatchSize = 1000

// handleVerifyAndSyncTable reports whether tableName exists and how many
// rows it has, then drives the peer toward the schema or data it's
// missing: an absent table gets asked for its schema before anything else
// can proceed; an existing-but-empty table is asked for a full data sync.
func (s *Session) handleVerifyAndSyncTable(ctx context.Context, fields map[string]interface{}) {
	tableName, _ := fields["tableName"].(string)
	syncID, _ := fields["syncId"].(string)
	if syncID == "" {
		syncID = uuid.NewString()
	}
	batchSize, ok := toInt(fields["batchSize"])
	if !ok || batchSize <= 0 {
		batchSize = defaultFullSyncBatchSize
	}

	database, err := s.database(ctx)
	if err != nil {
		s.emitError("verify_and_sync_response", err)
		return
	}

	exists, err := s.store.TableExists(ctx, database, tableName)
	if err != nil {
		s.emitError("verify_and_sync_response", err)
		return
	}

	rowCount := int64(0)
	if exists {
		rows, err := s.store.Query(ctx, database, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", store.QuoteIdentifier(tableName)))
		if err == nil && len(rows) == 1 {
			if n, ok := rows[0]["n"].(int64); ok {
				rowCount = n
			}
		}
	}

	needsSync := !exists || rowCount == 0
	s.sender.Send("verify_and_sync_response", map[string]interface{}{
		"tableName":  tableName,
		"exists":     exists,
		"needsSync":  needsSync,
		"rowCount":   rowCount,
		"useCSVSync": !exists,
	})

	switch {
	case !exists:
		s.sender.Send("request_table_schema", map[string]interface{}{"tableName": tableName, "originalSyncId": syncID})
	case needsSync:
		s.sender.Send("request_full_data_sync", map[string]interface{}{"tableName": tableName, "originalSyncId": syncID, "batchSize": batchSize})
	}
}

// handleCreateTableFromSchema materialises tableName from the supplied
// schema, applying the business-type index bundle when databaseType is
// present. Once created, it asks the peer to populate the new table,
// preferring CSV bootstrap when isInitialSync says this is a first-time
// seed.
func (s *Session) handleCreateTableFromSchema(ctx context.Context, fields map[string]interface{}) {
	tableName, _ := fields["tableName"].(string)
	businessType, _ := fields["databaseType"].(string)
	isInitialSync, _ := fields["isInitialSync"].(bool)
	originalSyncID, _ := fields["originalSyncId"].(string)
	if originalSyncID == "" {
		originalSyncID = uuid.NewString()
	}

	database, err := s.database(ctx)
	if err != nil {
		s.sender.Send("table_created", map[string]interface{}{"tableName": tableName, "success": false, "error": err.Error()})
		return
	}

	tableSchema, err := decodeTableSchema(fields["schema"])
	if err != nil {
		s.sender.Send("table_created", map[string]interface{}{"tableName": tableName, "success": false, "error": err.Error()})
		return
	}

	if err := schema.CreateTable(ctx, s.store, database, tableName, tableSchema, rowops.BusinessType(businessType)); err != nil {
		s.sender.Send("table_created", map[string]interface{}{"tableName": tableName, "success": false, "error": err.Error()})
		return
	}

	s.sender.Send("table_created", map[string]interface{}{"tableName": tableName, "success": true})

	if isInitialSync {
		s.sender.Send("csv_bulk_sync_request", map[string]interface{}{"tableName": tableName, "originalSyncId": originalSyncID})
		return
	}
	s.sender.Send("request_full_data_sync", map[string]interface{}{"tableName": tableName, "originalSyncId": originalSyncID, "batchSize": defaultFullSyncBatchSize})
}

// handleTableSchemaResponse forwards a requested schema payload into the
// same create_table_from_schema path, matched back to its originalSyncId.
func (s *Session) handleTableSchemaResponse(ctx context.Context, fields map[string]interface{}) {
	s.handleCreateTableFromSchema(ctx, fields)
}

// handleFullDataSyncResponse bootstraps a batch of rows via the row-op
// INSERT upsert builder, skipping duplicates instead of upgrading them to
// UPDATE, preserving idempotency of repeated bootstraps.
func (s *Session) handleFullDataSyncResponse(ctx context.Context, fields map[string]interface{}) {
	s.bootstrapRows(ctx, fields, "full_data_sync_progress", "full_data_sync_complete")
}

// handleInitialSyncDataResponse is the legacy alias of
// handleFullDataSyncResponse using the initial_sync_* event names.
func (s *Session) handleInitialSyncDataResponse(ctx context.Context, fields map[string]interface{}) {
	s.bootstrapRows(ctx, fields, "initial_sync_progress", "initial_sync_complete")
}

func (s *Session) bootstrapRows(ctx context.Context, fields map[string]interface{}, progressEvent, completeEvent string) {
	tableName, _ := fields["tableName"].(string)
	businessType, _ := fields["businessType"].(string)
	isLastBatch, _ := fields["isLastBatch"].(bool)
	originalSyncID, _ := fields["originalSyncId"].(string)
	rawRows, _ := fields["data"].([]interface{})

	database, err := s.database(ctx)
	if err != nil {
		s.sender.Send(progressEvent, map[string]interface{}{"tableName": tableName, "success": false, "error": err.Error()})
		return
	}

	s.mu.Lock()
	s.fullSyncActive = true
	s.mu.Unlock()

	var inserted int
	for _, raw := range rawRows {
		payload, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		op := rowops.RowOp{Database: database, Table: tableName, Operation: rowops.Insert, Payload: payload, BusinessType: rowops.BusinessType(businessType)}
		if _, err := s.dispatcher.Apply(ctx, op); err == nil {
			inserted++
		}
	}

	s.sender.Send(progressEvent, map[string]interface{}{"tableName": tableName, "originalSyncId": originalSyncID, "inserted": inserted})

	if isLastBatch {
		s.mu.Lock()
		s.fullSyncActive = false
		s.mu.Unlock()
		s.sender.Send(completeEvent, map[string]interface{}{"tableName": tableName, "originalSyncId": originalSyncID})
	}
}

// handleForceSyncRequest handles the only supported action,
// "drop_all_tables", against the session's own tenant database.
func (s *Session) handleForceSyncRequest(ctx context.Context, fields map[string]interface{}) {
	action, _ := fields["action"].(string)

	database, err := s.database(ctx)
	if err != nil {
		s.sender.Send("force_sync_response", map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	if action != "drop_all_tables" {
		s.sender.Send("force_sync_response", map[string]interface{}{"success": false, "error": "unsupported action"})
		return
	}

	storeID, appID, _ := s.Identity()
	log := s.logger.WithFields(map[string]string{"storeId": storeID, "appId": appID})

	rows, err := s.store.Query(ctx, database, "SELECT TABLE_NAME FROM information_schema.tables WHERE TABLE_SCHEMA = ?", database)
	if err != nil {
		log.Error("force sync: listing tables failed: %v", err)
		s.sender.Send("force_sync_response", map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	for _, row := range rows {
		name, _ := row["TABLE_NAME"].(string)
		if name == "" {
			continue
		}
		if _, err := s.store.Exec(ctx, database, "DROP TABLE "+store.QuoteIdentifier(name)); err != nil {
			log.Error("force sync: dropping table %s failed: %v", name, err)
		}
	}

	s.sender.Send("force_sync_response", map[string]interface{}{"success": true})
}

// handleClearDatabaseTables truncates the named tables inside a single
// transaction, with foreign-key checks toggled off for its duration so
// truncation order doesn't matter. Any failure rolls back every truncate
// in the batch rather than leaving the database partially cleared.
func (s *Session) handleClearDatabaseTables(ctx context.Context, fields map[string]interface{}) {
	database, err := s.database(ctx)
	if err != nil {
		s.sender.Send("clear_database_response", map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	rawTables, _ := fields["tableNames"].([]interface{})
	storeID, appID, _ := s.Identity()
	log := s.logger.WithFields(map[string]string{"storeId": storeID, "appId": appID})

	err = s.store.WithTx(ctx, database, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=0"); err != nil {
			return err
		}
		for _, raw := range rawTables {
			name, _ := raw.(string)
			if name == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, "TRUNCATE TABLE "+store.QuoteIdentifier(name)); err != nil {
				return fmt.Errorf("truncating %s: %w", name, err)
			}
		}
		_, err := tx.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS=1")
		return err
	})
	if err != nil {
		log.Error("clear database tables: %v", err)
		s.sender.Send("clear_database_response", map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	s.sender.Send("clear_database_response", map[string]interface{}{"success": true})
}

// handleCSVBulkUpload persists a single-shot base64 upload to disk and
// runs the import pipeline.
func (s *Session) handleCSVBulkUpload(ctx context.Context, fields map[string]interface{}) {
	tableName, _ := fields["tableName"].(string)
	fileName, _ := fields["fileName"].(string)
	content, _ := fields["fileContent"].(string)
	declaredBytes, _ := toInt64(fields["fileSizeBytes"])

	_, appID, _ := s.Identity()

	path, _, mismatch, err := csv.PersistSingleShot(s.uploadsDir, appID, fileName, content, declaredBytes)
	if err != nil {
		s.sender.Send("csv_bulk_upload_response", map[string]interface{}{"success": false, "fileName": fileName, "error": err.Error()})
		return
	}
	if mismatch {
		s.logger.Warn("csv bulk upload %q: declared size did not match actual decoded size", fileName)
	}

	s.runImport(ctx, tableName, path)
}

// handleCSVBulkUploadStart creates a ChunkAccumulator for a declared
// chunked upload, keyed by (appId, fileName).
func (s *Session) handleCSVBulkUploadStart(fields map[string]interface{}) {
	tableName, _ := fields["tableName"].(string)
	fileName, _ := fields["fileName"].(string)
	totalChunks, _ := toInt(fields["totalChunks"])
	fileSizeBytes, _ := toInt64(fields["fileSizeBytes"])
	rowCount, _ := toInt64(fields["rowCount"])

	_, appID, _ := s.Identity()
	key := appID + ":" + fileName

	acc := csv.NewChunkAccumulator(appID, tableName, fileName, totalChunks, fileSizeBytes, rowCount, time.Now())

	s.mu.Lock()
	s.pendingUploads[key] = acc
	s.mu.Unlock()
}

// handleCSVBulkUploadChunk stores one chunk; once every declared chunk has
// arrived, reassembles the file and runs the import pipeline.
func (s *Session) handleCSVBulkUploadChunk(ctx context.Context, fields map[string]interface{}) {
	tableName, _ := fields["tableName"].(string)
	fileName, _ := fields["fileName"].(string)
	index, _ := toInt(fields["chunkIndex"])
	content, _ := fields["chunkContent"].(string)

	_, appID, _ := s.Identity()
	key := appID + ":" + fileName

	s.mu.Lock()
	acc, ok := s.pendingUploads[key]
	s.mu.Unlock()
	if !ok {
		s.sender.Send("csv_bulk_upload_response", map[string]interface{}{"success": false, "fileName": fileName, "error": "no upload in progress for this file"})
		return
	}

	decoded, err := csv.DecodeChunk(index, content)
	if err != nil {
		s.sender.Send("csv_bulk_upload_response", map[string]interface{}{"success": false, "fileName": fileName, "error": err.Error()})
		return
	}

	if err := acc.AddChunk(index, decoded); err != nil {
		s.sender.Send("csv_bulk_upload_response", map[string]interface{}{"success": false, "fileName": fileName, "error": err.Error()})
		return
	}

	if !acc.Complete() {
		return
	}

	s.mu.Lock()
	delete(s.pendingUploads, key)
	s.mu.Unlock()

	path, err := csv.PersistChunked(s.uploadsDir, acc)
	if err != nil {
		s.sender.Send("csv_bulk_upload_response", map[string]interface{}{"success": false, "fileName": fileName, "error": err.Error()})
		return
	}

	s.runImport(ctx, tableName, path)
}

func (s *Session) runImport(ctx context.Context, tableName, path string) {
	database, err := s.database(ctx)
	if err != nil {
		s.sender.Send("csv_bulk_upload_response", map[string]interface{}{"success": false, "error": err.Error()})
		return
	}

	s.sender.Send("csv_bulk_import_progress", map[string]interface{}{"tableName": tableName, "status": "importing"})

	result, err := csv.ImportCSV(ctx, s.store, database, tableName, path)
	if err != nil {
		s.sender.Send("csv_bulk_upload_response", map[string]interface{}{"success": false, "tableName": tableName, "error": err.Error()})
		return
	}

	s.sender.Send("csv_bulk_upload_response", map[string]interface{}{
		"success":      true,
		"tableName":    tableName,
		"affectedRows": result.AffectedRows,
		"skippedRows":  result.SkippedRows,
	})
	s.sender.Send("csv_file_import_complete", map[string]interface{}{"tableName": tableName})
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func decodeTableSchema(v interface{}) (schema.TableSchema, error) {
	raw, ok := v.(map[string]interface{})
	if !ok {
		return schema.TableSchema{}, apperr.NewValidationError("schema", "schema is required")
	}

	rawColumns, _ := raw["columns"].([]interface{})
	columns := make([]schema.ColumnDescriptor, 0, len(rawColumns))
	for _, rc := range rawColumns {
		cm, ok := rc.(map[string]interface{})
		if !ok {
			continue
		}
		col := schema.ColumnDescriptor{
			ColumnName: stringField(cm, "COLUMN_NAME"),
			DataType:   stringField(cm, "DATA_TYPE"),
			IsNullable: stringField(cm, "IS_NULLABLE") == "YES",
			ColumnKey:  stringField(cm, "COLUMN_KEY"),
		}
		if n, ok := toInt64(cm["CHARACTER_MAXIMUM_LENGTH"]); ok {
			col.CharacterMaximumLen = &n
		}
		if n, ok := toInt64(cm["NUMERIC_PRECISION"]); ok {
			col.NumericPrecision = &n
		}
		if n, ok := toInt64(cm["NUMERIC_SCALE"]); ok {
			col.NumericScale = &n
		}
		if d, ok := cm["COLUMN_DEFAULT"].(string); ok {
			col.ColumnDefault = &d
		}
		if identity, ok := toInt64(cm["IS_IDENTITY"]); ok {
			col.IsIdentity = identity == 1
		}
		columns = append(columns, col)
	}

	rawIndexes, _ := raw["indexes"].([]interface{})
	indexes := make([]schema.IndexDescriptor, 0, len(rawIndexes))
	for _, ri := range rawIndexes {
		im, ok := ri.(map[string]interface{})
		if !ok {
			continue
		}
		rawCols, _ := im["columns"].([]interface{})
		cols := make([]string, 0, len(rawCols))
		for _, c := range rawCols {
			if cs, ok := c.(string); ok {
				cols = append(cols, cs)
			}
		}
		unique, _ := im["unique"].(bool)
		indexes = append(indexes, schema.IndexDescriptor{
			Name:      stringField(im, "name"),
			Columns:   cols,
			Unique:    unique,
			Direction: stringField(im, "direction"),
		})
	}

	rawPKs, _ := raw["primaryKeys"].([]interface{})
	pks := make([]string, 0, len(rawPKs))
	for _, p := range rawPKs {
		if ps, ok := p.(string); ok {
			pks = append(pks, ps)
		}
	}

	return schema.TableSchema{Columns: columns, PrimaryKeys: pks, Indexes: indexes}, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
