package postgres

// SQL constants for store operations.

const (
	upsertConnectorData = `
		INSERT INTO connector_data (system_id, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (system_id)
		DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`

	selectConnectorData = `
		SELECT data FROM connector_data WHERE system_id = $1`

	upsertPageCookie = `
		INSERT INTO page_cookies (system_id, container_id, object_type_id, cookie, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (system_id, container_id, object_type_id)
		DO UPDATE SET cookie = EXCLUDED.cookie, updated_at = NOW()`

	selectPageCookie = `
		SELECT cookie FROM page_cookies
		WHERE system_id = $1 AND container_id = $2 AND object_type_id = $3`

	deletePageCookie = `
		DELETE FROM page_cookies
		WHERE system_id = $1 AND container_id = $2 AND object_type_id = $3`

	upsertPendingExport = `
		INSERT INTO pending_exports (export_id, system_id, object_id, object_dn, change_type, status, last_attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (export_id)
		DO UPDATE SET
			object_dn = EXCLUDED.object_dn,
			change_type = EXCLUDED.change_type,
			status = EXCLUDED.status,
			last_attempt = EXCLUDED.last_attempt`

	deletePendingExportChanges = `
		DELETE FROM pending_export_changes WHERE export_id = $1`

	insertPendingExportChange = `
		INSERT INTO pending_export_changes (
			change_id, export_id, ordinal, attribute_name, change_type,
			value_kind, value, status, attempt_count, last_imported
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	deletePendingExport = `
		DELETE FROM pending_exports WHERE export_id = $1`

	selectPendingExportsByObject = `
		SELECT export_id, object_id, object_dn, change_type, status, last_attempt
		FROM pending_exports
		WHERE object_id = $1`

	selectPendingExportsBySystem = `
		SELECT export_id, object_id, object_dn, change_type, status, last_attempt
		FROM pending_exports
		WHERE system_id = $1`

	selectChangesByExport = `
		SELECT change_id, attribute_name, change_type, value_kind, value, status, attempt_count, last_imported
		FROM pending_export_changes
		WHERE export_id = $1
		ORDER BY ordinal`
)
