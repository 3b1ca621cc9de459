// Package metadata introspects schema, table, column, and relationship
// metadata from a live connection into a flat SchemaSnapshot arena.
package metadata

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// Extractor introspects a target database into a SchemaSnapshot.
type Extractor struct {
	log *logrus.Logger
}

// NewExtractor creates a metadata extractor.
func NewExtractor(log *logrus.Logger) *Extractor {
	return &Extractor{log: log}
}

const tableQuery = `
	SELECT t.table_name, t.table_type
	FROM information_schema.tables t
	WHERE t.table_schema = current_schema()
	  AND t.table_type IN ('BASE TABLE', 'VIEW')
	ORDER BY t.table_name`

const columnQuery = `
	SELECT
		c.table_name,
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		COALESCE(c.character_maximum_length, c.numeric_precision, 0) AS size,
		COALESCE(c.numeric_scale, 0) AS scale,
		c.ordinal_position,
		COALESCE(pk.is_pk, false) AS is_primary_key,
		COALESCE(col_description(pgc.oid, c.ordinal_position), '') AS comment
	FROM information_schema.columns c
	LEFT JOIN pg_class pgc ON pgc.relname = c.table_name
	LEFT JOIN pg_namespace pgn ON pgn.oid = pgc.relnamespace AND pgn.nspname = c.table_schema
	LEFT JOIN (
		SELECT t.relname AS table_name, a.attname AS column_name, true AS is_pk
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE ix.indisprimary = true AND n.nspname = current_schema()
	) pk ON c.table_name = pk.table_name AND c.column_name = pk.column_name
	WHERE c.table_schema = current_schema()
	ORDER BY c.table_name, c.ordinal_position`

const foreignKeyQuery = `
	SELECT
		tc.constraint_name,
		kcu.table_name AS source_table,
		kcu.column_name AS source_column,
		ccu.table_name AS target_table,
		ccu.column_name AS target_column
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
		ON tc.constraint_name = ccu.constraint_name
		AND tc.table_schema = ccu.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
	  AND tc.table_schema = current_schema()
	ORDER BY tc.constraint_name`

// Extract introspects the connection into a snapshot restricted to
// targetTables (empty means all tables). Foreign keys whose endpoints fall
// outside the snapshot are dropped and logged, never an error.
func (e *Extractor) Extract(ctx context.Context, conn scan.ScopedConnection, targetTables []string) (*scan.SchemaSnapshot, error) {
	db := conn.DB()

	snapshot := &scan.SchemaSnapshot{}
	if err := db.QueryRowxContext(ctx, `SELECT current_database(), current_schema()`).
		Scan(&snapshot.Catalog, &snapshot.Schema); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to resolve catalog and schema")
	}
	if err := db.QueryRowxContext(ctx, `SELECT version()`).Scan(&snapshot.ProductName); err == nil {
		snapshot.ProductName, snapshot.ProductVersion = splitProductVersion(snapshot.ProductName)
	}

	wanted := tableFilter(targetTables)

	tableIdx := make(map[string]int)
	rows, err := db.QueryxContext(ctx, tableQuery)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to query tables")
	}
	defer rows.Close()
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to scan table row")
		}
		if wanted != nil && !wanted[strings.ToLower(name)] {
			continue
		}
		tt := scan.TableTypeTable
		if tableType == "VIEW" {
			tt = scan.TableTypeView
		}
		tableIdx[name] = len(snapshot.Tables)
		snapshot.Tables = append(snapshot.Tables, scan.TableDescriptor{Name: name, Type: tt})
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to iterate tables")
	}

	if err := e.extractColumns(ctx, db, snapshot, tableIdx); err != nil {
		return nil, err
	}
	if err := e.extractRelationships(ctx, db, snapshot, tableIdx); err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (e *Extractor) extractColumns(ctx context.Context, db *sqlx.DB, snapshot *scan.SchemaSnapshot, tableIdx map[string]int) error {
	rows, err := db.QueryxContext(ctx, columnQuery)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to query columns")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tableName, columnName, dataType, comment string
			nullable, primaryKey                     bool
			size, scale, ordinal                     int
		)
		if err := rows.Scan(&tableName, &columnName, &dataType, &nullable, &size, &scale, &ordinal, &primaryKey, &comment); err != nil {
			return errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to scan column row")
		}
		ti, ok := tableIdx[tableName]
		if !ok {
			continue
		}
		ci := len(snapshot.Columns)
		snapshot.Columns = append(snapshot.Columns, scan.ColumnDescriptor{
			Ref:        scan.ColumnRef{Schema: snapshot.Schema, Table: tableName, Column: columnName},
			Category:   CategoryForType(dataType),
			DataType:   dataType,
			Nullable:   nullable,
			PrimaryKey: primaryKey,
			Size:       size,
			Scale:      scale,
			Comment:    comment,
			Ordinal:    ordinal,
		})
		snapshot.Tables[ti].Columns = append(snapshot.Tables[ti].Columns, ci)
	}
	return rows.Err()
}

func (e *Extractor) extractRelationships(ctx context.Context, db *sqlx.DB, snapshot *scan.SchemaSnapshot, tableIdx map[string]int) error {
	rows, err := db.QueryxContext(ctx, foreignKeyQuery)
	if err != nil {
		return errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to query foreign keys")
	}
	defer rows.Close()

	// (table, column) -> arena index for stitching both FK directions.
	columnIdx := make(map[[2]string]int, len(snapshot.Columns))
	for i, col := range snapshot.Columns {
		columnIdx[[2]string{col.Ref.Table, col.Ref.Column}] = i
	}

	for rows.Next() {
		var name, srcTable, srcColumn, dstTable, dstColumn string
		if err := rows.Scan(&name, &srcTable, &srcColumn, &dstTable, &dstColumn); err != nil {
			return errs.Wrap(err, errs.ErrorTypeMetadataExtraction, "failed to scan foreign key row")
		}
		from, okFrom := columnIdx[[2]string{srcTable, srcColumn}]
		to, okTo := columnIdx[[2]string{dstTable, dstColumn}]
		if !okFrom || !okTo {
			e.log.WithFields(logrus.Fields{
				"constraint": name,
				"source":     srcTable + "." + srcColumn,
				"target":     dstTable + "." + dstColumn,
			}).Debug("Dropping foreign key pointing outside the snapshot")
			continue
		}
		ri := len(snapshot.Relationships)
		snapshot.Relationships = append(snapshot.Relationships, scan.Relationship{
			Name:       name,
			FromColumn: from,
			ToColumn:   to,
		})
		snapshot.Columns[from].IsForeignKey = true
		snapshot.Tables[tableIdx[srcTable]].Exported = append(snapshot.Tables[tableIdx[srcTable]].Exported, ri)
		snapshot.Tables[tableIdx[dstTable]].Imported = append(snapshot.Tables[tableIdx[dstTable]].Imported, ri)
	}
	return rows.Err()
}

// CategoryForType maps a SQL data type name to its coarse category.
func CategoryForType(dataType string) scan.TypeCategory {
	dt := strings.ToLower(dataType)
	switch {
	case strings.Contains(dt, "bool"):
		return scan.TypeBoolean
	case strings.Contains(dt, "int"), strings.Contains(dt, "numeric"),
		strings.Contains(dt, "decimal"), strings.Contains(dt, "real"),
		strings.Contains(dt, "double"), strings.Contains(dt, "float"),
		strings.Contains(dt, "serial"), strings.Contains(dt, "money"):
		return scan.TypeNumeric
	case strings.Contains(dt, "timestamp"), strings.Contains(dt, "date"),
		strings.Contains(dt, "time"), strings.Contains(dt, "interval"):
		return scan.TypeDatetime
	case strings.Contains(dt, "bytea"), strings.Contains(dt, "blob"),
		strings.Contains(dt, "binary"):
		return scan.TypeBinary
	default:
		return scan.TypeString
	}
}

// splitProductVersion splits a server version banner such as
// "PostgreSQL 16.2 on x86_64-pc-linux-gnu" into product name and version.
func splitProductVersion(banner string) (string, string) {
	fields := strings.Fields(banner)
	if len(fields) == 0 {
		return banner, ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], fields[1]
}

func tableFilter(targetTables []string) map[string]bool {
	if len(targetTables) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(targetTables))
	for _, t := range targetTables {
		wanted[strings.ToLower(t)] = true
	}
	return wanted
}
