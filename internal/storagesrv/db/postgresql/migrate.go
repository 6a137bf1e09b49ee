package postgresql

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dberror"
)

// InitializeSchema brings the storage schema up to schemaVersion. A fresh
// database gets the full schema in one shot; an existing one is migrated
// step by step, re-reading the installed version before each step so two
// nodes racing the same migration fail loudly instead of double-applying.
func (s *recordStore) InitializeSchema(ctx context.Context) apperrors.Error {
	version, err := s.installedVersion(ctx)
	if err != nil {
		return err
	}

	if version == 0 {
		if err := s.checkDatabaseSetup(ctx); err != nil {
			return err
		}
		err := withTx(ctx, s.pool, func(tx *sql.Tx) apperrors.Error {
			if _, errdb := tx.ExecContext(ctx, bootstrapSchema); errdb != nil {
				log.Ctx(ctx).Error().Err(errdb).Msg("failed to create storage schema")
				return dberror.ErrDatabase.Err(errdb)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Ctx(ctx).Info().Int("version", schemaVersion).Msg("created storage schema")
		return nil
	}

	for _, step := range migrationPlan(version, schemaVersion) {
		current, err := s.installedVersion(ctx)
		if err != nil {
			return err
		}
		if current != step.From {
			log.Ctx(ctx).Error().
				Int("expected", step.From).
				Int("installed", current).
				Msg("schema version changed underneath migration")
			return dberror.ErrMigrationConflict.Msg(
				"schema version changed during migration, another node may be migrating")
		}
		err = withTx(ctx, s.pool, func(tx *sql.Tx) apperrors.Error {
			if _, errdb := tx.ExecContext(ctx, step.Script); errdb != nil {
				log.Ctx(ctx).Error().Err(errdb).
					Int("from", step.From).Int("to", step.To).
					Msg("schema migration step failed")
				return dberror.ErrDatabase.Err(errdb)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Ctx(ctx).Info().Int("from", step.From).Int("to", step.To).Msg("migrated storage schema")
	}
	return nil
}

// migrationStep is one upgrade from version From to From+1.
type migrationStep struct {
	From   int
	To     int
	Script string
}

// migrationPlan lists the steps needed to go from installed to target.
// Versions at or past the target yield an empty plan.
func migrationPlan(installed, target int) []migrationStep {
	var plan []migrationStep
	for v := installed; v < target; v++ {
		plan = append(plan, migrationStep{From: v, To: v + 1, Script: migrations[v]})
	}
	return plan
}

// installedVersion reads the schema version recorded in the metadata table.
// It returns 0 for a database that has never been bootstrapped. Databases
// created before the metadata table existed are detected by probing for the
// records table and reported as version 1.
func (s *recordStore) installedVersion(ctx context.Context) (int, apperrors.Error) {
	version := 0
	err := withConn(ctx, s.pool, func(conn *sql.Conn) apperrors.Error {
		var exists bool
		errdb := conn.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_tables
				WHERE schemaname = current_schema() AND tablename = 'metadata'
			);`).Scan(&exists)
		if errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		if !exists {
			return s.versionWithoutMetadata(ctx, conn, &version)
		}

		var value string
		errdb = conn.QueryRowContext(ctx, `
			SELECT value
			  FROM metadata
			 WHERE name = 'storage_schema_version'
			 ORDER BY LPAD(value, 3, '0') DESC
			 LIMIT 1;`).Scan(&value)
		if errdb == sql.ErrNoRows {
			return s.versionWithoutRow(ctx, conn, &version)
		}
		if errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		v, errconv := strconv.Atoi(value)
		if errconv != nil {
			return dberror.ErrDatabase.MsgErr("invalid schema version in metadata", errconv)
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// versionWithoutMetadata handles databases predating the metadata table.
func (s *recordStore) versionWithoutMetadata(ctx context.Context, conn *sql.Conn, version *int) apperrors.Error {
	var hasRecords bool
	errdb := conn.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_tables
			WHERE schemaname = current_schema() AND tablename = 'records'
		);`).Scan(&hasRecords)
	if errdb != nil {
		return dberror.ErrDatabase.Err(errdb)
	}
	if hasRecords {
		*version = 1
		return nil
	}
	*version = 0
	return nil
}

// versionWithoutRow handles a metadata table with no version row. An empty
// metadata table means the schema was created wholesale and the version row
// was lost, so the current version is assumed. Any other metadata row means
// it is an old pre-versioning database.
func (s *recordStore) versionWithoutRow(ctx context.Context, conn *sql.Conn, version *int) apperrors.Error {
	var rows int
	errdb := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata;`).Scan(&rows)
	if errdb != nil {
		return dberror.ErrDatabase.Err(errdb)
	}
	if rows == 0 {
		log.Ctx(ctx).Warn().Msg("metadata table has no version row, assuming current schema version")
		*version = schemaVersion
		return nil
	}
	*version = 1
	return nil
}

// checkDatabaseSetup verifies the database is usable before bootstrapping.
// A non-UTF8 encoding corrupts JSON payloads and is a hard error. A
// non-UTC timezone only skews log readability and gets a warning.
func (s *recordStore) checkDatabaseSetup(ctx context.Context) apperrors.Error {
	return withConn(ctx, s.pool, func(conn *sql.Conn) apperrors.Error {
		var encoding string
		errdb := conn.QueryRowContext(ctx, `
			SELECT pg_encoding_to_char(encoding) AS encoding
			  FROM pg_database
			 WHERE datname = current_database();`).Scan(&encoding)
		if errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		if encoding != "UTF8" {
			log.Ctx(ctx).Error().Str("encoding", encoding).Msg("database encoding must be UTF8")
			return dberror.ErrSchemaEncoding.Msg("database encoding is " + encoding + ", expected UTF8")
		}

		var timezone string
		if errdb := conn.QueryRowContext(ctx, `SHOW TIMEZONE;`).Scan(&timezone); errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		if timezone != "UTC" {
			log.Ctx(ctx).Warn().Str("timezone", timezone).Msg("database timezone is not UTC")
		}
		return nil
	})
}
