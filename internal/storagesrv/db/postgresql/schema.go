package postgresql

// schemaVersion is the schema version this engine targets. A freshly
// bootstrapped database installs it directly; older databases are walked up
// one migration at a time.
const schemaVersion = 6

// bootstrapSchema creates the full storage schema at the current version.
// Timestamps are stored as UTC TIMESTAMP columns and exposed as
// microsecond-epoch integers through as_epoch. The bump_last_modified
// trigger is the ordering backbone: it assigns every write a last_modified
// strictly greater than anything already in its (tenant, resource)
// collection, even when two transactions commit at the same wall-clock
// instant.
const bootstrapSchema = `
CREATE OR REPLACE FUNCTION as_epoch(ts TIMESTAMP) RETURNS BIGINT AS $$
BEGIN
    RETURN (EXTRACT(EPOCH FROM ts) * 1000000)::BIGINT;
END;
$$ LANGUAGE plpgsql IMMUTABLE;

CREATE TABLE IF NOT EXISTS records (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    resource_name TEXT NOT NULL,
    last_modified TIMESTAMP NOT NULL,
    data JSONB NOT NULL DEFAULT '{}'::JSONB,
    PRIMARY KEY (id, tenant_id, resource_name)
);

CREATE TABLE IF NOT EXISTS deleted (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    resource_name TEXT NOT NULL,
    last_modified TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, resource_name)
);

CREATE TABLE IF NOT EXISTS metadata (
    name TEXT NOT NULL,
    value TEXT NOT NULL
);

CREATE OR REPLACE FUNCTION collection_timestamp(uid TEXT, resource TEXT)
RETURNS TIMESTAMP AS $$
DECLARE
    ts_records TIMESTAMP;
    ts_deleted TIMESTAMP;
BEGIN
    SELECT MAX(last_modified) INTO ts_records
      FROM records
     WHERE tenant_id = uid
       AND resource_name = resource;
    SELECT MAX(last_modified) INTO ts_deleted
      FROM deleted
     WHERE tenant_id = uid
       AND resource_name = resource;
    RETURN coalesce(greatest(ts_records, ts_deleted), clock_timestamp()::TIMESTAMP);
END;
$$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION bump_last_modified() RETURNS trigger AS $$
DECLARE
    previous TIMESTAMP;
    current TIMESTAMP;
BEGIN
    -- serialize writers of one collection until commit, so the previous
    -- timestamp read below always sees the latest committed write
    PERFORM pg_advisory_xact_lock(hashtext(NEW.tenant_id || '/' || NEW.resource_name));
    previous := collection_timestamp(NEW.tenant_id, NEW.resource_name);
    current := clock_timestamp()::TIMESTAMP;
    IF previous >= current THEN
        current := previous + INTERVAL '1 microsecond';
    END IF;
    NEW.last_modified := current;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS tgr_records_last_modified ON records;
CREATE TRIGGER tgr_records_last_modified
BEFORE INSERT OR UPDATE ON records
FOR EACH ROW EXECUTE PROCEDURE bump_last_modified();

DROP TRIGGER IF EXISTS tgr_deleted_last_modified ON deleted;
CREATE TRIGGER tgr_deleted_last_modified
BEFORE INSERT OR UPDATE ON deleted
FOR EACH ROW EXECUTE PROCEDURE bump_last_modified();

CREATE INDEX IF NOT EXISTS idx_records_tenant_resource_last_modified
    ON records(tenant_id, resource_name, last_modified DESC);
CREATE INDEX IF NOT EXISTS idx_deleted_tenant_resource_last_modified
    ON deleted(tenant_id, resource_name, last_modified DESC);

INSERT INTO metadata (name, value) VALUES ('created_at', NOW()::TEXT);
INSERT INTO metadata (name, value) VALUES ('storage_schema_version', '6');
`

// migrations maps an installed version to the script bringing it one step
// forward. Each script records its resulting version in metadata so the
// migration history stays complete.
var migrations = map[int]string{
	1: migration001002,
	2: migration002003,
	3: migration003004,
	4: migration004005,
	5: migration005006,
}

// Version 1 predates migration history: add the metadata table.
const migration001002 = `
CREATE TABLE IF NOT EXISTS metadata (
    name TEXT NOT NULL,
    value TEXT NOT NULL
);
INSERT INTO metadata (name, value) VALUES ('storage_schema_version', '2');
`

// Tombstones were introduced in version 3.
const migration002003 = `
CREATE TABLE IF NOT EXISTS deleted (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    resource_name TEXT NOT NULL,
    last_modified TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, resource_name)
);
INSERT INTO metadata (name, value) VALUES ('storage_schema_version', '3');
`

// Payloads moved from JSON text to JSONB in version 4.
const migration003004 = `
ALTER TABLE records ALTER COLUMN data SET DATA TYPE JSONB USING data::JSONB;
ALTER TABLE records ALTER COLUMN data SET DEFAULT '{}'::JSONB;
INSERT INTO metadata (name, value) VALUES ('storage_schema_version', '4');
`

// Version 5 switched epochs from millisecond to microsecond precision.
const migration004005 = `
CREATE OR REPLACE FUNCTION as_epoch(ts TIMESTAMP) RETURNS BIGINT AS $$
BEGIN
    RETURN (EXTRACT(EPOCH FROM ts) * 1000000)::BIGINT;
END;
$$ LANGUAGE plpgsql IMMUTABLE;

CREATE OR REPLACE FUNCTION collection_timestamp(uid TEXT, resource TEXT)
RETURNS TIMESTAMP AS $$
DECLARE
    ts_records TIMESTAMP;
    ts_deleted TIMESTAMP;
BEGIN
    SELECT MAX(last_modified) INTO ts_records
      FROM records
     WHERE tenant_id = uid
       AND resource_name = resource;
    SELECT MAX(last_modified) INTO ts_deleted
      FROM deleted
     WHERE tenant_id = uid
       AND resource_name = resource;
    RETURN coalesce(greatest(ts_records, ts_deleted), clock_timestamp()::TIMESTAMP);
END;
$$ LANGUAGE plpgsql;

INSERT INTO metadata (name, value) VALUES ('storage_schema_version', '5');
`

// Version 6 made last_modified strictly monotonic per collection and added
// the covering indexes used by get_all.
const migration005006 = `
CREATE OR REPLACE FUNCTION bump_last_modified() RETURNS trigger AS $$
DECLARE
    previous TIMESTAMP;
    current TIMESTAMP;
BEGIN
    -- serialize writers of one collection until commit, so the previous
    -- timestamp read below always sees the latest committed write
    PERFORM pg_advisory_xact_lock(hashtext(NEW.tenant_id || '/' || NEW.resource_name));
    previous := collection_timestamp(NEW.tenant_id, NEW.resource_name);
    current := clock_timestamp()::TIMESTAMP;
    IF previous >= current THEN
        current := previous + INTERVAL '1 microsecond';
    END IF;
    NEW.last_modified := current;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS tgr_records_last_modified ON records;
CREATE TRIGGER tgr_records_last_modified
BEFORE INSERT OR UPDATE ON records
FOR EACH ROW EXECUTE PROCEDURE bump_last_modified();

DROP TRIGGER IF EXISTS tgr_deleted_last_modified ON deleted;
CREATE TRIGGER tgr_deleted_last_modified
BEFORE INSERT OR UPDATE ON deleted
FOR EACH ROW EXECUTE PROCEDURE bump_last_modified();

CREATE INDEX IF NOT EXISTS idx_records_tenant_resource_last_modified
    ON records(tenant_id, resource_name, last_modified DESC);
CREATE INDEX IF NOT EXISTS idx_deleted_tenant_resource_last_modified
    ON deleted(tenant_id, resource_name, last_modified DESC);

INSERT INTO metadata (name, value) VALUES ('storage_schema_version', '6');
`

// cacheSchema holds the TTL key-value store used by the cache backend.
const cacheSchema = `
CREATE OR REPLACE FUNCTION sec2ttl(sec INTEGER) RETURNS TIMESTAMP AS $$
BEGIN
    IF sec IS NULL THEN
        RETURN NULL;
    END IF;
    RETURN now() + (sec || ' SECOND')::INTERVAL;
END;
$$ LANGUAGE plpgsql;

CREATE TABLE IF NOT EXISTS cache (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    ttl TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_cache_ttl ON cache(ttl);
`
