package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- PROCESS TABLE (record id = process_id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS process SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS process_id ON process TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON process TYPE int;
    DEFINE FIELD IF NOT EXISTS user_id ON process TYPE string;
    DEFINE FIELD IF NOT EXISTS callback_url ON process TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS status ON process TYPE int DEFAULT 1 ASSERT $value >= 1 AND $value <= 9;
    DEFINE FIELD IF NOT EXISTS error_message ON process TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS file_id ON process TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS context ON process TYPE string DEFAULT "";
    -- Stage outputs are JSON text, null until the stage completes
    DEFINE FIELD IF NOT EXISTS labels ON process TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS attributes ON process TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS nodes ON process TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS graph ON process TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS dataset ON process TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS match ON process TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created_at ON process TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated_at ON process TYPE datetime VALUE time::now();

    DEFINE INDEX IF NOT EXISTS process_seq ON process FIELDS seq UNIQUE;
    DEFINE INDEX IF NOT EXISTS process_user ON process FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS process_status ON process FIELDS status;

    -- ==========================================================================
    -- SEQUENCE TABLE (named counters)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS sequence SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS value ON sequence TYPE int DEFAULT 0;

    -- ==========================================================================
    -- UPLOAD TABLE (blob metadata)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS upload SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON upload TYPE string;
    DEFINE FIELD IF NOT EXISTS link ON upload TYPE string;
    DEFINE FIELD IF NOT EXISTS blob_key ON upload TYPE string;
    DEFINE FIELD IF NOT EXISTS date_added ON upload TYPE datetime DEFAULT time::now();
`
