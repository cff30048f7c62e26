package postgres

// Schema creates the documents table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id             TEXT PRIMARY KEY,
    document       TEXT NOT NULL,
    embedding      BYTEA NOT NULL,
    dimension      INTEGER NOT NULL,
    prior_category TEXT NOT NULL DEFAULT '',
    prior_type     TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(prior_category);
CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(prior_type);
`

// MigrationPgvector adds the native vector column used for L2 ordering.
// Only applied when the vector extension is available.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'documents' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE documents ADD COLUMN embedding_vec vector;
    END IF;
END
$$;
`
