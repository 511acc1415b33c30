package store

// Schema is the DDL for the history tables.
const Schema = `
-- One row per published emission.
CREATE TABLE IF NOT EXISTS emissions (
    id         TEXT PRIMARY KEY,
    page_id    TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    raw        TEXT NOT NULL,
    placement  TEXT NOT NULL,
    active     TEXT NOT NULL,
    castling   TEXT NOT NULL,
    en_passant TEXT NOT NULL,
    halfmove   TEXT NOT NULL,
    fullmove   TEXT NOT NULL,
    source     TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_emissions_page ON emissions(page_id, created_at DESC);

-- Watched pages and the notification strategy each one ended up with.
CREATE TABLE IF NOT EXISTS pages (
    page_id    TEXT PRIMARY KEY,
    url        TEXT NOT NULL,
    strategy   TEXT NOT NULL DEFAULT '',
    fallback   INTEGER NOT NULL DEFAULT 0,
    started_at INTEGER NOT NULL,
    last_seen  INTEGER NOT NULL
);
`
