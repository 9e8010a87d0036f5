package store

// One database per session. logs is append-only; ias holds closed intervals;
// ias_meta carries the single resumable aggregation state row. epoch_ns is
// the parsed event timestamp, kept numeric so watermark comparisons never
// depend on ISO string formatting.
const schema = `
CREATE TABLE IF NOT EXISTS logs (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    ts       TEXT    NOT NULL,
    epoch_ns INTEGER NOT NULL,
    body     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS logs_epoch_ns ON logs(epoch_ns);

CREATE TABLE IF NOT EXISTS ias (
    id       INTEGER NOT NULL,
    label    TEXT    NOT NULL,
    start_ms INTEGER NOT NULL,
    end_ms   INTEGER NOT NULL,
    html     TEXT    NOT NULL,
    x        REAL    NOT NULL,
    y        REAL    NOT NULL,
    right_x  REAL    NOT NULL,
    bottom_y REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS ias_start_ms ON ias(start_ms);

CREATE TABLE IF NOT EXISTS ias_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const stateKey = "state"
