package postgres

const querySchema = `
CREATE TABLE IF NOT EXISTS trip_history (
    id            BIGSERIAL PRIMARY KEY,
    created_at    TIMESTAMPTZ NOT NULL,
    trip          JSONB NOT NULL DEFAULT '{}'::jsonb,
    passengers    JSONB NOT NULL DEFAULT '{}'::jsonb,
    home_address  TEXT NOT NULL DEFAULT '',
    parking_raw   TEXT NOT NULL DEFAULT '',
    departure_raw TEXT NOT NULL DEFAULT '',
    flight_raw    TEXT NOT NULL DEFAULT ''
)`

const queryInsertEntry = `
INSERT INTO trip_history (created_at, trip, passengers, home_address, parking_raw, departure_raw, flight_raw)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// $1 is the number of entries to keep.
const queryEvictOldest = `
DELETE FROM trip_history
WHERE id NOT IN (
    SELECT id FROM trip_history
    ORDER BY id DESC
    LIMIT $1
)
`

const queryListEntries = `
SELECT created_at, trip, passengers, home_address, parking_raw, departure_raw, flight_raw
FROM (
    SELECT * FROM trip_history
    ORDER BY id DESC
    LIMIT $1
) recent
ORDER BY id ASC
`
