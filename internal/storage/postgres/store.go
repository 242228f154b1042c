package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fieldtrack/internal/domain"
	"fieldtrack/internal/storage"
)

// Store persists visits in PostgreSQL. Writes are single-row upserts keyed
// by the full visit key, which gives the per-key atomicity the ledger
// relies on.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the visits table if it does not exist. Kept inline
// rather than in a migration tool so integration tests and small
// deployments can self-provision.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS visits (
			person_id        TEXT NOT NULL,
			location_id      TEXT NOT NULL,
			planned_date     TEXT NOT NULL,
			sequence_no      INT  NOT NULL,
			state            TEXT NOT NULL,
			check_in_at      TIMESTAMPTZ NOT NULL,
			check_in_lat     DOUBLE PRECISION NOT NULL,
			check_in_lon     DOUBLE PRECISION NOT NULL,
			check_in_dist_m  DOUBLE PRECISION NOT NULL,
			check_in_status  TEXT NOT NULL,
			check_in_token   TEXT NOT NULL,
			check_out_at     TIMESTAMPTZ,
			check_out_lat    DOUBLE PRECISION,
			check_out_lon    DOUBLE PRECISION,
			check_out_dist_m DOUBLE PRECISION,
			check_out_status TEXT,
			check_out_token  TEXT,
			duration_min     INT NOT NULL DEFAULT 0,
			attachment_ref   TEXT NOT NULL DEFAULT '',
			override_reason  TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (person_id, location_id, planned_date, sequence_no)
		);
		CREATE INDEX IF NOT EXISTS visits_person_date_idx
			ON visits (person_id, planned_date);
	`)
	if err != nil {
		return fmt.Errorf("migrate visits: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, v domain.Visit) error {
	var (
		checkOutAt     sql.NullTime
		checkOutLat    sql.NullFloat64
		checkOutLon    sql.NullFloat64
		checkOutDist   sql.NullFloat64
		checkOutStatus sql.NullString
		checkOutToken  sql.NullString
	)
	if !v.CheckOutAt.IsZero() {
		checkOutAt = sql.NullTime{Time: v.CheckOutAt, Valid: true}
		checkOutLat = sql.NullFloat64{Float64: v.CheckOutCoords.Lat, Valid: true}
		checkOutLon = sql.NullFloat64{Float64: v.CheckOutCoords.Lon, Valid: true}
		checkOutDist = sql.NullFloat64{Float64: v.CheckOutDistanceM, Valid: true}
		checkOutStatus = sql.NullString{String: string(v.CheckOutStatus), Valid: true}
		checkOutToken = sql.NullString{String: v.CheckOutToken, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (
			person_id, location_id, planned_date, sequence_no, state,
			check_in_at, check_in_lat, check_in_lon, check_in_dist_m,
			check_in_status, check_in_token,
			check_out_at, check_out_lat, check_out_lon, check_out_dist_m,
			check_out_status, check_out_token,
			duration_min, attachment_ref, override_reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (person_id, location_id, planned_date, sequence_no)
		DO UPDATE SET
			state = EXCLUDED.state,
			check_out_at = EXCLUDED.check_out_at,
			check_out_lat = EXCLUDED.check_out_lat,
			check_out_lon = EXCLUDED.check_out_lon,
			check_out_dist_m = EXCLUDED.check_out_dist_m,
			check_out_status = EXCLUDED.check_out_status,
			check_out_token = EXCLUDED.check_out_token,
			duration_min = EXCLUDED.duration_min,
			attachment_ref = EXCLUDED.attachment_ref,
			override_reason = EXCLUDED.override_reason
	`,
		v.Key.PersonID, v.Key.LocationID, v.Key.PlannedDate, v.Key.SequenceNo, string(v.State),
		v.CheckInAt, v.CheckInCoords.Lat, v.CheckInCoords.Lon, v.CheckInDistanceM,
		string(v.CheckInStatus), v.CheckInToken,
		checkOutAt, checkOutLat, checkOutLon, checkOutDist,
		checkOutStatus, checkOutToken,
		v.DurationMin, v.AttachmentRef, v.OverrideReason,
	)
	if err != nil {
		return fmt.Errorf("put visit: %w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key domain.VisitKey) (domain.Visit, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`
		WHERE person_id = $1 AND location_id = $2 AND planned_date = $3 AND sequence_no = $4
	`, key.PersonID, key.LocationID, key.PlannedDate, key.SequenceNo)

	visit, err := scanVisit(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Visit{}, storage.ErrNotFound
		}
		return domain.Visit{}, fmt.Errorf("get visit: %w", err)
	}
	return visit, nil
}

func (s *Store) ListByPerson(ctx context.Context, personID, fromDate, toDate string) ([]domain.Visit, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE person_id = $1 AND planned_date >= $2 AND planned_date <= $3
		ORDER BY planned_date, location_id, sequence_no
	`, personID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var out []domain.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("list visits: %w", err)
		}
		out = append(out, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return out, nil
}

const selectColumns = `
	SELECT person_id, location_id, planned_date, sequence_no, state,
		check_in_at, check_in_lat, check_in_lon, check_in_dist_m,
		check_in_status, check_in_token,
		check_out_at, check_out_lat, check_out_lon, check_out_dist_m,
		check_out_status, check_out_token,
		duration_min, attachment_ref, override_reason
	FROM visits
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisit(row rowScanner) (domain.Visit, error) {
	var (
		v              domain.Visit
		state          string
		checkInStatus  string
		checkOutAt     sql.NullTime
		checkOutLat    sql.NullFloat64
		checkOutLon    sql.NullFloat64
		checkOutDist   sql.NullFloat64
		checkOutStatus sql.NullString
		checkOutToken  sql.NullString
	)
	err := row.Scan(
		&v.Key.PersonID, &v.Key.LocationID, &v.Key.PlannedDate, &v.Key.SequenceNo, &state,
		&v.CheckInAt, &v.CheckInCoords.Lat, &v.CheckInCoords.Lon, &v.CheckInDistanceM,
		&checkInStatus, &v.CheckInToken,
		&checkOutAt, &checkOutLat, &checkOutLon, &checkOutDist,
		&checkOutStatus, &checkOutToken,
		&v.DurationMin, &v.AttachmentRef, &v.OverrideReason,
	)
	if err != nil {
		return domain.Visit{}, err
	}
	v.State = domain.VisitState(state)
	v.CheckInStatus = domain.GeoStatus(checkInStatus)
	v.CheckInAt = v.CheckInAt.UTC()
	if checkOutAt.Valid {
		v.CheckOutAt = checkOutAt.Time.UTC()
		v.CheckOutCoords = domain.Coordinates{Lat: checkOutLat.Float64, Lon: checkOutLon.Float64}
		v.CheckOutDistanceM = checkOutDist.Float64
		v.CheckOutStatus = domain.GeoStatus(checkOutStatus.String)
		v.CheckOutToken = checkOutToken.String
	}
	return v, nil
}
