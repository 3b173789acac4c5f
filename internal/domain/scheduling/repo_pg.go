package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/care/emr/internal/platform/apperr"
	"github.com/care/emr/internal/platform/db"
)

// =========== Resource Repository ===========

type resourceRepoPG struct{ pool *pgxpool.Pool }

func NewResourceRepoPG(pool *pgxpool.Pool) ResourceRepository { return &resourceRepoPG{pool: pool} }

const resourceCols = `r.id, r.external_id, r.facility_id, r.resource_type, r.user_id, u.external_id, r.created_at`

const resourceFrom = ` FROM schedulable_resource r JOIN emr_user u ON u.id = r.user_id`

func scanResource(row pgx.Row) (*Resource, error) {
	var r Resource
	err := row.Scan(&r.ID, &r.ExternalID, &r.FacilityID, &r.ResourceType, &r.UserID, &r.User, &r.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("schedulable resource")
		}
		return nil, err
	}
	return &r, nil
}

func (r *resourceRepoPG) GetOrCreate(ctx context.Context, facilityID int64, resourceType string, userID int64) (*Resource, error) {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO schedulable_resource (external_id, facility_id, resource_type, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (facility_id, resource_type, user_id) DO NOTHING`,
		uuid.New(), facilityID, resourceType, userID)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, facilityID, resourceType, userID)
}

func (r *resourceRepoPG) Get(ctx context.Context, facilityID int64, resourceType string, userID int64) (*Resource, error) {
	return scanResource(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+resourceCols+resourceFrom+`
		WHERE r.facility_id = $1 AND r.resource_type = $2 AND r.user_id = $3`, facilityID, resourceType, userID))
}

func (r *resourceRepoPG) GetByID(ctx context.Context, id int64) (*Resource, error) {
	return scanResource(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+resourceCols+resourceFrom+` WHERE r.id = $1`, id))
}

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

const schedCols = `s.id, s.external_id, s.resource_id, s.name, s.valid_from, s.valid_to, s.created_by_id,
	s.created_at, s.updated_at, ` + resourceCols

const schedFrom = ` FROM schedule s JOIN schedulable_resource r ON r.id = s.resource_id JOIN emr_user u ON u.id = r.user_id`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var res Resource
	err := row.Scan(&s.ID, &s.ExternalID, &s.ResourceID, &s.Name, &s.ValidFrom, &s.ValidTo, &s.CreatedByID,
		&s.CreatedAt, &s.UpdatedAt,
		&res.ID, &res.ExternalID, &res.FacilityID, &res.ResourceType, &res.UserID, &res.User, &res.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("schedule")
		}
		return nil, err
	}
	s.Resource = &res
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	if s.ExternalID == uuid.Nil {
		s.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO schedule (external_id, resource_id, name, valid_from, valid_to, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		s.ExternalID, s.ResourceID, s.Name, s.ValidFrom, s.ValidTo, s.CreatedByID,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *scheduleRepoPG) GetByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Schedule, error) {
	return scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+schedCols+schedFrom+` WHERE s.external_id = $1 AND r.facility_id = $2`, id, facilityID))
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *Schedule) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE schedule SET name = $2, valid_from = $3, valid_to = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.Name, s.ValidFrom, s.ValidTo,
	).Scan(&s.UpdatedAt)
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM schedule WHERE id = $1`, id)
	return err
}

func (r *scheduleRepoPG) List(ctx context.Context, facilityID, resourceID int64, limit, offset int) ([]*Schedule, int, error) {
	const where = ` WHERE r.facility_id = $1 AND ($2::BIGINT = 0 OR s.resource_id = $2)`
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+schedFrom+where, facilityID, resourceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+schedCols+schedFrom+where+
		` ORDER BY s.valid_from DESC LIMIT $3 OFFSET $4`, facilityID, resourceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *scheduleRepoPG) HasBookings(ctx context.Context, scheduleID int64) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM token_booking b
			JOIN token_slot ts ON ts.id = b.token_slot_id
			JOIN availability a ON a.id = ts.availability_id
			WHERE a.schedule_id = $1 AND NOT (b.status = ANY($2))
		)`, scheduleID, releasingStatuses()).Scan(&exists)
	return exists, err
}

func releasingStatuses() []string {
	out := make([]string, 0, len(releasing))
	for s := range releasing {
		out = append(out, s)
	}
	return out
}

const availabilityCols = `a.id, a.external_id, a.schedule_id, a.name, a.slot_type, a.slot_size_in_minutes,
	a.tokens_per_slot, a.create_tokens, a.reason, a.availability`

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var size, tokens *int
	err := row.Scan(&a.ID, &a.ExternalID, &a.ScheduleID, &a.Name, &a.SlotType, &size, &tokens,
		&a.CreateTokens, &a.Reason, &a.Windows)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("availability")
		}
		return nil, err
	}
	if size != nil {
		a.SlotSizeInMinutes = *size
	}
	if tokens != nil {
		a.TokensPerSlot = *tokens
	}
	return &a, nil
}

func positive(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func (r *scheduleRepoPG) CreateAvailability(ctx context.Context, a *Availability) error {
	if a.ExternalID == uuid.Nil {
		a.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability (external_id, schedule_id, name, slot_type, slot_size_in_minutes, tokens_per_slot,
			create_tokens, reason, availability)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		a.ExternalID, a.ScheduleID, a.Name, a.SlotType, positive(a.SlotSizeInMinutes), positive(a.TokensPerSlot),
		a.CreateTokens, a.Reason, a.Windows,
	).Scan(&a.ID)
}

func (r *scheduleRepoPG) GetAvailability(ctx context.Context, scheduleID int64, id uuid.UUID) (*Availability, error) {
	return scanAvailability(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+availabilityCols+` FROM availability a WHERE a.schedule_id = $1 AND a.external_id = $2`, scheduleID, id))
}

func (r *scheduleRepoPG) DeleteAvailability(ctx context.Context, id int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Conflict("Availability has slots and cannot be deleted")
	}
	return err
}

func (r *scheduleRepoPG) queryAvailabilities(ctx context.Context, query string, args ...interface{}) ([]*Availability, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *scheduleRepoPG) ListAvailabilities(ctx context.Context, scheduleID int64) ([]*Availability, error) {
	return r.queryAvailabilities(ctx, `SELECT `+availabilityCols+` FROM availability a
		WHERE a.schedule_id = $1 ORDER BY a.id`, scheduleID)
}

func (r *scheduleRepoPG) ActiveAvailabilities(ctx context.Context, resourceID int64, from, to time.Time) ([]*Availability, error) {
	return r.queryAvailabilities(ctx, `SELECT `+availabilityCols+` FROM availability a
		JOIN schedule s ON s.id = a.schedule_id
		WHERE s.resource_id = $1 AND a.slot_type = $2 AND s.valid_from < $4 AND s.valid_to >= $3
		ORDER BY a.id`, resourceID, SlotTypeAppointment, from, to)
}

// =========== Exception Repository ===========

type exceptionRepoPG struct{ pool *pgxpool.Pool }

func NewExceptionRepoPG(pool *pgxpool.Pool) ExceptionRepository { return &exceptionRepoPG{pool: pool} }

const exceptionCols = `e.id, e.external_id, e.resource_id, e.name, e.reason, e.valid_from, e.valid_to,
	EXTRACT(EPOCH FROM e.start_time)::INT, EXTRACT(EPOCH FROM e.end_time)::INT, e.created_at`

const exceptionFrom = ` FROM availability_exception e JOIN schedulable_resource r ON r.id = e.resource_id`

func scanException(row pgx.Row) (*Exception, error) {
	var e Exception
	var start, end int
	err := row.Scan(&e.ID, &e.ExternalID, &e.ResourceID, &e.Name, &e.Reason, &e.ValidFrom.Time, &e.ValidTo.Time,
		&start, &end, &e.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("availability exception")
		}
		return nil, err
	}
	e.StartTime, e.EndTime = Clock(start), Clock(end)
	return &e, nil
}

func (r *exceptionRepoPG) Create(ctx context.Context, e *Exception) error {
	if e.ExternalID == uuid.Nil {
		e.ExternalID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability_exception (external_id, resource_id, name, reason, valid_from, valid_to,
			start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7::TIME, $8::TIME)
		RETURNING id, created_at`,
		e.ExternalID, e.ResourceID, e.Name, e.Reason, e.ValidFrom.Time, e.ValidTo.Time,
		e.StartTime.String(), e.EndTime.String(),
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *exceptionRepoPG) GetByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Exception, error) {
	return scanException(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+exceptionCols+exceptionFrom+` WHERE e.external_id = $1 AND r.facility_id = $2`, id, facilityID))
}

func (r *exceptionRepoPG) Update(ctx context.Context, e *Exception) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE availability_exception SET name = $2, reason = $3, valid_from = $4, valid_to = $5,
			start_time = $6::TIME, end_time = $7::TIME
		WHERE id = $1`,
		e.ID, e.Name, e.Reason, e.ValidFrom.Time, e.ValidTo.Time, e.StartTime.String(), e.EndTime.String())
	return err
}

func (r *exceptionRepoPG) Delete(ctx context.Context, id int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM availability_exception WHERE id = $1`, id)
	return err
}

func (r *exceptionRepoPG) query(ctx context.Context, query string, args ...interface{}) ([]*Exception, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *exceptionRepoPG) List(ctx context.Context, facilityID, resourceID int64, limit, offset int) ([]*Exception, int, error) {
	const where = ` WHERE r.facility_id = $1 AND ($2::BIGINT = 0 OR e.resource_id = $2)`
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+exceptionFrom+where, facilityID, resourceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	out, err := r.query(ctx, `SELECT `+exceptionCols+exceptionFrom+where+
		` ORDER BY e.valid_from LIMIT $3 OFFSET $4`, facilityID, resourceID, limit, offset)
	return out, total, err
}

func (r *exceptionRepoPG) ListOn(ctx context.Context, resourceID int64, from, to time.Time) ([]*Exception, error) {
	return r.query(ctx, `SELECT `+exceptionCols+exceptionFrom+`
		WHERE e.resource_id = $1 AND e.valid_from <= $3::DATE AND e.valid_to >= $2::DATE
		ORDER BY e.valid_from`, resourceID, from, to)
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

const slotCols = `ts.id, ts.external_id, ts.resource_id, r.facility_id, ts.availability_id, a.external_id, a.name,
	COALESCE(a.tokens_per_slot, 0), ts.start_datetime, ts.end_datetime, ts.allocated`

const slotFrom = ` FROM token_slot ts
	JOIN availability a ON a.id = ts.availability_id
	JOIN schedulable_resource r ON r.id = ts.resource_id`

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.ExternalID, &s.ResourceID, &s.FacilityID, &s.AvailabilityID,
		&s.Availability.ID, &s.Availability.Name, &s.Availability.TokensPerSlot,
		&s.StartDatetime, &s.EndDatetime, &s.Allocated)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("slot")
		}
		return nil, err
	}
	return &s, nil
}

func (r *slotRepoPG) CreateMany(ctx context.Context, resourceID int64, slots []candidate) error {
	if len(slots) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(slots))
	avs := make([]int64, len(slots))
	starts := make([]time.Time, len(slots))
	ends := make([]time.Time, len(slots))
	for i, c := range slots {
		ids[i], avs[i], starts[i], ends[i] = uuid.New(), c.availabilityID, c.start, c.end
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO token_slot (external_id, resource_id, availability_id, start_datetime, end_datetime)
		SELECT unnest($1::UUID[]), $2, unnest($3::BIGINT[]), unnest($4::TIMESTAMPTZ[]), unnest($5::TIMESTAMPTZ[])
		ON CONFLICT (resource_id, availability_id, start_datetime, end_datetime) DO NOTHING`,
		ids, resourceID, avs, starts, ends)
	return err
}

func (r *slotRepoPG) ListBetween(ctx context.Context, resourceID int64, from, to time.Time) ([]*Slot, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+slotCols+slotFrom+`
		WHERE ts.resource_id = $1 AND ts.start_datetime >= $2 AND ts.start_datetime < $3
		ORDER BY ts.start_datetime, ts.id`, resourceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *slotRepoPG) GetByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+slotFrom+` WHERE ts.external_id = $1 AND r.facility_id = $2`, id, facilityID))
}

func (r *slotRepoPG) LockByExternalID(ctx context.Context, facilityID int64, id uuid.UUID) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+slotFrom+` WHERE ts.external_id = $1 AND r.facility_id = $2 FOR UPDATE OF ts`, id, facilityID))
}

func (r *slotRepoPG) LockByID(ctx context.Context, id int64) (*Slot, error) {
	return scanSlot(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+slotCols+slotFrom+` WHERE ts.id = $1 FOR UPDATE OF ts`, id))
}

func (r *slotRepoPG) SetAllocated(ctx context.Context, id int64, allocated int) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE token_slot SET allocated = $2 WHERE id = $1`, id, allocated)
	return err
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository { return &bookingRepoPG{pool: pool} }

const bookingCols = `b.id, b.external_id, b.token_slot_id, b.patient_id, p.external_id, b.status, b.booked_by_id,
	b.reason_for_visit, b.created_at, b.updated_at, ` + slotCols

const bookingFrom = ` FROM token_booking b
	JOIN patient p ON p.id = b.patient_id
	JOIN token_slot ts ON ts.id = b.token_slot_id
	JOIN availability a ON a.id = ts.availability_id
	JOIN schedulable_resource r ON r.id = ts.resource_id`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var s Slot
	err := row.Scan(&b.ID, &b.ExternalID, &b.SlotID, &b.PatientID, &b.Patient, &b.Status, &b.BookedByID,
		&b.ReasonForVisit, &b.CreatedAt, &b.UpdatedAt,
		&s.ID, &s.ExternalID, &s.ResourceID, &s.FacilityID, &s.AvailabilityID,
		&s.Availability.ID, &s.Availability.Name, &s.Availability.TokensPerSlot,
		&s.StartDatetime, &s.EndDatetime, &s.Allocated)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("booking")
		}
		return nil, err
	}
	b.Slot = &s
	return &b, nil
}

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	if b.ExternalID == uuid.Nil {
		b.ExternalID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO token_booking (external_id, token_slot_id, patient_id, status, booked_by_id, reason_for_visit)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		b.ExternalID, b.SlotID, b.PatientID, b.Status, b.BookedByID, b.ReasonForVisit,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("Patient already has a booking for this slot")
	}
	return err
}

func (r *bookingRepoPG) GetByExternalID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return scanBooking(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bookingCols+bookingFrom+` WHERE b.external_id = $1`, id))
}

func (r *bookingRepoPG) UpdateStatus(ctx context.Context, b *Booking) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE token_booking SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING updated_at`,
		b.ID, b.Status).Scan(&b.UpdatedAt)
}

func (r *bookingRepoPG) List(ctx context.Context, f BookingFilter) ([]*Booking, int, error) {
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	conds := []string{"TRUE"}
	if f.FacilityID != 0 {
		conds = append(conds, "r.facility_id = "+arg(f.FacilityID))
	}
	if f.PatientID != 0 {
		conds = append(conds, "b.patient_id = "+arg(f.PatientID))
	}
	if f.ResourceID != 0 {
		conds = append(conds, "ts.resource_id = "+arg(f.ResourceID))
	}
	if f.Status != "" {
		conds = append(conds, "b.status = "+arg(f.Status))
	}
	if f.Day != nil {
		conds = append(conds, "ts.start_datetime >= "+arg(*f.Day)+" AND ts.start_datetime < "+arg(f.Day.AddDate(0, 0, 1)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*)`+bookingFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + bookingCols + bookingFrom + where +
		fmt.Sprintf(` ORDER BY ts.start_datetime, b.id LIMIT %s OFFSET %s`, arg(f.Limit), arg(f.Offset))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}
