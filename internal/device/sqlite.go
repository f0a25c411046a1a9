package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// deviceColumns is the column list shared by every device SELECT.
const deviceColumns = `id, type, name, resource, apikey, service, subservice,
	active, lazy, commands, static_attributes, internal_attributes,
	internal_id, timezone, registration_id, subscriptions, polling,
	created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
// Listing order follows the table's autoincrement sequence.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed device registry.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Store inserts a new device.
func (r *SQLiteRepository) Store(ctx context.Context, device *Device) error {
	if device == nil || device.ID == "" {
		return ErrInvalidDevice
	}

	cols, err := marshalDeviceColumns(device)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, type, name, resource, apikey, service, subservice,
			active, lazy, commands, static_attributes, internal_attributes,
			internal_id, timezone, registration_id, subscriptions, polling,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Type,
		device.Name,
		nullableString(device.Resource),
		nullableString(device.APIKey),
		device.Service,
		device.Subservice,
		cols.active,
		cols.lazy,
		cols.commands,
		cols.static,
		cols.internal,
		nullableString(device.InternalID),
		nullableString(device.Timezone),
		nullableString(device.RegistrationID),
		cols.subscriptions,
		boolToInt(device.Polling),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Get retrieves a device by id.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetByName retrieves the oldest device with the given entity name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE name = ? ORDER BY seq LIMIT 1`, name)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return device, nil
}

// Update replaces a stored device. The row keeps its sequence number.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	if device == nil || device.ID == "" {
		return ErrInvalidDevice
	}

	cols, err := marshalDeviceColumns(device)
	if err != nil {
		return err
	}
	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			type = ?, name = ?, resource = ?, apikey = ?, service = ?, subservice = ?,
			active = ?, lazy = ?, commands = ?, static_attributes = ?, internal_attributes = ?,
			internal_id = ?, timezone = ?, registration_id = ?, subscriptions = ?, polling = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		device.Type,
		device.Name,
		nullableString(device.Resource),
		nullableString(device.APIKey),
		device.Service,
		device.Subservice,
		cols.active,
		cols.lazy,
		cols.commands,
		cols.static,
		cols.internal,
		nullableString(device.InternalID),
		nullableString(device.Timezone),
		nullableString(device.RegistrationID),
		cols.subscriptions,
		boolToInt(device.Polling),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

// Remove deletes a device by id.
func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

// List returns the devices of a tenant in insertion order.
func (r *SQLiteRepository) List(ctx context.Context, service, subservice string, limit, offset int) ([]Device, error) {
	var (
		where []string
		args  []any
	)
	if service != "" {
		where = append(where, "service = ?")
		args = append(args, service)
	}
	if subservice != "" {
		where = append(where, "subservice = ?")
		args = append(args, subservice)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Clear removes every device.
func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM devices"); err != nil {
		return fmt.Errorf("clearing devices: %w", err)
	}
	return nil
}

// deviceJSON holds the JSON-encoded columns of a device row.
type deviceJSON struct {
	active, lazy, commands, static, internal, subscriptions string
}

func marshalDeviceColumns(d *Device) (deviceJSON, error) {
	var cols deviceJSON
	fields := []struct {
		name string
		dst  *string
		src  any
	}{
		{"active", &cols.active, d.Active},
		{"lazy", &cols.lazy, d.Lazy},
		{"commands", &cols.commands, d.Commands},
		{"static_attributes", &cols.static, d.StaticAttributes},
		{"internal_attributes", &cols.internal, d.InternalAttributes},
		{"subscriptions", &cols.subscriptions, d.Subscriptions},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return deviceJSON{}, fmt.Errorf("marshalling %s: %w", f.name, err)
		}
		*f.dst = string(data)
	}
	return cols, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var resource, apikey, internalID, timezone, registrationID sql.NullString
	var cols deviceJSON
	var polling int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Type,
		&d.Name,
		&resource,
		&apikey,
		&d.Service,
		&d.Subservice,
		&cols.active,
		&cols.lazy,
		&cols.commands,
		&cols.static,
		&cols.internal,
		&internalID,
		&timezone,
		&registrationID,
		&cols.subscriptions,
		&polling,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Resource = resource.String
	d.APIKey = apikey.String
	d.InternalID = internalID.String
	d.Timezone = timezone.String
	d.RegistrationID = registrationID.String
	d.Polling = polling != 0

	var parseErr error
	if d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	for _, f := range []struct {
		name string
		src  string
		dst  any
	}{
		{"active", cols.active, &d.Active},
		{"lazy", cols.lazy, &d.Lazy},
		{"commands", cols.commands, &d.Commands},
		{"static_attributes", cols.static, &d.StaticAttributes},
		{"internal_attributes", cols.internal, &d.InternalAttributes},
		{"subscriptions", cols.subscriptions, &d.Subscriptions},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("unmarshalling %s: %w", f.name, err)
		}
	}

	return &d, nil
}

// SQLiteGroupRepository implements GroupRepository using SQLite.
type SQLiteGroupRepository struct {
	db *sql.DB
}

// NewSQLiteGroupRepository creates a new SQLite-backed group registry.
func NewSQLiteGroupRepository(db *sql.DB) *SQLiteGroupRepository {
	return &SQLiteGroupRepository{db: db}
}

const groupColumns = `resource, apikey, entity_type, service, subservice, trust, cb_host,
	active, lazy, commands, static_attributes, internal_attributes, created_at`

// Get returns the group for (resource, apikey).
func (r *SQLiteGroupRepository) Get(ctx context.Context, resource, apikey string) (*Group, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM device_groups WHERE resource = ? AND apikey = ?`,
		resource, apikey)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return g, nil
}

// Store inserts a new group.
func (r *SQLiteGroupRepository) Store(ctx context.Context, group *Group) error {
	var active, lazy, commands, static, internal string
	for name, pair := range map[string]struct {
		dst *string
		src []entity.Attribute
	}{
		"active":              {&active, group.Active},
		"lazy":                {&lazy, group.Lazy},
		"commands":            {&commands, group.Commands},
		"static_attributes":   {&static, group.StaticAttributes},
		"internal_attributes": {&internal, group.InternalAttributes},
	} {
		data, err := json.Marshal(pair.src)
		if err != nil {
			return fmt.Errorf("marshalling %s: %w", name, err)
		}
		*pair.dst = string(data)
	}

	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.Resource,
		group.APIKey,
		group.EntityType,
		group.Service,
		group.Subservice,
		nullableString(group.Trust),
		nullableString(group.CBHost),
		active, lazy, commands, static, internal,
		group.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrGroupExists
		}
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// List returns the groups of a tenant in insertion order.
func (r *SQLiteGroupRepository) List(ctx context.Context, service, subservice string) ([]Group, error) {
	query := `SELECT ` + groupColumns + ` FROM device_groups
		WHERE (? = '' OR service = ?) AND (? = '' OR subservice = ?)
		ORDER BY rowid`

	rows, err := r.db.QueryContext(ctx, query, service, service, subservice, subservice)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}
	return groups, nil
}

// Remove deletes the group for (resource, apikey).
func (r *SQLiteGroupRepository) Remove(ctx context.Context, resource, apikey string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_groups WHERE resource = ? AND apikey = ?", resource, apikey)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	return requireAffected(result, ErrGroupNotFound)
}

func scanGroup(scanner rowScanner) (*Group, error) {
	var g Group
	var trust, cbHost sql.NullString
	var active, lazy, commands, static, internal, createdAt string

	if err := scanner.Scan(
		&g.Resource, &g.APIKey, &g.EntityType, &g.Service, &g.Subservice,
		&trust, &cbHost,
		&active, &lazy, &commands, &static, &internal,
		&createdAt,
	); err != nil {
		return nil, err
	}

	g.Trust = trust.String
	g.CBHost = cbHost.String

	var err error
	if g.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	for _, f := range []struct {
		src string
		dst *[]entity.Attribute
	}{
		{active, &g.Active},
		{lazy, &g.Lazy},
		{commands, &g.Commands},
		{static, &g.StaticAttributes},
		{internal, &g.InternalAttributes},
	} {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("unmarshalling group attributes: %w", err)
		}
	}
	return &g, nil
}

// SQLiteCommandQueue implements CommandQueue using SQLite.
type SQLiteCommandQueue struct {
	db *sql.DB
}

// NewSQLiteCommandQueue creates a new SQLite-backed command queue.
func NewSQLiteCommandQueue(db *sql.DB) *SQLiteCommandQueue {
	return &SQLiteCommandQueue{db: db}
}

// Add queues a command.
func (q *SQLiteCommandQueue) Add(ctx context.Context, cmd Command) (Command, error) {
	cmd.ID = uuid.NewString()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(cmd.Value)
	if err != nil {
		return Command{}, fmt.Errorf("marshalling command value: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO command_queue (id, device_id, service, subservice, name, type, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cmd.ID, cmd.DeviceID, cmd.Service, cmd.Subservice, cmd.Name, cmd.Type,
		string(value), cmd.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Command{}, fmt.Errorf("inserting command: %w", err)
	}
	return cmd, nil
}

// List returns the queued commands of a device, oldest first.
func (q *SQLiteCommandQueue) List(ctx context.Context, service, subservice, deviceID string) ([]Command, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, device_id, service, subservice, name, type, value, created_at
		FROM command_queue
		WHERE service = ? AND subservice = ? AND device_id = ?
		ORDER BY rowid`,
		service, subservice, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		var c Command
		var value, createdAt string
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Service, &c.Subservice,
			&c.Name, &c.Type, &value, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if err := json.Unmarshal([]byte(value), &c.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling command value: %w", err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		commands = append(commands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

// Remove deletes a queued command.
func (q *SQLiteCommandQueue) Remove(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx, "DELETE FROM command_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting command: %w", err)
	}
	return requireAffected(result, ErrCommandNotFound)
}

// requireAffected returns notFound when a statement touched no rows.
func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// nullableString returns a NULL for empty strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
