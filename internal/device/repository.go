package device

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the device registry contract consumed by the protocol engine.
// Implementations must give read-your-writes consistency per device id and
// must list devices in insertion order.
type Repository interface {
	// Store inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Store(ctx context.Context, device *Device) error

	// Get retrieves a device by id.
	// Returns ErrDeviceNotFound if the device does not exist.
	Get(ctx context.Context, id string) (*Device, error)

	// GetByName retrieves a device by the name of its primary entity.
	// Returns ErrDeviceNotFound if no device has that name.
	GetByName(ctx context.Context, name string) (*Device, error)

	// Update replaces a stored device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Remove deletes a device by id.
	// Returns ErrDeviceNotFound if the device does not exist.
	Remove(ctx context.Context, id string) error

	// List returns devices of a tenant. Empty service or subservice match any.
	// A non-positive limit returns every device from offset onwards.
	List(ctx context.Context, service, subservice string, limit, offset int) ([]Device, error)

	// Clear removes every device.
	Clear(ctx context.Context) error
}

// GroupRepository stores device groups keyed by (resource, apikey).
type GroupRepository interface {
	// Get returns ErrGroupNotFound when no group matches.
	Get(ctx context.Context, resource, apikey string) (*Group, error)
	Store(ctx context.Context, group *Group) error
	List(ctx context.Context, service, subservice string) ([]Group, error)
	Remove(ctx context.Context, resource, apikey string) error
}

// CommandQueue holds commands for polling devices until they are fetched.
type CommandQueue interface {
	// Add queues a command, assigning its ID and creation time.
	Add(ctx context.Context, cmd Command) (Command, error)

	// List returns the queued commands of a device, oldest first.
	List(ctx context.Context, service, subservice, deviceID string) ([]Command, error)

	// Remove deletes a queued command.
	// Returns ErrCommandNotFound if it is not queued.
	Remove(ctx context.Context, id string) error
}

// MemoryRepository is a transient Repository.
//
// Thread Safety: all methods are safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Device
	order   []string
}

// NewMemoryRepository creates an empty in-memory device registry.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*Device)}
}

// Store inserts a new device.
func (r *MemoryRepository) Store(_ context.Context, device *Device) error {
	if device == nil || device.ID == "" {
		return ErrInvalidDevice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[device.ID]; ok {
		return ErrDeviceExists
	}

	stored := device.DeepCopy()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	device.CreatedAt, device.UpdatedAt = stored.CreatedAt, stored.UpdatedAt

	r.devices[device.ID] = stored
	r.order = append(r.order, device.ID)
	return nil
}

// Get retrieves a device by id.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// GetByName retrieves a device by entity name.
func (r *MemoryRepository) GetByName(_ context.Context, name string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if d := r.devices[id]; d.Name == name {
			return d.DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

// Update replaces a stored device, keeping its position in the listing order.
func (r *MemoryRepository) Update(_ context.Context, device *Device) error {
	if device == nil || device.ID == "" {
		return ErrInvalidDevice
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.devices[device.ID]
	if !ok {
		return ErrDeviceNotFound
	}

	stored := device.DeepCopy()
	stored.CreatedAt = old.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	device.UpdatedAt = stored.UpdatedAt

	r.devices[device.ID] = stored
	return nil
}

// Remove deletes a device by id.
func (r *MemoryRepository) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(r.devices, id)

	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns the devices of a tenant in insertion order.
func (r *MemoryRepository) List(_ context.Context, service, subservice string, limit, offset int) ([]Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Device
	for _, id := range r.order {
		d := r.devices[id]
		if service != "" && d.Service != service {
			continue
		}
		if subservice != "" && d.Subservice != subservice {
			continue
		}
		matched = append(matched, *d.DeepCopy())
	}

	return paginate(matched, limit, offset), nil
}

// Clear removes every device.
func (r *MemoryRepository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[string]*Device)
	r.order = nil
	return nil
}

func paginate(devices []Device, limit, offset int) []Device {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(devices) {
		return []Device{}
	}
	devices = devices[offset:]
	if limit > 0 && limit < len(devices) {
		devices = devices[:limit]
	}
	return devices
}

// groupKey identifies a group in the memory store.
type groupKey struct {
	resource string
	apikey   string
}

// MemoryGroupRepository is a transient GroupRepository.
type MemoryGroupRepository struct {
	mu     sync.RWMutex
	groups map[groupKey]*Group
	order  []groupKey
}

// NewMemoryGroupRepository creates an empty in-memory group registry.
func NewMemoryGroupRepository() *MemoryGroupRepository {
	return &MemoryGroupRepository{groups: make(map[groupKey]*Group)}
}

// Get returns the group for (resource, apikey).
func (r *MemoryGroupRepository) Get(_ context.Context, resource, apikey string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupKey{resource, apikey}]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.DeepCopy(), nil
}

// Store inserts a new group.
func (r *MemoryGroupRepository) Store(_ context.Context, group *Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := groupKey{group.Resource, group.APIKey}
	if _, ok := r.groups[key]; ok {
		return ErrGroupExists
	}
	cpy := group.DeepCopy()
	if cpy.CreatedAt.IsZero() {
		cpy.CreatedAt = time.Now().UTC()
	}
	r.groups[key] = cpy
	r.order = append(r.order, key)
	return nil
}

// List returns the groups of a tenant in insertion order.
func (r *MemoryGroupRepository) List(_ context.Context, service, subservice string) ([]Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var groups []Group
	for _, key := range r.order {
		g := r.groups[key]
		if service != "" && g.Service != service {
			continue
		}
		if subservice != "" && g.Subservice != subservice {
			continue
		}
		groups = append(groups, *g.DeepCopy())
	}
	return groups, nil
}

// Remove deletes the group for (resource, apikey).
func (r *MemoryGroupRepository) Remove(_ context.Context, resource, apikey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := groupKey{resource, apikey}
	if _, ok := r.groups[key]; !ok {
		return ErrGroupNotFound
	}
	delete(r.groups, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// MemoryCommandQueue is a transient CommandQueue.
type MemoryCommandQueue struct {
	mu       sync.Mutex
	commands []Command
}

// NewMemoryCommandQueue creates an empty in-memory command queue.
func NewMemoryCommandQueue() *MemoryCommandQueue {
	return &MemoryCommandQueue{}
}

// Add queues a command.
func (q *MemoryCommandQueue) Add(_ context.Context, cmd Command) (Command, error) {
	cmd.ID = uuid.NewString()
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	q.mu.Lock()
	q.commands = append(q.commands, cmd)
	q.mu.Unlock()
	return cmd, nil
}

// List returns the queued commands of a device.
func (q *MemoryCommandQueue) List(_ context.Context, service, subservice, deviceID string) ([]Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Command
	for _, c := range q.commands {
		if c.Service == service && c.Subservice == subservice && c.DeviceID == deviceID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Remove deletes a queued command.
func (q *MemoryCommandQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, c := range q.commands {
		if c.ID == id {
			q.commands = append(q.commands[:i], q.commands[i+1:]...)
			return nil
		}
	}
	return ErrCommandNotFound
}
