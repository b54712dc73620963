// Package factory registers storage drivers by their type discriminator so
// the mount manager can construct instances from a StorageConfig without
// inspecting concrete provider types.
package factory

import (
	"context"
	"fmt"

	storagedriver "github.com/vfsgate/vfsgate/gateway/storage/driver"
)

// driverFactories stores an internal mapping between storage types and their
// respective factories.
var driverFactories = make(map[string]StorageDriverFactory)

// StorageDriverFactory is a factory interface for creating
// storagedriver.StorageDriver instances. Storage drivers call Register with
// a factory to make the driver available by type name.
type StorageDriverFactory interface {
	// Create returns a new storagedriver.StorageDriver with the given
	// parameters. Parameters vary by driver. Construction must leave the
	// driver fully initialized: a returned driver is immediately usable.
	Create(ctx context.Context, parameters map[string]interface{}) (storagedriver.StorageDriver, error)
}

// Register makes a storage driver available by the provided type name. It
// panics when called twice with the same name or with a nil factory.
func Register(name string, factory StorageDriverFactory) {
	if factory == nil {
		panic("must not provide nil StorageDriverFactory")
	}
	if _, registered := driverFactories[name]; registered {
		panic(fmt.Sprintf("StorageDriverFactory named %s already registered", name))
	}
	driverFactories[name] = factory
}

// Create constructs a storage driver with the given type name and
// parameters.
func Create(ctx context.Context, name string, parameters map[string]interface{}) (storagedriver.StorageDriver, error) {
	driverFactory, ok := driverFactories[name]
	if !ok {
		return nil, InvalidStorageDriverError{name}
	}
	return driverFactory.Create(ctx, parameters)
}

// Registered reports whether a driver type is known.
func Registered(name string) bool {
	_, ok := driverFactories[name]
	return ok
}

// InvalidStorageDriverError records an attempt to construct an unregistered
// storage driver.
type InvalidStorageDriverError struct {
	Name string
}

func (err InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("StorageDriver not registered: %s", err.Name)
}
