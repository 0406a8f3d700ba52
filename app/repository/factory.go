package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages the Store instance and ensures it is a singleton
type Factory struct {
	db    *gorm.DB
	store Store
	once  sync.Once
}

// NewFactory creates a new repository factory. A nil db yields an
// in-memory Store.
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetStore returns a singleton Store
func (f *Factory) GetStore() Store {
	f.once.Do(func() {
		if f.db == nil {
			f.store = NewMemoryStore()
			return
		}
		f.store = NewGormStore(f.db)
	})
	return f.store
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalStore returns the global Store instance
func GetGlobalStore() Store {
	return GetGlobalFactory().GetStore()
}
