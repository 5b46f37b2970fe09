package repository

import (
	"errors"
	"sync"

	"gorm.io/gorm"
)

// ErrFactoryNotInitialized is returned by Global before InitializeFactory ran.
var ErrFactoryNotInitialized = errors.New("repository factory not initialized")

// Factory hands out the store shared by the webhook routes and the recovery jobs.
type Factory struct {
	db    *gorm.DB
	once  sync.Once
	repos *Repositories
}

func NewFactory(db *gorm.DB) *Factory {
	return &Factory{db: db}
}

// Store returns the repositories bound to the factory's connection pool.
func (f *Factory) Store() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// Payments is the read path the recovery scheduler scans.
func (f *Factory) Payments() PaymentRepository {
	return f.Store().Payment
}

// Ledger is the append-only webhook event log.
func (f *Factory) Ledger() WebhookEventRepository {
	return f.Store().WebhookEvent
}

var (
	globalMu      sync.RWMutex
	globalFactory *Factory
)

// InitializeFactory sets the process-wide factory. Later calls are ignored.
func InitializeFactory(db *gorm.DB) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalFactory == nil {
		globalFactory = NewFactory(db)
	}
}

// Global returns the process-wide factory.
func Global() (*Factory, error) {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalFactory == nil {
		return nil, ErrFactoryNotInitialized
	}
	return globalFactory, nil
}

func resetGlobal() {
	globalMu.Lock()
	globalFactory = nil
	globalMu.Unlock()
}
