package txlog

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
)

// OpenFunc creates the log of a resource
type OpenFunc func(name string) (Log, error)

// Registry holds the logs of all resources of one node
type Registry struct {
	logs *xsync.MapOf[string, Log]
	open OpenFunc
}

// NewRegistry creates a registry that opens missing logs with open
func NewRegistry(open OpenFunc) *Registry {
	return &Registry{
		logs: xsync.NewMapOf[string, Log](),
		open: open,
	}
}

// NewMemoryRegistry creates a registry of in-memory logs
func NewMemoryRegistry() *Registry {
	return NewRegistry(func(name string) (Log, error) {
		return NewMemoryLog(name), nil
	})
}

// NewBadgerRegistry creates a registry of logs stored in s
func NewBadgerRegistry(s *BadgerStore) *Registry {
	return NewRegistry(func(name string) (Log, error) {
		return s.Log(name), nil
	})
}

// Get returns the log of an already opened resource
func (r *Registry) Get(name string) (Log, bool) {
	return r.logs.Load(name)
}

// GetOrOpen returns the log of the resource and opens it if necessary
func (r *Registry) GetOrOpen(name string) (Log, error) {
	var openErr error
	l, _ := r.logs.Compute(name, func(old Log, loaded bool) (Log, bool) {
		if loaded {
			return old, false
		}
		created, err := r.open(name)
		if err != nil {
			openErr = err
			return nil, true
		}
		return created, false
	})
	if openErr != nil {
		return nil, openErr
	}
	return l, nil
}

// Names returns the names of all opened logs in ascending order
func (r *Registry) Names() []string {
	names := make([]string, 0, r.logs.Size())
	r.logs.Range(func(name string, _ Log) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}
