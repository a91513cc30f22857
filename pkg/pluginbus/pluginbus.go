// Package pluginbus implements the opaque PluginBus collaborator
// (spec.md §9 "Dynamic dispatch to plugins"): native plugin loading and
// the stable C ABI it would cross are both out of scope for the core: the
// core only sees "I have N registered handlers of kind K; try them in
// registration order until one returns a result." Grounded on the
// teacher's blobserver.RegisterStorageConstructor / sorted.RegisterKeyValue
// constructor-registry pattern, generalized to four handler kinds instead
// of one.
package pluginbus

import "sync"

// RestCallback handles a REST call a plugin wants to serve, in addition to
// the calls pkg/restapi registers natively. Returning handled == false lets
// the bus try the next registered callback.
type RestCallback interface {
	TryHandle(method, uri string, body []byte) (handled bool, status int, response []byte, err error)
}

// StorageBackend is a plugin-provided alternative to pkg/storagearea.
// TryCreate/TryRead return ok == false when this backend does not own id,
// letting the bus fall through to the next registered backend.
type StorageBackend interface {
	TryCreate(id string, content []byte, mimeType string) (ok bool, err error)
	TryRead(id string) (ok bool, content []byte, err error)
}

// DecoderCallback is a plugin-provided alternative dataset decoder, tried
// before the built-in pkg/dicomtoolkit when decoding an incoming instance.
type DecoderCallback interface {
	TryDecode(raw []byte) (ok bool, dataset map[string]string, err error)
}

// JobUnserializer reconstructs a plugin-defined job (returned as
// interface{}, not as a jobs.Job) from its
// persisted type tag and JSON body, mirroring pkg/jobs's own registry but
// addressed to job kinds a plugin contributes rather than ones the core
// ships with.
type JobUnserializer interface {
	TryUnserialize(typeTag string, raw []byte) (ok bool, job interface{}, err error)
}

// Bus holds the four plugin handler registries, each tried in
// registration order until one reports it handled the request.
type Bus struct {
	mu        sync.RWMutex
	rest      []RestCallback
	storage   []StorageBackend
	decoders  []DecoderCallback
	unserials []JobUnserializer
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{}
}

func (b *Bus) RegisterRestCallback(cb RestCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rest = append(b.rest, cb)
}

func (b *Bus) RegisterStorageBackend(sb StorageBackend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.storage = append(b.storage, sb)
}

func (b *Bus) RegisterDecoderCallback(dc DecoderCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decoders = append(b.decoders, dc)
}

func (b *Bus) RegisterJobUnserializer(ju JobUnserializer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unserials = append(b.unserials, ju)
}

// DispatchRest tries each registered RestCallback in registration order,
// returning the first one that reports handled == true.
func (b *Bus) DispatchRest(method, uri string, body []byte) (handled bool, status int, response []byte, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, cb := range b.rest {
		handled, status, response, err = cb.TryHandle(method, uri, body)
		if err != nil || handled {
			return handled, status, response, err
		}
	}
	return false, 0, nil, nil
}

// DispatchCreate tries each registered StorageBackend in registration
// order, returning the first one that reports ok == true.
func (b *Bus) DispatchCreate(id string, content []byte, mimeType string) (ok bool, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sb := range b.storage {
		ok, err = sb.TryCreate(id, content, mimeType)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// DispatchRead tries each registered StorageBackend in registration
// order, returning the first one that reports ok == true.
func (b *Bus) DispatchRead(id string) (ok bool, content []byte, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sb := range b.storage {
		ok, content, err = sb.TryRead(id)
		if err != nil || ok {
			return ok, content, err
		}
	}
	return false, nil, nil
}

// DispatchDecode tries each registered DecoderCallback in registration
// order, returning the first one that reports ok == true.
func (b *Bus) DispatchDecode(raw []byte) (ok bool, dataset map[string]string, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, dc := range b.decoders {
		ok, dataset, err = dc.TryDecode(raw)
		if err != nil || ok {
			return ok, dataset, err
		}
	}
	return false, nil, nil
}

// DispatchUnserialize tries each registered JobUnserializer in
// registration order, returning the first one that reports ok == true.
func (b *Bus) DispatchUnserialize(typeTag string, raw []byte) (ok bool, job interface{}, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ju := range b.unserials {
		ok, job, err = ju.TryUnserialize(typeTag, raw)
		if err != nil || ok {
			return ok, job, err
		}
	}
	return false, nil, nil
}
