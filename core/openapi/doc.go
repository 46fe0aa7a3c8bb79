package openapi

import (
	"sync"
	"sync/atomic"

	"github.com/swaggo/swag"
)

// Doc holds the latest published document. Readers never see a partially
// written document.
type Doc struct {
	data atomic.Pointer[[]byte]
	spec atomic.Pointer[Spec]
}

// NewDoc creates an empty document holder.
func NewDoc() *Doc {
	d := &Doc{}
	empty := []byte(`{"openapi":"3.0.3","info":{"title":"Conduit API","version":"1.0.0"},"paths":{}}`)
	d.data.Store(&empty)
	return d
}

// Publish replaces the document.
func (d *Doc) Publish(spec *Spec) error {
	data, err := spec.ToJSON()
	if err != nil {
		return err
	}
	d.spec.Store(spec)
	d.data.Store(&data)
	return nil
}

// Bytes returns the JSON document.
func (d *Doc) Bytes() []byte {
	return *d.data.Load()
}

// Spec returns the last published document, or nil.
func (d *Doc) Spec() *Spec {
	return d.spec.Load()
}

// ReadDoc implements swag.Swagger.
func (d *Doc) ReadDoc() string {
	return string(d.Bytes())
}

var (
	slotsMu sync.Mutex
	slots   = make(map[string]*docSlot)
)

// docSlot is what swag holds. swag refuses a second registration under the
// same name, so later docs are swapped into the existing slot.
type docSlot struct {
	cur atomic.Pointer[Doc]
}

func (s *docSlot) ReadDoc() string {
	if d := s.cur.Load(); d != nil {
		return d.ReadDoc()
	}
	return "{}"
}

// Register exposes d through swag under name, for swagger UI handlers that
// read documents by instance name.
func Register(name string, d *Doc) {
	slotsMu.Lock()
	defer slotsMu.Unlock()

	slot, ok := slots[name]
	if !ok {
		slot = &docSlot{}
		slots[name] = slot
		swag.Register(name, slot)
	}
	slot.cur.Store(d)
}
