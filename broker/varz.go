package broker

import (
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Varz is the server's statistics document. It's kept as JSON so it can be
// served as-is by the monitoring endpoint.
type Varz struct {
	mu     sync.Mutex
	values []byte
}

func NewVarz() *Varz {
	return &Varz{values: []byte("{}")}
}

// Set replaces the value at path, path uses gjson/sjson syntax.
func (v *Varz) Set(path string, value interface{}) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.values, err = sjson.SetBytes(v.values, path, value)
	return err
}

// Add adds delta to the integer counter at path, a missing counter starts
// at zero.
func (v *Varz) Add(path string, delta int64) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	current := gjson.GetBytes(v.values, path).Int()

	v.values, err = sjson.SetBytes(v.values, path, current+delta)
	return err
}

func (v *Varz) Get(path string) gjson.Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	return gjson.GetBytes(v.values, path)
}

// Snapshot returns a copy of the whole document
func (v *Varz) Snapshot() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]byte(nil), v.values...)
}
