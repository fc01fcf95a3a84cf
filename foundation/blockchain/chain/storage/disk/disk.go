// Package disk implements the chain storage interface with one file per pool
// on disk, named by sequence.
package disk

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strconv"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
)

// Disk stores each pool's canonical serialization in its own file.
type Disk struct {
	dbPath string
}

// New constructs a Disk storage rooted at the given path.
func New(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	return &Disk{dbPath: dbPath}, nil
}

// Close has nothing to do since each pool file is closed after writing.
func (d *Disk) Close() error {
	return nil
}

// Write stores a pool's serialization in a file labeled with its sequence.
func (d *Disk) Write(sequence uint64, data []byte) error {
	f, err := os.OpenFile(d.getPath(sequence), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}

	return nil
}

// Read returns the serialization of the pool with the given sequence.
func (d *Disk) Read(sequence uint64) ([]byte, error) {
	return os.ReadFile(d.getPath(sequence))
}

// ForEach returns an iterator to walk the pools starting at the genesis.
func (d *Disk) ForEach() chain.Iterator {
	return &Iterator{disk: d}
}

// Reset clears the stored chain from disk.
func (d *Disk) Reset() error {
	if err := os.RemoveAll(d.dbPath); err != nil {
		return err
	}
	return os.MkdirAll(d.dbPath, 0755)
}

func (d *Disk) getPath(sequence uint64) string {
	return path.Join(d.dbPath, strconv.FormatUint(sequence, 10)+".pool")
}

// Iterator walks the pool files in sequence order.
type Iterator struct {
	disk    *Disk
	current uint64
	started bool
	eoc     bool
}

// Next retrieves the next pool from disk.
func (it *Iterator) Next() (uint64, []byte, error) {
	if it.eoc {
		return 0, nil, errors.New("end of chain")
	}

	if it.started {
		it.current++
	}
	it.started = true

	data, err := it.disk.Read(it.current)
	if errors.Is(err, fs.ErrNotExist) {
		it.eoc = true
	}

	return it.current, data, err
}

// Done reports the end of the stored chain. The probe reads ahead so Done is
// accurate before the first Next call.
func (it *Iterator) Done() bool {
	if it.eoc {
		return true
	}
	probe := it.current
	if it.started {
		probe++
	}
	if _, err := os.Stat(it.disk.getPath(probe)); errors.Is(err, fs.ErrNotExist) {
		it.eoc = true
	}
	return it.eoc
}
