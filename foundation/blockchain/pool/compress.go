package pool

import (
	"github.com/pierrec/lz4/v4"
)

// CompressedPool is the transport form of a pool: lz4 block compression with
// the uncompressed length carried alongside.
type CompressedPool struct {
	UncompressedSize uint32
	Data             []byte
}

// Compress packs a sealed pool's serialization for transport. Incompressible
// pools travel raw with the size fields equal.
func Compress(p *Pool) (CompressedPool, error) {
	raw := p.Bytes()

	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, dst)
	if err != nil {
		return CompressedPool{}, err
	}
	if n == 0 || n >= len(raw) {
		return CompressedPool{UncompressedSize: uint32(len(raw)), Data: raw}, nil
	}
	return CompressedPool{UncompressedSize: uint32(len(raw)), Data: dst[:n]}, nil
}

// Decompress restores a pool from its transport form.
func Decompress(cp CompressedPool) (*Pool, error) {
	if int(cp.UncompressedSize) == len(cp.Data) {
		return FromBinary(cp.Data)
	}

	raw := make([]byte, cp.UncompressedSize)
	n, err := lz4.UncompressBlock(cp.Data, raw)
	if err != nil || n != int(cp.UncompressedSize) {
		return nil, ErrMalformedBinary
	}
	return FromBinary(raw)
}

// Put serializes the transport form onto an encoder.
func (cp CompressedPool) Put(e *Encoder) {
	e.PutUint32(cp.UncompressedSize)
	e.PutBytes(cp.Data)
}

// GetCompressedPool decodes the transport form.
func GetCompressedPool(d *Decoder) CompressedPool {
	var cp CompressedPool
	cp.UncompressedSize = d.GetUint32()
	cp.Data = d.GetBytes()
	return cp
}
