package patch

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/DataDog/zstd"

	"github.com/notargets/gopic/types"
)

// Message is one tagged part of a migrating patch. On the wire its tag is
// hindex*Params.NMessage() + Offset.
type Message struct {
	Offset  int
	Payload []byte
}

// Encode serializes v with gob and compresses the result.
func Encode(v any) (b []byte, err error) {
	var buf bytes.Buffer
	if err = gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	if b, err = zstd.CompressLevel(nil, buf.Bytes(), 1); err != nil {
		return nil, fmt.Errorf("compressing %T: %w", v, err)
	}
	return
}

func Decode(data []byte, v any) (err error) {
	var raw []byte
	if raw, err = zstd.Decompress(nil, data); err != nil {
		return fmt.Errorf("decompressing %T: %w", v, err)
	}
	if err = gob.NewDecoder(bytes.NewReader(raw)).Decode(v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return
}

type speciesBook struct {
	Scalars SpeciesScalars
	Bound   [3][2]types.PartBC
}

type fieldState struct {
	Data         []float64
	Scalars      EMScalars
	LaserEnabled bool
}

func (p *Patch) fieldOffset(k int) int { return 2*len(p.Species) + k }

// MessageOffsets lists the offsets Messages produces, in order.
func (p *Patch) MessageOffsets() (offsets []int) {
	for is := range p.Species {
		offsets = append(offsets, 2*is, 2*is+1)
	}
	for k := range p.EM.MigratingFields() {
		offsets = append(offsets, p.fieldOffset(k))
	}
	return
}

// Messages serializes the particles, species bookkeeping and fields.
func (p *Patch) Messages() (msgs []Message, err error) {
	var b []byte
	for is, s := range p.Species {
		if b, err = Encode(s.Particles); err != nil {
			return
		}
		msgs = append(msgs, Message{2 * is, b})
		if b, err = Encode(speciesBook{s.Scalars, s.Bound}); err != nil {
			return
		}
		msgs = append(msgs, Message{2*is + 1, b})
	}
	for k, f := range p.EM.MigratingFields() {
		if b, err = Encode(fieldState{f.Data, p.EM.Scalars, p.EM.LaserEnabled}); err != nil {
			return
		}
		msgs = append(msgs, Message{p.fieldOffset(k), b})
	}
	return
}

// Receive restores the part of the patch carried by the message at offset.
func (p *Patch) Receive(offset int, payload []byte) (err error) {
	nSpec := len(p.Species)
	switch {
	case offset < 0:
	case offset < 2*nSpec && offset%2 == 0:
		s := p.Species[offset/2]
		parts := &Particles{}
		if err = Decode(payload, parts); err != nil {
			return
		}
		parts.NDim = p.Params.NDim
		if s.Params.Chi && parts.Chi == nil {
			parts.Chi = make([]float64, parts.Len())
		}
		s.Particles = parts
		return
	case offset < 2*nSpec:
		var book speciesBook
		if err = Decode(payload, &book); err != nil {
			return
		}
		s := p.Species[offset/2]
		s.Scalars, s.Bound = book.Scalars, book.Bound
		return
	case offset < p.fieldOffset(len(p.EM.MigratingFields())):
		var fs fieldState
		if err = Decode(payload, &fs); err != nil {
			return
		}
		f := p.EM.MigratingFields()[offset-2*nSpec]
		if len(fs.Data) != len(f.Data) {
			return fmt.Errorf("field %s: received %d values, expected %d", f.Name, len(fs.Data), len(f.Data))
		}
		copy(f.Data, fs.Data)
		p.EM.Scalars, p.EM.LaserEnabled = fs.Scalars, fs.LaserEnabled
		return
	}
	return fmt.Errorf("patch %d: unexpected message offset %d", p.Hindex, offset)
}
