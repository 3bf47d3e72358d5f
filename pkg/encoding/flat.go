package encoding

import (
	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/spfs-project/spfs/pkg/spfserrors"
)

// flat implements the modern zero-copy table body encoding on top of
// google/flatbuffers, hand-built (no flatc schema) since the four object
// kinds are few and stable. Field layout per kind is fixed by the slot
// constants below; changing them would break on-disk compatibility.

// tableField resolves slot's field offset within t, converted to the
// unsigned offset type every Table accessor takes; 0 means the field is
// absent from the vtable.
func tableField(t *flatbuffers.Table, slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + slot*2)))
}

func rootTable(buf []byte) (*flatbuffers.Table, error) {
	if len(buf) < 4 {
		return nil, spfserrors.NewObjectError(spfserrors.InvalidEncoding, "flatbuffer body too short")
	}
	n := flatbuffers.GetUOffsetT(buf)
	return &flatbuffers.Table{Bytes: buf, Pos: n}, nil
}

func flatCreateDigest(b *flatbuffers.Builder, d Digest) flatbuffers.UOffsetT {
	return b.CreateByteVector(d[:])
}

func flatReadDigest(raw []byte) Digest {
	var d Digest
	copy(d[:], raw)
	return d
}

// --- Blob: slot 0 = payload digest (byte vector), slot 1 = size (uint64) ---

func EncodeFlatBlob(rec BlobRecord) []byte {
	b := flatbuffers.NewBuilder(64)
	payload := flatCreateDigest(b, rec.Payload)
	b.StartObject(2)
	b.PrependUOffsetTSlot(0, payload, 0)
	b.PrependUint64Slot(1, rec.Size, 0)
	obj := b.EndObject()
	b.Finish(obj)
	return b.FinishedBytes()
}

func DecodeFlatBlob(buf []byte) (BlobRecord, error) {
	t, err := rootTable(buf)
	if err != nil {
		return BlobRecord{}, err
	}
	var rec BlobRecord
	if o := tableField(t, 0); o != 0 {
		rec.Payload = flatReadDigest(t.ByteVector(o + t.Pos))
	}
	if o := tableField(t, 1); o != 0 {
		rec.Size = t.GetUint64(o + t.Pos)
	}
	return rec, nil
}

// --- Layer: slot 0 = manifest digest (byte vector) ---

func EncodeFlatLayer(rec LayerRecord) []byte {
	b := flatbuffers.NewBuilder(48)
	manifest := flatCreateDigest(b, rec.Manifest)
	b.StartObject(1)
	b.PrependUOffsetTSlot(0, manifest, 0)
	obj := b.EndObject()
	b.Finish(obj)
	return b.FinishedBytes()
}

func DecodeFlatLayer(buf []byte) (LayerRecord, error) {
	t, err := rootTable(buf)
	if err != nil {
		return LayerRecord{}, err
	}
	var rec LayerRecord
	if o := tableField(t, 0); o != 0 {
		rec.Manifest = flatReadDigest(t.ByteVector(o + t.Pos))
	}
	return rec, nil
}

// --- Platform: slot 0 = stack, a vector of digest byte-vector offsets ---

func EncodeFlatPlatform(rec PlatformRecord) []byte {
	b := flatbuffers.NewBuilder(64 + 40*len(rec.Stack))
	offs := make([]flatbuffers.UOffsetT, len(rec.Stack))
	for i, d := range rec.Stack {
		offs[i] = flatCreateDigest(b, d)
	}
	b.StartVector(4, len(offs), 4)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	stack := b.EndVector(len(offs))
	b.StartObject(1)
	b.PrependUOffsetTSlot(0, stack, 0)
	obj := b.EndObject()
	b.Finish(obj)
	return b.FinishedBytes()
}

func DecodeFlatPlatform(buf []byte) (PlatformRecord, error) {
	t, err := rootTable(buf)
	if err != nil {
		return PlatformRecord{}, err
	}
	var rec PlatformRecord
	o := tableField(t, 0)
	if o == 0 {
		return rec, nil
	}
	n := t.VectorLen(o)
	start := t.Vector(o)
	rec.Stack = make([]Digest, n)
	for i := 0; i < n; i++ {
		elem := start + flatbuffers.UOffsetT(i)*4
		rec.Stack[i] = flatReadDigest(t.ByteVector(elem))
	}
	return rec, nil
}

// --- Manifest: slot 0 = entries, a vector of Entry table offsets ---
// Entry table: slot 0 = path (string), slot 1 = kind (uint32),
// slot 2 = mode (uint32), slot 3 = size (uint64), slot 4 = object digest.

func encodeFlatEntry(b *flatbuffers.Builder, e ManifestEntryRecord) flatbuffers.UOffsetT {
	path := b.CreateString(e.Path)
	object := flatCreateDigest(b, e.Object)
	b.StartObject(5)
	b.PrependUOffsetTSlot(0, path, 0)
	b.PrependUint32Slot(1, uint32(e.Kind), 0)
	b.PrependUint32Slot(2, e.Mode, 0)
	b.PrependUint64Slot(3, e.Size, 0)
	b.PrependUOffsetTSlot(4, object, 0)
	return b.EndObject()
}

func decodeFlatEntry(t *flatbuffers.Table) ManifestEntryRecord {
	var e ManifestEntryRecord
	if o := tableField(t, 0); o != 0 {
		e.Path = string(t.ByteVector(o + t.Pos))
	}
	if o := tableField(t, 1); o != 0 {
		e.Kind = EntryKind(t.GetUint32(o + t.Pos))
	}
	if o := tableField(t, 2); o != 0 {
		e.Mode = t.GetUint32(o + t.Pos)
	}
	if o := tableField(t, 3); o != 0 {
		e.Size = t.GetUint64(o + t.Pos)
	}
	if o := tableField(t, 4); o != 0 {
		e.Object = flatReadDigest(t.ByteVector(o + t.Pos))
	}
	return e
}

func EncodeFlatManifest(rec ManifestRecord) []byte {
	b := flatbuffers.NewBuilder(128 + 64*len(rec.Entries))
	offs := make([]flatbuffers.UOffsetT, len(rec.Entries))
	for i, e := range rec.Entries {
		offs[i] = encodeFlatEntry(b, e)
	}
	b.StartVector(4, len(offs), 4)
	for i := len(offs) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offs[i])
	}
	entries := b.EndVector(len(offs))
	b.StartObject(1)
	b.PrependUOffsetTSlot(0, entries, 0)
	obj := b.EndObject()
	b.Finish(obj)
	return b.FinishedBytes()
}

func DecodeFlatManifest(buf []byte) (ManifestRecord, error) {
	t, err := rootTable(buf)
	if err != nil {
		return ManifestRecord{}, err
	}
	var rec ManifestRecord
	o := tableField(t, 0)
	if o == 0 {
		return rec, nil
	}
	n := t.VectorLen(o)
	start := t.Vector(o)
	rec.Entries = make([]ManifestEntryRecord, n)
	for i := 0; i < n; i++ {
		elem := start + flatbuffers.UOffsetT(i)*4
		pos := t.Indirect(elem)
		sub := &flatbuffers.Table{Bytes: t.Bytes, Pos: pos}
		rec.Entries[i] = decodeFlatEntry(sub)
	}
	return rec, nil
}
