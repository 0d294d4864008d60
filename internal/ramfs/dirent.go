package ramfs

import (
	"bytes"
	"encoding/binary"
)

// Directory record layout. Records are fixed size and little-endian so a
// directory's content can be handed out verbatim.
const (
	NameMax    = 255
	DirentSize = 280

	direntInoOff    = 0
	direntOffOff    = 8
	direntReclenOff = 16
	direntTypeOff   = 18
	direntNameOff   = 19
	direntNameLen   = NameMax + 1
)

// Directory entry types.
const (
	DT_DIR uint8 = 4
	DT_REG uint8 = 8
)

// Dirent is one decoded directory record.
type Dirent struct {
	Ino    Ino
	Off    int64
	Reclen uint16
	Type   uint8
	Name   string
}

func (d *Dirent) marshal(rec []byte) {
	clear(rec[:DirentSize])
	binary.LittleEndian.PutUint64(rec[direntInoOff:], uint64(d.Ino))
	binary.LittleEndian.PutUint64(rec[direntOffOff:], uint64(d.Off))
	binary.LittleEndian.PutUint16(rec[direntReclenOff:], d.Reclen)
	rec[direntTypeOff] = d.Type
	copy(rec[direntNameOff:direntNameOff+NameMax], d.Name)
}

func (d *Dirent) unmarshal(rec []byte) {
	d.Ino = Ino(binary.LittleEndian.Uint64(rec[direntInoOff:]))
	d.Off = int64(binary.LittleEndian.Uint64(rec[direntOffOff:]))
	d.Reclen = binary.LittleEndian.Uint16(rec[direntReclenOff:])
	d.Type = rec[direntTypeOff]
	name := rec[direntNameOff : direntNameOff+direntNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	d.Name = string(name)
}

// recordName returns the name bytes of the record at pos without allocating.
func recordName(content []byte, pos int) []byte {
	name := content[pos+direntNameOff : pos+direntNameOff+direntNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		return name[:i]
	}
	return name
}

func recordIno(content []byte, pos int) Ino {
	return Ino(binary.LittleEndian.Uint64(content[pos+direntInoOff:]))
}

func direntType(mode uint32) uint8 {
	if mode&ModeMask == ModeDir {
		return DT_DIR
	}
	return DT_REG
}
