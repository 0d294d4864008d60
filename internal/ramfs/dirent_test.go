package ramfs

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirentLayout(t *testing.T) {
	t.Parallel()

	name := strings.Repeat("n", NameMax)
	d := Dirent{Ino: 0x0102030405060708, Off: 560, Reclen: DirentSize, Type: DT_REG, Name: name}

	rec := make([]byte, DirentSize)
	for i := range rec {
		rec[i] = 0xff
	}
	d.marshal(rec)

	assert.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(rec[0:]))
	assert.Equal(t, uint64(560), binary.LittleEndian.Uint64(rec[8:]))
	assert.Equal(t, uint16(DirentSize), binary.LittleEndian.Uint16(rec[16:]))
	assert.Equal(t, DT_REG, rec[18])
	assert.Equal(t, name, string(rec[19:19+NameMax]))
	assert.Equal(t, byte(0), rec[19+NameMax], "name is always NUL terminated")
	assert.Equal(t, make([]byte, DirentSize-19-NameMax), rec[19+NameMax:], "padding is zeroed")
	assert.Zero(t, DirentSize%8)

	var back Dirent
	back.unmarshal(rec)
	assert.Equal(t, d, back)
}
