package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ramfs/internal/ramfs"
)

func runTestScript(t *testing.T, script string, opts ...ramfs.Option) (string, error) {
	t.Helper()
	fs, err := ramfs.Mount(opts...)
	require.NoError(t, err)
	defer fs.Release()

	var out bytes.Buffer
	err = runScript(fs, strings.NewReader(script), &out)
	return out.String(), err
}

func TestRunScript(t *testing.T) {
	t.Parallel()

	out, err := runTestScript(t, `
# build a small tree
mkdir /a
mkdir /a/b
write /a/hello "hi\tthere"
write /a/plain two words
cat /a/hello
cat /a/plain
stat /a
stat /a/hello
ls /a
tree
`)
	require.NoError(t, err)

	expected := `$ mkdir /a
$ mkdir /a/b
$ write /a/hello "hi\tthere"
wrote 8 bytes
$ write /a/plain two words
wrote 9 bytes
$ cat /a/hello
hi	there
$ cat /a/plain
two words
$ stat /a
ino=2 mode=040755 nlink=3 size=1400
$ stat /a/hello
ino=4 mode=100644 nlink=1 size=8
$ ls /a
2 d .
1 d ..
3 d b
4 f hello
5 f plain
$ tree
/
└── a/
    ├── b/
    ├── hello
    └── plain
`
	assert.Equal(t, expected, out)
}

func TestRunScriptFailuresContinue(t *testing.T) {
	t.Parallel()

	out, err := runTestScript(t, `mkdir /d
write /d/f x
rmdir /d
cat /missing
frobnicate /d
mkdir
ls /d/f
stat /d
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, errScriptFailed)
	assert.Contains(t, err.Error(), ": 5")

	assert.Contains(t, out, "! line 3: "+ramfs.ENOTEMPTY.Error())
	assert.Contains(t, out, "! line 4: "+ramfs.ENOENT.Error())
	assert.Contains(t, out, `! line 5: unknown command: "frobnicate"`)
	assert.Contains(t, out, "! line 6: mkdir: path required")
	assert.Contains(t, out, "! line 7: "+ramfs.ENOTDIR.Error())
	assert.Contains(t, out, "$ stat /d\nino=2 mode=040755 nlink=2")
}

func TestRunScriptBudget(t *testing.T) {
	t.Parallel()

	out, err := runTestScript(t, "write /big 0123456789\n", ramfs.WithMaxBytes(3*ramfs.DirentSize+4))
	require.Error(t, err)
	assert.Contains(t, out, ramfs.ENOMEM.Error())
}

func TestRunScriptRmdirFreesSpace(t *testing.T) {
	t.Parallel()

	// The budget holds the root plus one empty directory at a time.
	script := strings.Repeat("mkdir /x\nrmdir /x\n", 5)
	_, err := runTestScript(t, script, ramfs.WithMaxBytes(5*ramfs.DirentSize))
	assert.NoError(t, err)
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(3<<19))
}
