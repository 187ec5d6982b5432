package sysfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const w1Good = "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"

func TestParseW1Slave(t *testing.T) {
	v, err := ParseW1Slave(w1Good)
	require.NoError(t, err)
	assert.InDelta(t, 23.125, v, 1e-9)

	v, err = ParseW1Slave("ff ff : crc=aa YES\nff ff t=-1250\n")
	require.NoError(t, err)
	assert.InDelta(t, -1.25, v, 1e-9)
}

func TestParseW1SlaveErrors(t *testing.T) {
	_, err := ParseW1Slave("72 01 : crc=57 NO\n72 01 t=23125\n")
	assert.ErrorIs(t, err, ErrCRC)

	_, err = ParseW1Slave("50 05 : crc=e1 YES\n50 05 t=85000\n")
	assert.ErrorIs(t, err, ErrPowerOnReset)

	for _, s := range []string{"", "72 01 : crc=57 YES", "a YES\nno reading\n", "a YES\nb t=warm\n"} {
		_, err := ParseW1Slave(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestFSOpenW1(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "28-0316a2792aff")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w1_slave"), []byte(w1Good), 0o644))

	fs := FS{W1Root: root}
	r, err := fs.Open(Source{W1Device: "28-0316a2792aff"})
	require.NoError(t, err)
	v, err := r.Read()
	require.NoError(t, err)
	assert.InDelta(t, 23.125, v, 1e-9)

	_, err = fs.Open(Source{W1Device: "28-missing"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFSOpenAttribute(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_humidityrelative_input")
	require.NoError(t, os.WriteFile(path, []byte("48300\n"), 0o644))

	r, err := FS{}.Open(Source{Path: path})
	require.NoError(t, err)
	v, err := r.Read()
	require.NoError(t, err)
	assert.InDelta(t, 48.3, v, 1e-9)

	r, err = FS{}.Open(Source{Path: path, Scale: 1})
	require.NoError(t, err)
	v, err = r.Read()
	require.NoError(t, err)
	assert.InDelta(t, 48300, v, 1e-9)

	require.NoError(t, os.WriteFile(path, []byte("busy"), 0o644))
	_, err = r.Read()
	assert.Error(t, err)
}

func TestFSOpenRejectsBadSource(t *testing.T) {
	_, err := FS{}.Open(Source{})
	assert.Error(t, err)
	_, err = FS{}.Open(Source{W1Device: "28-x", Path: "/tmp/x"})
	assert.Error(t, err)
}

func TestFakeReader(t *testing.T) {
	f := NewFakeReader(1, 2)
	v, _ := f.Read()
	assert.Equal(t, 1.0, v)
	v, _ = f.Read()
	assert.Equal(t, 2.0, v)
	v, _ = f.Read()
	assert.Equal(t, 2.0, v, "last sample repeats")

	f.SetError(os.ErrDeadlineExceeded)
	_, err := f.Read()
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Equal(t, 4, f.Reads())

	o := NewFakeOpener()
	r, err := o.Open(Source{W1Device: "28-a"})
	require.NoError(t, err)
	assert.Same(t, o.Readers["w1:28-a"], r)
}
