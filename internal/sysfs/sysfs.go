// Package sysfs reads sensor values that Linux kernel drivers expose as
// files: DS18B20 thermometers on the 1-wire bus and IIO or hwmon attributes
// such as a DHT22's in_humidityrelative_input.
//
// Reads block for as long as the driver takes to convert, which is about
// 750ms for a DS18B20 at full resolution.
package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultW1Root is where the w1 bus master lists its slaves.
const DefaultW1Root = "/sys/bus/w1/devices"

// DefaultScale converts IIO and hwmon milli-units to whole units.
const DefaultScale = 0.001

var (
	// ErrCRC is returned when a 1-wire read failed its checksum.
	ErrCRC = errors.New("sysfs: 1-wire crc check failed")

	// ErrPowerOnReset is returned for 85.000°C, the DS18B20 power-on value
	// it reports when a conversion did not complete.
	ErrPowerOnReset = errors.New("sysfs: DS18B20 returned power-on reset value")
)

// Reader returns one sample in the sensor's natural unit.
type Reader interface {
	Read() (float64, error)
}

// Source names where a sensor's value comes from. Exactly one of W1Device
// and Path is set.
type Source struct {
	// W1Device is a 1-wire slave id such as "28-0316a2792aff".
	W1Device string
	// Path is an attribute file holding a single number.
	Path string
	// Scale multiplies the attribute's raw value.
	Scale float64
}

func (s Source) String() string {
	if s.W1Device != "" {
		return "w1:" + s.W1Device
	}
	return s.Path
}

// Opener hands out readers for sources.
type Opener interface {
	Open(src Source) (Reader, error)
}

// FS opens sources on the live sysfs tree.
type FS struct {
	W1Root string
}

// Open checks the source's file exists and returns a reader for it.
func (f FS) Open(src Source) (Reader, error) {
	switch {
	case src.W1Device != "" && src.Path != "":
		return nil, errors.New("sysfs: source has both w1 device and path")
	case src.W1Device != "":
		root := f.W1Root
		if root == "" {
			root = DefaultW1Root
		}
		path := filepath.Join(root, src.W1Device, "w1_slave")
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("open %s: %w", src, err)
		}
		return &W1Therm{path: path}, nil
	case src.Path != "":
		if _, err := os.Stat(src.Path); err != nil {
			return nil, fmt.Errorf("open %s: %w", src, err)
		}
		scale := src.Scale
		if scale == 0 {
			scale = DefaultScale
		}
		return &Attribute{path: src.Path, scale: scale}, nil
	default:
		return nil, errors.New("sysfs: source has neither w1 device nor path")
	}
}

// W1Therm reads a DS18B20 through the w1_therm driver.
type W1Therm struct {
	path string
}

// Read triggers a conversion and returns degrees Celsius.
func (w *W1Therm) Read() (float64, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", w.path, err)
	}
	return ParseW1Slave(string(data))
}

// ParseW1Slave parses the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(s string) (float64, error) {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) < 2 {
		return 0, fmt.Errorf("sysfs: short w1_slave output %q", s)
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, ErrCRC
	}
	i := strings.LastIndex(lines[1], "t=")
	if i < 0 {
		return 0, fmt.Errorf("sysfs: no temperature in %q", lines[1])
	}
	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][i+2:]))
	if err != nil {
		return 0, fmt.Errorf("sysfs: bad temperature %q: %w", lines[1][i+2:], err)
	}
	if milli == 85000 {
		return 0, ErrPowerOnReset
	}
	return float64(milli) / 1000, nil
}

// Attribute reads a numeric sysfs attribute.
type Attribute struct {
	path  string
	scale float64
}

// Read returns the attribute value times the scale.
func (a *Attribute) Read() (float64, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", a.path, err)
	}
	raw, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", a.path, err)
	}
	return raw * a.scale, nil
}
