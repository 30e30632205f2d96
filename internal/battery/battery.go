package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Status is the current battery reading.
type Status struct {
	// Percent is the charge level, 0-100.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, 0 when unknown.
	VoltageMv int `json:"voltage_mv"`
}

// Reader obtains battery information.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// StaticReader reports a settable level. It stands in for the hardware on
// development machines.
type StaticReader struct {
	mu     sync.Mutex
	status Status
	err    error
}

func NewStaticReader(percent int) *StaticReader {
	return &StaticReader{status: Status{Percent: percent}}
}

func (r *StaticReader) Set(percent int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Percent = percent
	r.err = err
}

func (r *StaticReader) Read(context.Context) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.err
}

// PiSugar3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// i2cReader talks to a PiSugar3 style controller over I2C.
type i2cReader struct {
	busName string
	addr    uint16
}

// NewI2CReader keeps the bus configuration; the bus is opened per Read.
// busName "" selects the default bus.
func NewI2CReader(busName string, addr uint16) Reader {
	return &i2cReader{busName: busName, addr: addr}
}

func (r *i2cReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, errors.New("battery: i2c unavailable on " + runtime.GOOS)
	}
	if err := hostInit(); err != nil {
		return Status{}, fmt.Errorf("battery: periph init: %w", err)
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, fmt.Errorf("battery: open bus %q: %w", r.busName, err)
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	reg := func(addr byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{addr}, buf); err != nil {
			return 0, fmt.Errorf("battery: read reg 0x%02x: %w", addr, err)
		}
		return buf[0], nil
	}

	hi, err := reg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	lo, err := reg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := reg(regPercent)
	if err != nil {
		return Status{}, err
	}

	return Status{
		Percent:   min(int(pct), 100),
		VoltageMv: int(uint16(hi)<<8 | uint16(lo)),
	}, nil
}

// DefaultReader probes the I2C controller once and falls back to a static
// full battery when it cannot be read.
func DefaultReader(ctx context.Context, busName string, addr uint16) (Reader, error) {
	r := NewI2CReader(busName, addr)
	if _, err := r.Read(ctx); err != nil {
		return NewStaticReader(100), err
	}
	return r, nil
}
