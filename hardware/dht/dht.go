// Package dht samples DHT11/DHT22 temperature and humidity sensors.
//
// Sampler is the only consumer facing type. It performs one blocking read
// through Reader, normalizes values to one fractional digit and never retries:
// retry policy belongs to the caller, usually next agent cycle.
package dht

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/envagent/log2"
)

var (
	ErrChecksum   = errors.New("dht checksum mismatch")
	ErrTimeout    = errors.New("dht timing")
	ErrNoResponse = errors.New("dht no response")
)

// IsSensorError reports whether err is transient sensor protocol failure.
func IsSensorError(err error) bool {
	switch errors.Cause(err) {
	case ErrChecksum, ErrTimeout, ErrNoResponse:
		return true
	}
	return false
}

type Type uint8

const (
	DHT11 Type = 11
	DHT22 Type = 22
)

func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "dht11":
		return DHT11, nil
	case "dht22", "am2302":
		return DHT22, nil
	}
	return 0, errors.NotValidf("sensor type=%s valid: dht11, dht22", s)
}

func (t Type) String() string {
	switch t {
	case DHT11:
		return "dht11"
	case DHT22:
		return "dht22"
	}
	return fmt.Sprintf("dht?%d", uint8(t))
}

// Host holds data line low this long to request measurement.
func (t Type) startLow() time.Duration {
	if t == DHT22 {
		return 1100 * time.Microsecond
	}
	return 18 * time.Millisecond
}

// Raw is sensor output before normalization.
type Raw struct {
	Temperature float32 // Celsius
	Humidity    float32 // percent relative
}

type Reading struct {
	Temperature float32
	Humidity    float32
	CapturedAt  time.Time
}

func (r Reading) String() string {
	return fmt.Sprintf("T=%.1f H=%.1f", r.Temperature, r.Humidity)
}

// Reader performs one physical read of fixed sensor channel.
type Reader interface {
	Read(ctx context.Context) (Raw, error)
}

type ReaderFunc func(ctx context.Context) (Raw, error)

func (f ReaderFunc) Read(ctx context.Context) (Raw, error) { return f(ctx) }

type Sampler struct {
	reader Reader
	typ    Type
	log    *log2.Log
	now    func() time.Time
}

func NewSampler(reader Reader, typ Type, log *log2.Log) *Sampler {
	return &Sampler{
		reader: reader,
		typ:    typ,
		log:    log,
		now:    time.Now,
	}
}

func (s *Sampler) Type() Type { return s.typ }

// Sample returns fresh reading or error. Failure is logged here, caller only decides what to skip.
func (s *Sampler) Sample(ctx context.Context) (Reading, error) {
	raw, err := s.reader.Read(ctx)
	if err != nil {
		err = errors.Annotatef(err, "%s read", s.typ)
		s.log.Errorf("failed to read sensor: %v", err)
		return Reading{}, err
	}
	r := Reading{
		Temperature: Round1(raw.Temperature),
		Humidity:    Round1(raw.Humidity),
		CapturedAt:  s.now(),
	}
	s.log.Infof("%s %s", s.typ, r.String())
	return r, nil
}

// AppendDecimal1 appends f with one digit after decimal point.
// Rounding applies to shortest decimal form of f, not its float32 binary expansion:
// float32(23.45) is 23.4500007629 but renders as 23.4 like float64 23.45.
func AppendDecimal1(b []byte, f float32) []byte {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		v = float64(f)
	}
	return strconv.AppendFloat(b, v, 'f', 1, 64)
}

// Round1 is AppendDecimal1 for values, Round1(x) renders same as x.
func Round1(f float32) float32 {
	var buf [32]byte
	v, err := strconv.ParseFloat(string(AppendDecimal1(buf[:0], f)), 32)
	if err != nil {
		return f
	}
	return float32(v)
}
