package dht

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/juju/errors"
)

// IioReader uses kernel dht11 driver (dtoverlay=dht11,gpiopin=N), which does
// timing in kernel space and exposes values in milli-units via sysfs.
type IioReader struct {
	dir string
}

func NewIioReader(deviceDir string) *IioReader {
	return &IioReader{dir: deviceDir}
}

func (r *IioReader) Read(ctx context.Context) (Raw, error) {
	var raw Raw
	if err := ctx.Err(); err != nil {
		return raw, err
	}
	// kernel driver caches one measurement for 2s, both attributes come from same frame
	t, err := r.readMilli("in_temp_input")
	if err != nil {
		return raw, err
	}
	h, err := r.readMilli("in_humidityrelative_input")
	if err != nil {
		return raw, err
	}
	raw.Temperature = float32(t) / 1000
	raw.Humidity = float32(h) / 1000
	return raw, nil
}

func (r *IioReader) readMilli(name string) (int64, error) {
	path := filepath.Join(r.dir, name)
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, classifyIioError(err, path)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, errors.Annotatef(err, "parse %s", path)
	}
	return v, nil
}

func classifyIioError(err error, path string) error {
	if pe, ok := err.(*os.PathError); ok {
		switch pe.Err {
		case syscall.EIO:
			return errors.Annotatef(ErrChecksum, "read %s", path)
		case syscall.ETIMEDOUT:
			return errors.Annotatef(ErrNoResponse, "read %s", path)
		case syscall.EAGAIN:
			return errors.Annotatef(ErrTimeout, "read %s", path)
		}
	}
	return errors.Annotatef(err, "read %s", path)
}
