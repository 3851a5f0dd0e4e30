package state

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/envagent/helpers"
	"github.com/temoto/envagent/log2"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Link struct {
		Driver    string `hcl:"driver"`
		Interface string `hcl:"interface"`
		SSID      string `hcl:"ssid"`
		Password  string `hcl:"password"`
		Address   string `hcl:"address"` // static driver
		RetryMs   int    `hcl:"retry_ms"`
		TimeoutMs int    `hcl:"timeout_ms"`
		LogDebug  bool   `hcl:"log_debug"`
	} `hcl:"link"`

	Sensor struct {
		Driver        string `hcl:"driver"`
		Type          string `hcl:"type"`
		PinChip       string `hcl:"pin_chip"`
		Pin           string `hcl:"pin"`
		IioDevice     string `hcl:"iio_device"`
		ReadTimeoutMs int    `hcl:"read_timeout_ms"`
		LogDebug      bool   `hcl:"log_debug"`
	} `hcl:"sensor"`

	Tele struct {
		Transport     string `hcl:"transport"`
		Endpoint      string `hcl:"endpoint"`
		HttpTimeoutMs int    `hcl:"http_timeout_ms"`
		RetryCount    int    `hcl:"retry_count"`
		RetryDelayMs  int    `hcl:"retry_delay_ms"`
		MqttBroker    string `hcl:"mqtt_broker"`
		MqttTopic     string `hcl:"mqtt_topic"`
		MqttClientID  string `hcl:"mqtt_client_id"`
		LogDebug      bool   `hcl:"log_debug"`
	} `hcl:"tele"`

	Agent struct {
		IntervalMs int    `hcl:"interval_ms"`
		Gate       string `hcl:"gate"`
	} `hcl:"agent"`

	Sink struct {
		Listen  string `hcl:"listen"`
		History int    `hcl:"history"`
	} `hcl:"sink"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	// content is not logged, it contains credentials
	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads names in order, later sources overwrite earlier values.
// First name is relative to current directory, includes are relative to first name.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
