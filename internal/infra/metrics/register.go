package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	catalog      []prometheus.Collector
)

// register adds collectors to the catalog; each metrics file calls it from init.
func register(cs ...prometheus.Collector) {
	catalog = append(catalog, cs...)
}

// Register adds every payments collector to reg. Collectors already
// present in reg are skipped so tests can register repeatedly.
func Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range catalog {
		if err := reg.Register(c); err != nil {
			var dup prometheus.AlreadyRegisteredError
			if errors.As(err, &dup) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MustRegister exposes the catalog on the default registry once per process.
func MustRegister() {
	registerOnce.Do(func() {
		if err := Register(prometheus.DefaultRegisterer); err != nil {
			panic(err)
		}
	})
}
