/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics provides a thin helper around Prometheus collector
// registration so that package-local counters and gauges can be declared as
// ordinary vars and registered once, independent of which HTTP mux finally
// exposes them.
package metrics

import (
	"errors"

	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPrometheusCollectors registers the given collectors with the
// default Prometheus registry, tolerating (and ignoring) collectors that
// have already been registered by an earlier call. This mirrors the
// teacher's internal registration helper: packages call it from an init()
// or constructor and don't need to care about call order or duplicate
// registration across tests.
func RegisterPrometheusCollectors(collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		err := prometheus.Register(c)
		if err == nil {
			continue
		}
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			continue
		}
		return trace.Wrap(err)
	}
	return nil
}
