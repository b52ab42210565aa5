/*
Copyright 2025 Flant JSC

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

package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// JobSpec is the declarative form of a job, as found in the schedules config section.
// Exactly one trigger field must be set.
type JobSpec struct {
	Name   string `mapstructure:"name" json:"name" yaml:"name"`
	Source string `mapstructure:"source" json:"source" yaml:"source"`
	Cron   string `mapstructure:"cron" json:"cron,omitempty" yaml:"cron,omitempty"`
	Every  string `mapstructure:"every" json:"every,omitempty" yaml:"every,omitempty"`
	In     string `mapstructure:"in" json:"in,omitempty" yaml:"in,omitempty"`
	At     string `mapstructure:"at" json:"at,omitempty" yaml:"at,omitempty"`
}

func (s *Scheduler) schedule(spec JobSpec) error {
	if spec.Name == "" {
		return errors.New("name is required")
	}
	if spec.Source == "" {
		return errors.New("source is required")
	}

	set := 0
	for _, v := range []string{spec.Cron, spec.Every, spec.In, spec.At} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of cron, every, in, at is required, got %d", set)
	}

	switch {
	case spec.Cron != "":
		return s.Cron(spec.Name, spec.Cron, spec.Source)
	case spec.Every != "":
		d, err := time.ParseDuration(spec.Every)
		if err != nil {
			return err
		}
		return s.Every(spec.Name, d, spec.Source)
	case spec.In != "":
		d, err := time.ParseDuration(spec.In)
		if err != nil {
			return err
		}
		return s.In(spec.Name, d, spec.Source)
	default:
		t, err := time.Parse(time.RFC3339, spec.At)
		if err != nil {
			return err
		}
		return s.At(spec.Name, t, spec.Source)
	}
}
