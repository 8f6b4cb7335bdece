package main

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDuration accepts Go duration strings ("250ms", "1.5s") in YAML.
type yamlDuration struct {
	d time.Duration
}

var _ yaml.Unmarshaler = (*yamlDuration)(nil)

func (y *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	y.d = d
	return nil
}
