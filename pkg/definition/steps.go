package definition

import (
	"fmt"
	"strings"
)

// StepLines is a sequence of raw instruction lines a user can splice into
// the generated file. The YAML side accepts either a multi-line scalar block
// or an already-itemized list; both normalize to a flat slice of lines here
// so downstream code only ever deals with one shape.
type StepLines []string

func (s *StepLines) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value interface{}
	if err := unmarshal(&value); err != nil {
		return err
	}

	switch v := value.(type) {
	case nil:
		*s = nil
	case string:
		*s = StepLines(strings.Split(strings.TrimSpace(v), "\n"))
	case []interface{}:
		lines := make(StepLines, 0, len(v))
		for _, item := range v {
			lines = append(lines, fmt.Sprint(item))
		}
		*s = lines
	default:
		return newError("additional build steps must be a string block or a list of strings, got %T", value)
	}
	return nil
}

// InitLine is a container-init directive (ENTRYPOINT or CMD payload). A YAML
// scalar passes through verbatim; a list is joined with single spaces.
type InitLine string

func (l *InitLine) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value interface{}
	if err := unmarshal(&value); err != nil {
		return err
	}

	switch v := value.(type) {
	case nil:
		*l = ""
	case string:
		*l = InitLine(v)
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		*l = InitLine(strings.Join(parts, " "))
	default:
		return newError("container_init entries must be a string or a list of strings, got %T", value)
	}
	return nil
}
