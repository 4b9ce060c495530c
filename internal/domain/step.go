package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseStep reads the compact step form used on the command line:
//
//	resize:w=400,h=300,fill,filter=lanczos
//	crop:top=10,left=10,w=200,h=100,pad
//	flip:horizontal
func ParseStep(s string) (TransformStep, error) {
	action, rest, _ := strings.Cut(strings.TrimSpace(s), ":")
	step := TransformStep{Action: strings.ToLower(strings.TrimSpace(action))}

	var params []string
	if rest = strings.TrimSpace(rest); rest != "" {
		params = strings.Split(rest, ",")
	}

	if step.Action == ActionFlip {
		if len(params) != 1 {
			return TransformStep{}, fmt.Errorf("flip takes exactly one direction, got %q", rest)
		}
		step.Direction = strings.ToLower(strings.TrimSpace(params[0]))
		return step, step.Validate()
	}

	for _, param := range params {
		key, value, hasValue := strings.Cut(strings.TrimSpace(param), "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if err := step.set(key, value, hasValue); err != nil {
			return TransformStep{}, fmt.Errorf("%s %s: %w", step.Action, key, err)
		}
	}
	return step, step.Validate()
}

func (s *TransformStep) set(key, value string, hasValue bool) error {
	switch s.Action {
	case ActionResize:
		switch key {
		case "w", "width":
			return parseInt(value, &s.Width)
		case "h", "height":
			return parseInt(value, &s.Height)
		case "filter":
			s.Filter = value
			return nil
		case "fill":
			return parseFlag(value, hasValue, &s.Fill)
		case "aspect":
			var keep bool
			if err := parseFlag(value, hasValue, &keep); err != nil {
				return err
			}
			s.Aspect = &keep
			return nil
		case "stretch":
			var stretch bool
			if err := parseFlag(value, hasValue, &stretch); err != nil {
				return err
			}
			keep := !stretch
			s.Aspect = &keep
			return nil
		}
	case ActionCrop:
		switch key {
		case "w", "width":
			return parseInt(value, &s.Width)
		case "h", "height":
			return parseInt(value, &s.Height)
		case "top":
			return parseInt(value, &s.Top)
		case "left":
			return parseInt(value, &s.Left)
		case "right":
			return parseInt(value, &s.Right)
		case "bottom":
			return parseInt(value, &s.Bottom)
		case "x":
			s.X = new(int)
			return parseInt(value, s.X)
		case "y":
			s.Y = new(int)
			return parseInt(value, s.Y)
		case "pad":
			return parseFlag(value, hasValue, &s.Pad)
		}
	}
	return fmt.Errorf("unknown parameter")
}

func parseInt(value string, dst *int) error {
	v, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("not an integer: %q", value)
	}
	*dst = v
	return nil
}

func parseFlag(value string, hasValue bool, dst *bool) error {
	if !hasValue {
		*dst = true
		return nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("not a boolean: %q", value)
	}
	*dst = v
	return nil
}
