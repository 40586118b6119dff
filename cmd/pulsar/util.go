package main

import (
	"fmt"
	"strconv"
)

// parseValue converts a CLI argument into the typed value the facade stores.
func parseValue(arg, valueType string) (any, error) {
	switch valueType {
	case "text":
		return arg, nil
	case "int":
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid int value %q", arg)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float value %q", arg)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown value type %q (valid: text, int, float)", valueType)
	}
}
