package window

import "github.com/atlas-desktop/stratrunner/pkg/types"

// Context is the per-runner typed key/value scratchpad carried across
// strategy calls. Keys are partitioned by value type: setting a key
// under one type removes any prior entry for that key under the other
// three partitions, so a key never exists in two partitions at once.
type Context struct {
	numbers  map[string]float64
	integers map[string]int64
	strings  map[string]string
	booleans map[string]bool
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{
		numbers:  make(map[string]float64),
		integers: make(map[string]int64),
		strings:  make(map[string]string),
		booleans: make(map[string]bool),
	}
}

func (c *Context) clearOthers(key string, keep types.ContextValueKind) {
	if keep != types.ContextNumber {
		delete(c.numbers, key)
	}
	if keep != types.ContextInteger {
		delete(c.integers, key)
	}
	if keep != types.ContextString {
		delete(c.strings, key)
	}
	if keep != types.ContextBoolean {
		delete(c.booleans, key)
	}
}

// SetNumber stores a float64 value under key.
func (c *Context) SetNumber(key string, v float64) {
	c.clearOthers(key, types.ContextNumber)
	c.numbers[key] = v
}

// SetInteger stores an int64 value under key.
func (c *Context) SetInteger(key string, v int64) {
	c.clearOthers(key, types.ContextInteger)
	c.integers[key] = v
}

// SetString stores a string value under key.
func (c *Context) SetString(key string, v string) {
	c.clearOthers(key, types.ContextString)
	c.strings[key] = v
}

// SetBoolean stores a bool value under key.
func (c *Context) SetBoolean(key string, v bool) {
	c.clearOthers(key, types.ContextBoolean)
	c.booleans[key] = v
}

// GetNumber returns the number stored under key, if any.
func (c *Context) GetNumber(key string) (float64, bool) {
	v, ok := c.numbers[key]
	return v, ok
}

// GetInteger returns the integer stored under key, if any.
func (c *Context) GetInteger(key string) (int64, bool) {
	v, ok := c.integers[key]
	return v, ok
}

// GetString returns the string stored under key, if any.
func (c *Context) GetString(key string) (string, bool) {
	v, ok := c.strings[key]
	return v, ok
}

// GetBoolean returns the boolean stored under key, if any.
func (c *Context) GetBoolean(key string) (bool, bool) {
	v, ok := c.booleans[key]
	return v, ok
}

// View returns a read-only snapshot suitable for embedding in a
// Snapshot or for marshalling to a strategy script.
func (c *Context) View() types.ContextView {
	v := types.ContextView{}
	if len(c.numbers) > 0 {
		v.Numbers = make(map[string]float64, len(c.numbers))
		for k, val := range c.numbers {
			v.Numbers[k] = val
		}
	}
	if len(c.integers) > 0 {
		v.Integers = make(map[string]int64, len(c.integers))
		for k, val := range c.integers {
			v.Integers[k] = val
		}
	}
	if len(c.strings) > 0 {
		v.Strings = make(map[string]string, len(c.strings))
		for k, val := range c.strings {
			v.Strings[k] = val
		}
	}
	if len(c.booleans) > 0 {
		v.Booleans = make(map[string]bool, len(c.booleans))
		for k, val := range c.booleans {
			v.Booleans[k] = val
		}
	}
	return v
}

// Merge applies free-form key/values (as decoded from a strategy's
// opportunity record) into the context, inferring the type partition
// from the Go dynamic type of each value.
func (c *Context) Merge(fields map[string]any) {
	for k, v := range fields {
		switch val := v.(type) {
		case float64:
			c.SetNumber(k, val)
		case int64:
			c.SetInteger(k, val)
		case int:
			c.SetInteger(k, int64(val))
		case string:
			c.SetString(k, val)
		case bool:
			c.SetBoolean(k, val)
		}
	}
}
