package keyboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// CallbackDataSeparator splits the route from its argument, e.g. "hour:21".
	CallbackDataSeparator = ":"
	// CallbackDataLimitBytes is Telegram's limit on callback_data.
	CallbackDataLimitBytes = 64
)

var (
	ErrEmptyCallback   = errors.New("callback data is empty")
	ErrCallbackTooLong = fmt.Errorf("callback data exceeds %d bytes", CallbackDataLimitBytes)
)

// Callback is decoded callback data: a route and an optional argument.
type Callback struct {
	Unique string
	Data   string
}

// String encodes c without checking the size limit.
func (c Callback) String() string {
	if c.Data == "" {
		return c.Unique
	}
	return c.Unique + CallbackDataSeparator + c.Data
}

// Int parses the argument as a number.
func (c Callback) Int() (int, error) {
	n, err := strconv.Atoi(c.Data)
	if err != nil {
		return 0, fmt.Errorf("callback %q: argument is not a number", c.String())
	}
	return n, nil
}

// EncodeCallback joins unique and data, rejecting payloads Telegram would refuse.
func EncodeCallback(unique, data string) (string, error) {
	if unique == "" {
		return "", ErrEmptyCallback
	}

	payload := Callback{Unique: unique, Data: data}.String()
	if len(payload) > CallbackDataLimitBytes {
		return "", fmt.Errorf("%w: got %d", ErrCallbackTooLong, len(payload))
	}
	return payload, nil
}

// ParseCallback splits raw at the first separator. Surrounding whitespace is ignored.
func ParseCallback(raw string) (Callback, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Callback{}, ErrEmptyCallback
	}

	unique, data, _ := strings.Cut(raw, CallbackDataSeparator)
	return Callback{Unique: unique, Data: data}, nil
}
