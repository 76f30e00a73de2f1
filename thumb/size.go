package thumb

import (
	"fmt"
	"strconv"
	"strings"
)

var DefaultSize = Size{Width: 128, Height: 128}

const maxSize = 4096

// Size is the bounding box of a thumbnail.
type Size struct {
	Width  int
	Height int
}

// ParseSize parses sizes of form "<width>x<height>", for example "128x128".
func ParseSize(s string) (Size, error) {
	rawWidth, rawHeight, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return Size{}, fmt.Errorf("invalid size %q, valid format: <width>x<height>", s)
	}
	width, err := strconv.Atoi(rawWidth)
	if err != nil {
		return Size{}, fmt.Errorf("invalid width: %w", err)
	}
	height, err := strconv.Atoi(rawHeight)
	if err != nil {
		return Size{}, fmt.Errorf("invalid height: %w", err)
	}

	size := Size{Width: width, Height: height}
	if err := size.Validate(); err != nil {
		return Size{}, err
	}
	return size, nil
}

func (s Size) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("width and height must be > 0")
	}
	if s.Width > maxSize || s.Height > maxSize {
		return fmt.Errorf("width and height must be <= %d", maxSize)
	}
	return nil
}

func (s Size) String() string {
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

func (s Size) MarshalText() (text []byte, err error) {
	return []byte(s.String()), nil
}

func (s *Size) UnmarshalText(text []byte) error {
	v, err := ParseSize(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
