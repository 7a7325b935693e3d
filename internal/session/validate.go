package session

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

var ErrInvalidRoomName = errors.New("invalid room name")

const (
	minRoomNameLen = 2
	maxRoomNameLen = 50
)

var (
	roomNamePattern = regexp.MustCompile(`^[a-zA-Z0-9가-힣_-]+$`)
	reservedNames   = []string{"admin", "system", "test", "null", "undefined"}
)

// ValidateRoomName applies the server's room name rules before a create
// request is sent.
func ValidateRoomName(name string) error {
	n := utf8.RuneCountInString(name)
	switch {
	case name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidRoomName)
	case n < minRoomNameLen:
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidRoomName, minRoomNameLen)
	case n > maxRoomNameLen:
		return fmt.Errorf("%w: must be at most %d characters", ErrInvalidRoomName, maxRoomNameLen)
	case !roomNamePattern.MatchString(name):
		return fmt.Errorf("%w: only letters, digits, '-' and '_' are allowed", ErrInvalidRoomName)
	case slices.Contains(reservedNames, strings.ToLower(name)):
		return fmt.Errorf("%w: %q is reserved", ErrInvalidRoomName, name)
	}
	return nil
}
