// Package bitset encodes a day of half-hour availability slots as a fixed 48-bit bitmap.
//
// Bit i (0..47) covers the slot starting i*30 minutes after midnight and lives in
// byte i/8 at position i%8. A bitmap is always exactly Size bytes long.
package bitset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// Size is the encoded length of a day bitmap in bytes.
	Size = 6
	// SlotsPerDay is the number of meaningful bits.
	SlotsPerDay = 48
	// SlotMinutes is the width of one slot.
	SlotMinutes = 30
	// MinutesPerDay marks the exclusive end of a day ("24:00:00").
	MinutesPerDay = SlotsPerDay * SlotMinutes
)

var (
	// ErrFormat reports malformed time strings or bitmaps of the wrong length.
	ErrFormat = errors.New("bitset: format error")
	// ErrRange reports indexes or times outside the day.
	ErrRange = errors.New("bitset: range error")
)

// Window is a half-open [Start, End) interval expressed as HH:MM[:SS] strings.
type Window struct {
	Start string
	End   string
}

// Empty returns a bitmap with no slot set.
func Empty() []byte {
	return make([]byte, Size)
}

// Validate checks the encoded length.
func Validate(bits []byte) error {
	if len(bits) != Size {
		return fmt.Errorf("%w: bitmap has %d bytes, want %d", ErrFormat, len(bits), Size)
	}
	return nil
}

// PackIndexes sets the bit for every index in indexes.
func PackIndexes(indexes []int) ([]byte, error) {
	out := Empty()
	for _, idx := range indexes {
		if err := checkIndex(idx); err != nil {
			return nil, err
		}
		out[idx/8] |= 1 << uint(idx%8)
	}
	return out, nil
}

// UnpackIndexes returns the set indexes in ascending order.
func UnpackIndexes(bits []byte) ([]int, error) {
	if err := Validate(bits); err != nil {
		return nil, err
	}
	indexes := make([]int, 0, SlotsPerDay)
	for idx := 0; idx < SlotsPerDay; idx++ {
		if bits[idx/8]&(1<<uint(idx%8)) != 0 {
			indexes = append(indexes, idx)
		}
	}
	return indexes, nil
}

// IsSet reports whether slot idx is available.
func IsSet(bits []byte, idx int) (bool, error) {
	if err := Validate(bits); err != nil {
		return false, err
	}
	if err := checkIndex(idx); err != nil {
		return false, err
	}
	return bits[idx/8]&(1<<uint(idx%8)) != 0, nil
}

// ToggleIndex returns a copy of bits with slot idx set to value. bits is not modified.
func ToggleIndex(bits []byte, idx int, value bool) ([]byte, error) {
	if err := Validate(bits); err != nil {
		return nil, err
	}
	if err := checkIndex(idx); err != nil {
		return nil, err
	}
	out := make([]byte, Size)
	copy(out, bits)
	if value {
		out[idx/8] |= 1 << uint(idx%8)
	} else {
		out[idx/8] &^= 1 << uint(idx%8)
	}
	return out, nil
}

// BitsFromWindows sets every slot covered by the windows. A window ending at
// 24:00 covers slot 47.
func BitsFromWindows(windows []Window) ([]byte, error) {
	out := Empty()
	for _, w := range windows {
		start, end, err := windowSlots(w)
		if err != nil {
			return nil, err
		}
		for idx := start; idx < end; idx++ {
			out[idx/8] |= 1 << uint(idx%8)
		}
	}
	return out, nil
}

// WindowsFromBits coalesces runs of set slots into the fewest windows.
func WindowsFromBits(bits []byte) ([]Window, error) {
	indexes, err := UnpackIndexes(bits)
	if err != nil {
		return nil, err
	}
	windows := make([]Window, 0)
	for i := 0; i < len(indexes); {
		j := i
		for j+1 < len(indexes) && indexes[j+1] == indexes[j]+1 {
			j++
		}
		windows = append(windows, Window{
			Start: FormatClock(indexes[i] * SlotMinutes),
			End:   FormatClock((indexes[j] + 1) * SlotMinutes),
		})
		i = j + 1
	}
	return windows, nil
}

// NormalizeWindows returns the minimal merged form of windows.
func NormalizeWindows(windows []Window) ([]Window, error) {
	bits, err := BitsFromWindows(windows)
	if err != nil {
		return nil, err
	}
	return WindowsFromBits(bits)
}

// Merge returns the union of a and b.
func Merge(a, b []byte) ([]byte, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	out := make([]byte, Size)
	for i := range out {
		out[i] = a[i] | b[i]
	}
	return out, nil
}

// Diff returns the slots set in a but not in b.
func Diff(a, b []byte) ([]byte, error) {
	if err := validatePair(a, b); err != nil {
		return nil, err
	}
	out := make([]byte, Size)
	for i := range out {
		out[i] = a[i] &^ b[i]
	}
	return out, nil
}

// Contains reports whether every slot set in sub is also set in bits.
func Contains(bits, sub []byte) (bool, error) {
	if err := validatePair(bits, sub); err != nil {
		return false, err
	}
	for i := range bits {
		if sub[i]&^bits[i] != 0 {
			return false, nil
		}
	}
	return true, nil
}

// Equal reports whether a and b encode the same slots.
func Equal(a, b []byte) (bool, error) {
	if err := validatePair(a, b); err != nil {
		return false, err
	}
	for i := range a {
		if a[i] != b[i] {
			return false, nil
		}
	}
	return true, nil
}

// IsEmpty reports whether no slot is set.
func IsEmpty(bits []byte) (bool, error) {
	if err := Validate(bits); err != nil {
		return false, err
	}
	for _, b := range bits {
		if b != 0 {
			return false, nil
		}
	}
	return true, nil
}

// ParseClock converts HH:MM or HH:MM:SS into minutes past midnight. "24:00" is
// accepted and yields MinutesPerDay.
func ParseClock(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: invalid time %q", ErrFormat, raw)
	}
	values := make([]int, len(parts))
	for i, part := range parts {
		if len(part) != 2 {
			return 0, fmt.Errorf("%w: invalid time %q", ErrFormat, raw)
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("%w: invalid time %q", ErrFormat, raw)
		}
		values[i] = v
	}
	hour, minute := values[0], values[1]
	second := 0
	if len(values) == 3 {
		second = values[2]
	}
	if minute > 59 || second > 59 {
		return 0, fmt.Errorf("%w: invalid time %q", ErrFormat, raw)
	}
	total := hour*60 + minute
	if second != 0 {
		return 0, fmt.Errorf("%w: time %q has seconds", ErrFormat, raw)
	}
	if total > MinutesPerDay {
		return 0, fmt.Errorf("%w: time %q outside 00:00-24:00", ErrRange, raw)
	}
	return total, nil
}

// FormatClock renders minutes past midnight as HH:MM:SS; MinutesPerDay renders as 24:00:00.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d:00", minutes/60, minutes%60)
}

func windowSlots(w Window) (int, int, error) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return 0, 0, err
	}
	if start%SlotMinutes != 0 || end%SlotMinutes != 0 {
		return 0, 0, fmt.Errorf("%w: window %s-%s is not aligned to %d minutes", ErrFormat, w.Start, w.End, SlotMinutes)
	}
	if start >= end {
		return 0, 0, fmt.Errorf("%w: window %s-%s ends before it starts", ErrRange, w.Start, w.End)
	}
	return start / SlotMinutes, end / SlotMinutes, nil
}

func checkIndex(idx int) error {
	if idx < 0 || idx >= SlotsPerDay {
		return fmt.Errorf("%w: index %d outside [0,%d]", ErrRange, idx, SlotsPerDay-1)
	}
	return nil
}

func validatePair(a, b []byte) error {
	if err := Validate(a); err != nil {
		return err
	}
	return Validate(b)
}
