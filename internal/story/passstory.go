package story

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrBadSlotCount reports a story with the wrong number of slots.
var ErrBadSlotCount = errors.New("pass story must have exactly 23 slots")

// ErrEmptySlot reports a slot that normalizes to nothing.
var ErrEmptySlot = errors.New("pass story slot is empty")

// PassStory is a validated, normalized 23-slot narrative.
type PassStory struct {
	slots [SlotCount]string
}

// NormalizeSlot canonicalizes a raw slot: NFC, lowercase, trimmed, interior
// whitespace collapsed to single spaces.
func NormalizeSlot(raw string) string {
	s := norm.NFC.String(raw)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// FromRaw normalizes raw slot strings into a PassStory.
func FromRaw(raw []string) (*PassStory, error) {
	if len(raw) != SlotCount {
		return nil, fmt.Errorf("%w: got %d", ErrBadSlotCount, len(raw))
	}
	var ps PassStory
	for i, r := range raw {
		n := NormalizeSlot(r)
		if n == "" {
			return nil, fmt.Errorf("%w: slot %d", ErrEmptySlot, i)
		}
		ps.slots[i] = n
	}
	return &ps, nil
}

// Slots returns the normalized slots.
func (p *PassStory) Slots() []string {
	out := make([]string, SlotCount)
	copy(out, p.slots[:])
	return out
}

// Canonical returns the canonical encoding: for each slot, a 16-bit
// big-endian length prefix followed by the slot's UTF-8 bytes.
func (p *PassStory) Canonical() ([]byte, error) {
	var buf []byte
	for i, s := range p.slots {
		b := []byte(s)
		if len(b) > 0xFFFF {
			return nil, fmt.Errorf("slot %d exceeds canonical length limit", i)
		}
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(b)))
		buf = append(buf, l[:]...)
		buf = append(buf, b...)
	}
	return buf, nil
}

// Render lays the slots into the template for confirmation display.
func (p *PassStory) Render() string {
	tmpl := DefaultTemplate()
	var sb strings.Builder
	idx := 0
	for _, stage := range tmpl.Stages {
		args := make([]any, stage.SlotCount)
		for i := 0; i < stage.SlotCount; i++ {
			args[i] = p.slots[idx]
			idx++
		}
		sb.WriteString(fmt.Sprintf(stage.Template, args...))
		sb.WriteString(". ")
	}
	return strings.TrimSpace(sb.String())
}
