package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// cardSpec is a parsed mixer device name: either a card index or a card id
// that still has to be looked up.
type cardSpec struct {
	Index int
	ID    string
}

// parseDeviceName accepts "default", "hw:N", "hw:ID", "hw:CARD=ID" or "hw:CARD=N",
// and a bare card index. Extra ",DEV=..." style arguments are ignored: mixer
// controls belong to the card.
func parseDeviceName(name string) (cardSpec, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "" || name == "default":
		return cardSpec{Index: 0}, nil
	case strings.HasPrefix(name, "hw:"):
		name = strings.TrimPrefix(name, "hw:")
	default:
		if n, err := strconv.Atoi(name); err == nil && n >= 0 {
			return cardSpec{Index: n}, nil
		}
		return cardSpec{}, errors.Errorf("unsupported mixer device %q (want hw:N or hw:CARD=ID)", name)
	}

	arg, _, _ := strings.Cut(name, ",")
	arg = strings.TrimPrefix(arg, "CARD=")
	if arg == "" {
		return cardSpec{}, errors.Errorf("missing card in mixer device %q", "hw:"+name)
	}
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 0 {
			return cardSpec{}, errors.Errorf("negative card index %d", n)
		}
		return cardSpec{Index: n}, nil
	}
	return cardSpec{Index: -1, ID: arg}, nil
}

// splitControlName splits "Name,index" into its parts. A missing or non-numeric
// suffix means index 0 and the whole string is the name.
func splitControlName(s string) (string, uint32) {
	i := strings.LastIndexByte(s, ',')
	if i < 0 {
		return s, 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s[i+1:]), 10, 32)
	if err != nil {
		return s, 0
	}
	return s[:i], uint32(n)
}

// controlCandidates lists the element names a simple control name can refer to,
// in lookup order.
func controlCandidates(name string) []string {
	return []string{
		name + " Playback Volume",
		name + " Volume",
		name,
	}
}
